package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// MessageType names a control message.
type MessageType string

const (
	ClearAllCaches           MessageType = "clearAllCaches"
	GetCacheStats            MessageType = "getCacheStats"
	PreloadCriticalResources MessageType = "preloadCriticalResources"
	SkipWaiting              MessageType = "skipWaiting"
)

type Message struct {
	Type MessageType `json:"type"`
	// URLs extends the critical resources for a preload.
	URLs []string `json:"urls,omitempty"`
}

type CacheStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

type Reply struct {
	Type    MessageType  `json:"type"`
	Version string       `json:"version"`
	Caches  []CacheStats `json:"caches,omitempty"`
	// Preloaded counts resources stored by a preload; Failed lists the
	// ones that could not be fetched.
	Preloaded int      `json:"preloaded,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

var ErrUnknownMessage = errors.New("offline: unknown control message")

// Control handles one control message.
func (t *Transport) Control(ctx context.Context, msg Message) (Reply, error) {
	switch msg.Type {
	case ClearAllCaches:
		t.mu.Lock()
		n := len(t.caches)
		clear(t.caches)
		t.mu.Unlock()
		t.log.WithField("caches", n).Info("all caches cleared")
	case GetCacheStats:
		return Reply{Type: msg.Type, Version: t.Version(), Caches: t.Stats()}, nil
	case PreloadCriticalResources:
		loaded, failed := t.preload(ctx, append(append([]string(nil), t.critical...), msg.URLs...))
		return Reply{Type: msg.Type, Version: t.Version(), Preloaded: loaded, Failed: failed}, nil
	case SkipWaiting:
		t.activate()
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return Reply{Type: msg.Type, Version: t.Version()}, nil
}

// Stats lists every live cache, sorted by name.
func (t *Transport) Stats() []CacheStats {
	t.mu.Lock()
	caches := make([]*cache, 0, len(t.caches))
	for _, c := range t.caches {
		caches = append(caches, c)
	}
	t.mu.Unlock()

	out := make([]CacheStats, 0, len(caches))
	for _, c := range caches {
		out = append(out, c.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// activate switches to the pending version and drops caches of every other
// version.
func (t *Transport) activate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == "" {
		return
	}
	old := t.version
	t.version, t.pending = t.pending, ""
	suffix := "-" + t.version
	for name := range t.caches {
		if !strings.HasSuffix(name, suffix) {
			delete(t.caches, name)
		}
	}
	t.log.WithFields(logrus.Fields{"from": old, "to": t.version}).Info("cache version activated")
}

func (t *Transport) resolve(u string) string {
	if strings.HasPrefix(u, "/") {
		return t.origin + u
	}
	return u
}

// preload stores each URL in the cache its strategy reads from. Failures do
// not stop the remaining fetches.
func (t *Transport) preload(ctx context.Context, urls []string) (int, []string) {
	loaded := 0
	var failed []string
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.resolve(u), nil)
		if err != nil {
			failed = append(failed, u)
			continue
		}
		resp, err := t.fetch(req, t.cache(kindFor(t.StrategyFor(req))))
		if err != nil {
			failed = append(failed, u)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			failed = append(failed, u)
			continue
		}
		loaded++
	}
	return loaded, failed
}
