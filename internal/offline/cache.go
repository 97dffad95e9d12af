package offline

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

type stored struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
}

// response builds a fresh *http.Response for every caller.
func (s stored) response(req *http.Request, source string) *http.Response {
	h := s.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(CacheHeader, source)
	return &http.Response{
		Status:        http.StatusText(s.status),
		StatusCode:    s.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}

type cache struct {
	name string

	mu      sync.RWMutex
	entries map[string]stored
}

func newCache(name string) *cache {
	return &cache{name: name, entries: make(map[string]stored)}
}

func (c *cache) get(key string) (stored, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *cache) put(key string, s stored) {
	c.mu.Lock()
	c.entries[key] = s
	c.mu.Unlock()
}

func (c *cache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := CacheStats{Name: c.name, Entries: len(c.entries)}
	for _, s := range c.entries {
		st.Bytes += int64(len(s.body))
	}
	return st
}
