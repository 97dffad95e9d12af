// Package offline is an http.RoundTripper that keeps the dashboard usable on
// a flaky connection. Requests are answered from versioned in-memory caches
// according to what they fetch:
//
//   - static assets (by extension): cache first
//   - API reads under /sar/: network first, cached copy when the network fails
//   - everything else (HTML, dynamic GETs): stale-while-revalidate
//
// Non-GET requests always go to the network.
package offline

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"sar/internal/metrics"
)

// CacheHeader tells the caller how a response was produced: "hit", "miss",
// "stale" or "fallback".
const CacheHeader = "X-Sar-Cache"

type Strategy int

const (
	Passthrough Strategy = iota
	CacheFirst
	NetworkFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "passthrough"
	}
}

// Cache kinds. A cache is named "sar-<kind>-<version>".
const (
	KindStatic  = "static"
	KindAPI     = "api"
	KindDynamic = "dynamic"
)

type Config struct {
	// Base performs network requests. Defaults to http.DefaultTransport.
	Base    http.RoundTripper
	Version string
	// Origin is prepended to CriticalResources that are bare paths.
	Origin            string
	CriticalResources []string
	StaticExtensions  []string
	APIPrefix         string

	Clock   clockwork.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

var defaultConfig = Config{
	Version: "v1",
	CriticalResources: []string{
		"/",
		"/index.html",
		"/assets/app.css",
		"/assets/app.js",
	},
	StaticExtensions: []string{
		".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
	},
	APIPrefix: "/sar/",
}

type Transport struct {
	base      http.RoundTripper
	origin    string
	critical  []string
	staticExt []string
	apiPrefix string
	clock     clockwork.Clock
	log       logrus.FieldLogger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	version string
	pending string
	caches  map[string]*cache

	revalidating sync.WaitGroup
}

func NewTransport(cfg Config) (*Transport, error) {
	if err := mergo.Merge(&cfg, defaultConfig); err != nil {
		return nil, fmt.Errorf("offline: apply defaults: %w", err)
	}
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Transport{
		base:      cfg.Base,
		origin:    strings.TrimRight(cfg.Origin, "/"),
		critical:  cfg.CriticalResources,
		staticExt: cfg.StaticExtensions,
		apiPrefix: cfg.APIPrefix,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithField("component", "offline"),
		metrics:   cfg.Metrics,
		version:   cfg.Version,
		caches:    make(map[string]*cache),
	}, nil
}

func cacheName(kind, version string) string {
	return "sar-" + kind + "-" + version
}

// Version is the active cache version.
func (t *Transport) Version() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Install stages version. It becomes active on the next skipWaiting
// message; until then the current caches keep serving.
func (t *Transport) Install(version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if version != t.version {
		t.pending = version
	}
}

func (t *Transport) cache(kind string) *cache {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := cacheName(kind, t.version)
	c, ok := t.caches[name]
	if !ok {
		c = newCache(name)
		t.caches[name] = c
	}
	return c
}

// StrategyFor picks how req is served.
func (t *Transport) StrategyFor(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return Passthrough
	}
	p := req.URL.Path
	if slices.Contains(t.staticExt, strings.ToLower(path.Ext(p))) {
		return CacheFirst
	}
	if strings.HasPrefix(p, t.apiPrefix) {
		return NetworkFirst
	}
	return StaleWhileRevalidate
}

func kindFor(s Strategy) string {
	switch s {
	case CacheFirst:
		return KindStatic
	case NetworkFirst:
		return KindAPI
	default:
		return KindDynamic
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	s := t.StrategyFor(req)
	if s == Passthrough {
		return t.base.RoundTrip(req)
	}
	c := t.cache(kindFor(s))
	switch s {
	case CacheFirst:
		return t.cacheFirst(req, c)
	case NetworkFirst:
		return t.networkFirst(req, c)
	default:
		return t.staleWhileRevalidate(req, c)
	}
}

// fetch performs req and stores a 200 response in c.
func (t *Transport) fetch(req *http.Request, c *cache) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("offline: read %s: %w", req.URL, err)
	}
	c.put(cacheKey(req), stored{
		status:   resp.StatusCode,
		header:   resp.Header.Clone(),
		body:     body,
		storedAt: t.clock.Now(),
	})
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *Transport) cacheFirst(req *http.Request, c *cache) (*http.Response, error) {
	if s, ok := c.get(cacheKey(req)); ok {
		t.metrics.CacheHit(c.name)
		return s.response(req, "hit"), nil
	}
	t.metrics.CacheMiss(c.name)
	resp, err := t.fetch(req, c)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(CacheHeader, "miss")
	return resp, nil
}

func (t *Transport) networkFirst(req *http.Request, c *cache) (*http.Response, error) {
	resp, err := t.fetch(req, c)
	if err == nil {
		resp.Header.Set(CacheHeader, "miss")
		return resp, nil
	}
	if req.Context().Err() != nil {
		return nil, err
	}
	if s, ok := c.get(cacheKey(req)); ok {
		t.metrics.CacheHit(c.name)
		t.log.WithError(err).WithField("url", req.URL.String()).Debug("network failed, serving cached response")
		return s.response(req, "fallback"), nil
	}
	t.metrics.CacheMiss(c.name)
	return nil, err
}

func (t *Transport) staleWhileRevalidate(req *http.Request, c *cache) (*http.Response, error) {
	s, ok := c.get(cacheKey(req))
	if !ok {
		t.metrics.CacheMiss(c.name)
		resp, err := t.fetch(req, c)
		if err != nil {
			return nil, err
		}
		resp.Header.Set(CacheHeader, "miss")
		return resp, nil
	}

	t.metrics.CacheHit(c.name)
	bg := req.Clone(context.WithoutCancel(req.Context()))
	t.revalidating.Add(1)
	go func() {
		defer t.revalidating.Done()
		resp, err := t.fetch(bg, c)
		if err != nil {
			t.log.WithError(err).WithField("url", bg.URL.String()).Debug("background revalidation failed")
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return s.response(req, "stale"), nil
}

// Wait blocks until background revalidations started so far have finished.
func (t *Transport) Wait() {
	t.revalidating.Wait()
}

// cacheKey separates entries per credential so a cached API response is
// never served to a different principal.
func cacheKey(req *http.Request) string {
	key := req.Method + " " + req.URL.String()
	if auth := req.Header.Get("Authorization"); auth != "" {
		sum := blake2b.Sum256([]byte(auth))
		key += " " + hex.EncodeToString(sum[:8])
	}
	return key
}
