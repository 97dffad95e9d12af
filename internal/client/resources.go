package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sar/internal/cache"
	"sar/internal/metrics"
	"sar/internal/model"
)

// CacheOptions configures the list caches of the resource APIs.
type CacheOptions struct {
	TTL     time.Duration
	Options []cache.Option
}

// resource implements the REST conventions shared by every collection:
// GET/POST on the base path, PUT/DELETE on base/<id segments>, and
// PUT on base/<id segments>/status. List results are cached by filter and
// every mutation clears the cache.
type resource[T any] struct {
	c     *Client
	path  string
	cache *cache.Cache[[]T]
}

func newResource[T any](c *Client, name, path string, co CacheOptions) resource[T] {
	return resource[T]{c: c, path: path, cache: cache.New[[]T](name, co.TTL, co.Options...)}
}

func (r resource[T]) list(ctx context.Context, filter any, params url.Values) ([]T, error) {
	key := cache.Key(r.path, filter)
	if items, ok := r.cache.Get(key); ok {
		return items, nil
	}
	var items []T
	if err := r.c.Do(ctx, Request{Method: http.MethodGet, Path: r.path, Params: params}, &items); err != nil {
		return nil, err
	}
	r.cache.Set(key, items)
	return items, nil
}

func (r resource[T]) create(ctx context.Context, item T) (T, error) {
	var out T
	err := r.c.Do(ctx, Request{Method: http.MethodPost, Path: r.path, Body: item}, &out)
	if err == nil {
		r.cache.Clear()
	}
	return out, err
}

func (r resource[T]) update(ctx context.Context, item T, segments ...string) (T, error) {
	var out T
	err := r.c.Do(ctx, Request{Method: http.MethodPut, Path: joinPath(r.path, segments...), Body: item}, &out)
	if err == nil {
		r.cache.Clear()
	}
	return out, err
}

func (r resource[T]) delete(ctx context.Context, segments ...string) error {
	err := r.c.Do(ctx, Request{Method: http.MethodDelete, Path: joinPath(r.path, segments...)}, nil)
	if err == nil {
		r.cache.Clear()
	}
	return err
}

type statusBody struct {
	Status string `json:"status"`
}

func (r resource[T]) setStatus(ctx context.Context, status string, segments ...string) (T, error) {
	var out T
	path := joinPath(r.path, segments...) + "/status"
	err := r.c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: statusBody{Status: status}}, &out)
	if err == nil {
		r.cache.Clear()
	}
	return out, err
}

// Invalidate drops every cached list so the next List goes to the network.
func (r resource[T]) Invalidate() { r.cache.Clear() }

func idSegment(id int64) string { return strconv.FormatInt(id, 10) }

type ScheduleAPI struct {
	resource[model.Schedule]
}

func NewScheduleAPI(c *Client, co CacheOptions) *ScheduleAPI {
	return &ScheduleAPI{newResource[model.Schedule](c, "schedules", "/sar/schedules", co)}
}

func (a *ScheduleAPI) List(ctx context.Context, f model.ScheduleFilter) ([]model.Schedule, error) {
	return a.list(ctx, f, f.Values())
}

func (a *ScheduleAPI) Create(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	return a.create(ctx, s)
}

func (a *ScheduleAPI) Update(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	return a.update(ctx, s, idSegment(s.ID))
}

func (a *ScheduleAPI) Delete(ctx context.Context, id int64) error {
	return a.delete(ctx, idSegment(id))
}

func (a *ScheduleAPI) SetStatus(ctx context.Context, id int64, status string) (model.Schedule, error) {
	return a.setStatus(ctx, status, idSegment(id))
}

// SystemAPI addresses records by systemType/systemCode/validFrom.
type SystemAPI struct {
	resource[model.SystemMaster]
}

func NewSystemAPI(c *Client, co CacheOptions) *SystemAPI {
	return &SystemAPI{newResource[model.SystemMaster](c, "system-master", "/sar/system-master", co)}
}

func (a *SystemAPI) List(ctx context.Context, f model.SystemFilter) ([]model.SystemMaster, error) {
	return a.list(ctx, f, f.Values())
}

func (a *SystemAPI) Create(ctx context.Context, s model.SystemMaster) (model.SystemMaster, error) {
	return a.create(ctx, s)
}

// Update replaces the record stored under key with s. The key is passed
// separately because s may carry a new validFrom.
func (a *SystemAPI) Update(ctx context.Context, key model.SystemKey, s model.SystemMaster) (model.SystemMaster, error) {
	return a.update(ctx, s, key.Segments()...)
}

func (a *SystemAPI) Delete(ctx context.Context, key model.SystemKey) error {
	return a.delete(ctx, key.Segments()...)
}

func (a *SystemAPI) SetStatus(ctx context.Context, key model.SystemKey, status string) (model.SystemMaster, error) {
	return a.setStatus(ctx, status, key.Segments()...)
}

type PicAPI struct {
	resource[model.PicUser]
}

func NewPicAPI(c *Client, co CacheOptions) *PicAPI {
	return &PicAPI{newResource[model.PicUser](c, "pic", "/sar/pic", co)}
}

func (a *PicAPI) List(ctx context.Context, f model.PicFilter) ([]model.PicUser, error) {
	return a.list(ctx, f, f.Values())
}

func (a *PicAPI) Create(ctx context.Context, p model.PicUser) (model.PicUser, error) {
	return a.create(ctx, p)
}

func (a *PicAPI) Update(ctx context.Context, p model.PicUser) (model.PicUser, error) {
	return a.update(ctx, p, idSegment(p.ID))
}

func (a *PicAPI) Delete(ctx context.Context, id int64) error {
	return a.delete(ctx, idSegment(id))
}

// LogAPI is read-only.
type LogAPI struct {
	resource[model.LogEntry]
}

func NewLogAPI(c *Client, co CacheOptions) *LogAPI {
	return &LogAPI{newResource[model.LogEntry](c, "logs", "/sar/logs", co)}
}

func (a *LogAPI) List(ctx context.Context, f model.LogFilter) ([]model.LogEntry, error) {
	return a.list(ctx, f, f.Values())
}

func (a *LogAPI) Get(ctx context.Context, id int64) (model.LogEntry, error) {
	var out model.LogEntry
	err := a.c.Do(ctx, Request{Method: http.MethodGet, Path: joinPath(a.path, idSegment(id))}, &out)
	return out, err
}

// NewAPIs builds every resource API over one client. m may be nil.
func NewAPIs(c *Client, ttl time.Duration, m *metrics.Metrics, extra ...cache.Option) APIs {
	co := CacheOptions{TTL: ttl, Options: append([]cache.Option{cache.WithMetrics(m)}, extra...)}
	return APIs{
		Schedules: NewScheduleAPI(c, co),
		Systems:   NewSystemAPI(c, co),
		Pics:      NewPicAPI(c, co),
		Logs:      NewLogAPI(c, co),
		Progress:  NewProgressAPI(c, co),
		Audit:     NewAuditAPI(c),
	}
}

type APIs struct {
	Schedules *ScheduleAPI
	Systems   *SystemAPI
	Pics      *PicAPI
	Logs      *LogAPI
	Progress  *ProgressAPI
	Audit     *AuditAPI
}
