package client

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"sar/internal/cache"
	"sar/internal/model"
)

// ErrSuperseded is returned by a progress fetch that was cancelled because
// a newer one started.
var ErrSuperseded = errors.New("progress fetch superseded by a newer request")

// ProgressAPI fetches UAR progress. Only the latest fetch is allowed to
// complete: starting a new one cancels whatever is still in flight.
type ProgressAPI struct {
	c     *Client
	cache *cache.Cache[[]model.UARProgress]

	mu       sync.Mutex
	seq      uint64
	inFlight context.CancelCauseFunc
}

func NewProgressAPI(c *Client, co CacheOptions) *ProgressAPI {
	return &ProgressAPI{
		c:     c,
		cache: cache.New[[]model.UARProgress]("uar-progress", co.TTL, co.Options...),
	}
}

const progressPath = "/sar/uar-progress"

func (a *ProgressAPI) Fetch(ctx context.Context, f model.ProgressFilter) ([]model.UARProgress, error) {
	key := cache.Key(progressPath, f)
	if rows, ok := a.cache.Get(key); ok {
		a.cancelInFlight()
		return rows, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	a.mu.Lock()
	if a.inFlight != nil {
		a.inFlight(ErrSuperseded)
	}
	a.seq++
	seq := a.seq
	a.inFlight = cancel
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.seq == seq {
			a.inFlight = nil
		}
		a.mu.Unlock()
		cancel(nil)
	}()

	var rows []model.UARProgress
	err := a.c.Do(ctx, Request{Method: http.MethodGet, Path: progressPath, Params: f.Values()}, &rows)
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	a.cache.Set(key, rows)
	return rows, nil
}

// Invalidate forces the next Fetch to reach the backend.
func (a *ProgressAPI) Invalidate() { a.cache.Clear() }

func (a *ProgressAPI) cancelInFlight() {
	a.mu.Lock()
	if a.inFlight != nil {
		a.inFlight(ErrSuperseded)
		a.inFlight = nil
	}
	a.mu.Unlock()
}

// AuditAPI delivers audit batches to the backend and satisfies
// audit.Sender.
type AuditAPI struct {
	c *Client
}

func NewAuditAPI(c *Client) *AuditAPI {
	return &AuditAPI{c: c}
}

type auditBatch struct {
	Entries []model.AuditLogEntry `json:"entries"`
}

func (a *AuditAPI) SendAudit(ctx context.Context, entries []model.AuditLogEntry) error {
	return a.c.Do(ctx, Request{Method: http.MethodPost, Path: "/sar/audit-logs", Body: auditBatch{Entries: entries}}, nil)
}
