// Package audit buffers audit log entries in memory and ships them to a
// Sender in batches. Delivery is best effort: a failed batch is partly
// requeued and partly dropped, and nothing is persisted locally.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"sar/internal/metrics"
	"sar/internal/model"
)

const (
	DefaultMaxBufferSize = 100
	DefaultRetryLimit    = 50
	DefaultFlushInterval = 30 * time.Second

	// drainTimeout bounds the final flush performed when Run stops.
	drainTimeout = 5 * time.Second
)

// Sender delivers a batch of entries. A nil error confirms delivery of the
// whole batch.
type Sender interface {
	SendAudit(ctx context.Context, entries []model.AuditLogEntry) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, entries []model.AuditLogEntry) error

func (f SenderFunc) SendAudit(ctx context.Context, entries []model.AuditLogEntry) error {
	return f(ctx, entries)
}

type Config struct {
	Sender Sender

	// MaxBufferSize is the occupancy that signals an early flush.
	MaxBufferSize int

	// RetryLimit is how many entries of a failed batch go back to the
	// front of the buffer. The rest of the batch is dropped. The live
	// buffer never holds more than MaxBufferSize+RetryLimit entries.
	RetryLimit int

	FlushInterval time.Duration

	// SessionID is stamped on entries built with NewEntry. Generated when
	// empty.
	SessionID string

	Clock   clockwork.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

type Buffer struct {
	sender        Sender
	maxSize       int
	retryLimit    int
	flushInterval time.Duration
	sessionID     string
	clock         clockwork.Clock
	log           logrus.FieldLogger
	metrics       *metrics.Metrics

	mu      sync.Mutex
	entries []model.AuditLogEntry

	// sendMu keeps at most one batch in flight.
	sendMu sync.Mutex

	full chan struct{}
	done chan struct{}
}

func NewBuffer(cfg Config) (*Buffer, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("audit: Sender is required")
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.RetryLimit < 0 || cfg.RetryLimit > cfg.MaxBufferSize {
		return nil, fmt.Errorf("audit: RetryLimit must be between 0 and MaxBufferSize")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Buffer{
		sender:        cfg.Sender,
		maxSize:       cfg.MaxBufferSize,
		retryLimit:    cfg.RetryLimit,
		flushInterval: cfg.FlushInterval,
		sessionID:     cfg.SessionID,
		clock:         cfg.Clock,
		log:           cfg.Logger.WithField("component", "audit"),
		metrics:       cfg.Metrics,
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}, nil
}

func (b *Buffer) SessionID() string { return b.sessionID }

// Record appends entry to the buffer. It never blocks on I/O and never
// fails: invalid entries are logged and discarded. Reaching MaxBufferSize
// signals the Run loop to flush early.
func (b *Buffer) Record(entry model.AuditLogEntry) {
	if b == nil {
		return
	}
	if !entry.Valid() {
		b.metrics.AuditRejected()
		b.log.WithFields(logrus.Fields{
			"action":  entry.Action,
			"outcome": entry.Outcome,
		}).Warn("discarding audit entry without action or valid outcome")
		return
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	dropped := 0
	if limit := b.maxSize + b.retryLimit; len(b.entries) > limit {
		dropped = len(b.entries) - limit
		b.entries = append([]model.AuditLogEntry(nil), b.entries[dropped:]...)
	}
	n := len(b.entries)
	b.mu.Unlock()

	b.metrics.AuditRecorded()
	b.metrics.AuditDropped(dropped)
	b.metrics.AuditPending(n)
	if dropped > 0 {
		b.log.WithField("dropped", dropped).Warn("audit buffer overflow, oldest entries dropped")
	}

	if n >= b.maxSize {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// Len is the number of entries waiting for delivery.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush sends everything currently buffered as one batch. The buffer is
// swapped out before the send so entries recorded meanwhile are neither
// lost nor sent twice. On failure the first RetryLimit entries of the
// batch are put back ahead of anything recorded since and the remainder is
// dropped. If that overfills the buffer the oldest entries go too. The
// delivery error is returned.
func (b *Buffer) Flush(ctx context.Context) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := b.sender.SendAudit(ctx, batch); err != nil {
		keep := min(len(batch), b.retryLimit)

		b.mu.Lock()
		requeued := make([]model.AuditLogEntry, 0, keep+len(b.entries))
		requeued = append(requeued, batch[:keep]...)
		requeued = append(requeued, b.entries...)
		overflow := 0
		if limit := b.maxSize + b.retryLimit; len(requeued) > limit {
			overflow = len(requeued) - limit
			requeued = requeued[overflow:]
		}
		b.entries = requeued
		n := len(b.entries)
		b.mu.Unlock()

		dropped := len(batch) - keep
		b.metrics.AuditFlushFailed(keep, dropped)
		b.metrics.AuditDropped(overflow)
		b.metrics.AuditPending(n)
		b.log.WithError(err).WithFields(logrus.Fields{
			"batch":    len(batch),
			"requeued": keep,
			"dropped":  dropped + overflow,
		}).Error("audit flush failed")
		return fmt.Errorf("audit.Flush send %d entries: %w", len(batch), err)
	}

	b.metrics.AuditFlushed(len(batch))
	b.metrics.AuditPending(b.Len())
	b.log.WithField("count", len(batch)).Debug("audit entries flushed")
	return nil
}

// Run flushes every FlushInterval and whenever Record signals a full
// buffer, until ctx is cancelled. It then makes one last flush with a
// short deadline and closes Done. Must be called once.
func (b *Buffer) Run(ctx context.Context) {
	defer close(b.done)

	ticker := b.clock.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			_ = b.Flush(ctx)
		case <-b.full:
			_ = b.Flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			if err := b.Flush(drainCtx); err != nil {
				b.log.WithField("lost", b.Len()).Warn("final audit flush failed")
			}
			cancel()
			return
		}
	}
}

// Done is closed once Run has returned, final flush included.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}
