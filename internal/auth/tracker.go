package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AttemptTracker counts consecutive failed logins per username and locks
// the username once the threshold is reached.
type AttemptTracker interface {
	// Locked reports whether username is locked and for how much longer.
	Locked(ctx context.Context, username string) (bool, time.Duration, error)
	// Fail records a failed attempt and reports whether it caused a lock.
	Fail(ctx context.Context, username string) (bool, error)
	// Reset clears the failure count after a successful login.
	Reset(ctx context.Context, username string) error
}

func trackerKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type memoryAttempt struct {
	failures    int
	lockedUntil time.Time
}

// MemoryTracker keeps attempt state in process memory. State is lost on
// restart and is not shared between replicas.
type MemoryTracker struct {
	maxAttempts int
	lockout     time.Duration
	clock       clockwork.Clock

	mu       sync.Mutex
	attempts map[string]*memoryAttempt
}

func NewMemoryTracker(maxAttempts int, lockout time.Duration, clock clockwork.Clock) *MemoryTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryTracker{
		maxAttempts: maxAttempts,
		lockout:     lockout,
		clock:       clock,
		attempts:    make(map[string]*memoryAttempt),
	}
}

func (t *MemoryTracker) Locked(_ context.Context, username string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attempts[trackerKey(username)]
	if !ok || a.lockedUntil.IsZero() {
		return false, 0, nil
	}
	remaining := a.lockedUntil.Sub(t.clock.Now())
	if remaining <= 0 {
		delete(t.attempts, trackerKey(username))
		return false, 0, nil
	}
	return true, remaining, nil
}

func (t *MemoryTracker) Fail(_ context.Context, username string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey(username)
	a, ok := t.attempts[key]
	if !ok {
		a = &memoryAttempt{}
		t.attempts[key] = a
	}
	a.failures++
	if a.failures >= t.maxAttempts {
		a.failures = 0
		a.lockedUntil = t.clock.Now().Add(t.lockout)
		return true, nil
	}
	return false, nil
}

func (t *MemoryTracker) Reset(_ context.Context, username string) error {
	t.mu.Lock()
	delete(t.attempts, trackerKey(username))
	t.mu.Unlock()
	return nil
}

// RedisTracker stores attempt counters and locks in Redis so every replica
// sees the same state. Counters live under "<prefix>attempts:<user>" and
// locks under "<prefix>locked:<user>"; both expire on their own.
type RedisTracker struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
	lockout     time.Duration
	log         logrus.FieldLogger
}

func NewRedisTracker(client redis.UniversalClient, maxAttempts int, lockout time.Duration, logger logrus.FieldLogger) *RedisTracker {
	return &RedisTracker{
		client:      client,
		prefix:      "sar:login:",
		maxAttempts: maxAttempts,
		lockout:     lockout,
		log:         logger,
	}
}

func (t *RedisTracker) attemptsKey(username string) string {
	return t.prefix + "attempts:" + trackerKey(username)
}

func (t *RedisTracker) lockKey(username string) string {
	return t.prefix + "locked:" + trackerKey(username)
}

func (t *RedisTracker) Locked(ctx context.Context, username string) (bool, time.Duration, error) {
	ttl, err := t.client.PTTL(ctx, t.lockKey(username)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("auth.RedisTracker pttl: %w", err)
	}
	// -2: no key, -1: key without expiry (treated as unlocked).
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

func (t *RedisTracker) Fail(ctx context.Context, username string) (bool, error) {
	key := t.attemptsKey(username)
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// The counter window equals the lockout so stale failures age out.
	pipe.Expire(ctx, key, t.lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("auth.RedisTracker incr: %w", err)
	}
	if incr.Val() < int64(t.maxAttempts) {
		return false, nil
	}

	pipe = t.client.TxPipeline()
	pipe.Set(ctx, t.lockKey(username), time.Now().Unix(), t.lockout)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("auth.RedisTracker lock: %w", err)
	}
	t.log.WithFields(logrus.Fields{
		"username": username,
		"duration": t.lockout,
	}).Warn("account locked after repeated failed logins")
	return true, nil
}

func (t *RedisTracker) Reset(ctx context.Context, username string) error {
	if err := t.client.Del(ctx, t.attemptsKey(username)).Err(); err != nil {
		return fmt.Errorf("auth.RedisTracker reset: %w", err)
	}
	return nil
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("auth: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("auth: connect to redis: %w", err)
	}
	return client, nil
}
