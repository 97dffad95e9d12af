package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/apperr"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/metrics"
	"sar/internal/model"
)

// stubStore implements Store by embedding it; unstubbed methods panic.
type stubStore struct {
	Store
	pingErr error
}

func (s stubStore) Ping(context.Context) error { return s.pingErr }

func (s stubStore) ListSchedules(context.Context, model.ScheduleFilter) ([]model.Schedule, error) {
	return []model.Schedule{{ID: 1, Period: "07-2025"}}, nil
}

func (s stubStore) ListPics(context.Context, model.PicFilter) ([]model.PicUser, error) {
	panic("boom")
}

type staticVerifier struct{}

func (staticVerifier) Authenticate(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, apperr.ErrUnauthenticated
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"}, Role: model.RoleAdmin}, nil
}

func newRouter(t *testing.T, store Store) (http.Handler, *metrics.Metrics, *prometheus.Registry) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m := metrics.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	buf, err := audit.NewBuffer(audit.Config{
		Sender: audit.SenderFunc(func(context.Context, []model.AuditLogEntry) error { return nil }),
		Logger: logger,
	})
	require.NoError(t, err)
	h := Routes(Deps{
		Store:    store,
		Verifier: staticVerifier{},
		Audit:    buf,
		Metrics:  m,
		Gatherer: reg,
		Clock:    clockwork.NewFakeClock(),
		Logger:   logger,
		Version:  "test",
	})
	return h, m, reg
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _, _ := newRouter(t, stubStore{})
	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	h, _, _ = newRouter(t, stubStore{pingErr: errors.New("down")})
	rec = serve(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutesRecordMetricsByPattern(t *testing.T) {
	h, _, reg := newRouter(t, stubStore{})

	rec := serve(h, http.MethodGet, "/sar/schedules?period=07-2025", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Status bool             `json:"status"`
		Data   []model.Schedule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Status)
	assert.Len(t, env.Data, 1)

	rec = serve(h, http.MethodGet, "/sar/schedules", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	n, err := testutil.GatherAndCount(reg, metrics.MetricHTTPRequests)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec = serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /sar/schedules"`)
}

func TestUnknownAPIPath(t *testing.T) {
	h, _, _ := newRouter(t, stubStore{})
	rec := serve(h, http.MethodGet, "/sar/nothing-here", "good")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NOT_FOUND"`)
}

func TestStaticAssets(t *testing.T) {
	h, _, _ := newRouter(t, stubStore{})
	rec := serve(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestRecoverPanics(t *testing.T) {
	h, _, _ := newRouter(t, stubStore{})
	rec := serve(h, http.MethodGet, "/sar/pic", "good")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newStatusRecorder(rec)
	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("hi"))
	assert.Equal(t, http.StatusTeapot, rw.status)
	assert.Equal(t, 2, rw.size)

	rw = newStatusRecorder(httptest.NewRecorder())
	_, _ = rw.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rw.status)
}

type countingPurger struct {
	calls atomic.Int32
	done  chan struct{}
}

func (p *countingPurger) PurgeExpiredSessions(context.Context, time.Time) (int64, error) {
	if p.calls.Add(1) == 2 {
		close(p.done)
	}
	return 1, nil
}

func TestPurgeSessionsRunsOnStartAndTick(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clock := clockwork.NewFakeClock()
	p := &countingPurger{done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go purgeSessions(ctx, p, clock, time.Hour, logger)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), p.calls.Load())
	clock.Advance(time.Hour)

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("second purge did not run")
	}
}
