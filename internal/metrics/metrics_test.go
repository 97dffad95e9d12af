package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	// A second registration of the same collectors must fail.
	assert.Error(t, m.Register(reg))
}

func TestCounters(t *testing.T) {
	m := New()

	m.CacheHit("progress")
	m.CacheHit("progress")
	m.CacheMiss("progress")
	m.CacheEvicted("progress", "expired", 3)
	m.AuditRecorded()
	m.AuditFlushFailed(50, 10)
	m.AuditDropped(2)
	m.AuditPending(7)
	m.LoginAttempt("locked")
	m.ObserveHTTP(http.MethodGet, "/sar/schedules", http.StatusOK, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("progress", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("progress", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheEvictions.WithLabelValues("progress", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditRecorded))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.auditRequeued))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.auditDropped))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.auditPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/sar/schedules", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit("x")
		m.CacheMiss("x")
		m.CacheEvicted("x", "expired", 1)
		m.AuditRecorded()
		m.AuditRejected()
		m.AuditFlushed(1)
		m.AuditFlushFailed(1, 1)
		m.AuditDropped(1)
		m.AuditPending(1)
		m.LoginAttempt("success")
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}
