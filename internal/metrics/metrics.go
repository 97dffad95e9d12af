// Package metrics holds the Prometheus collectors shared by the cache, the
// audit buffer and the HTTP layer. Every method is a no-op on a nil
// *Metrics, so components can run without instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricCacheRequests      = "sar_cache_requests_total"
	MetricCacheEvictions     = "sar_cache_evictions_total"
	MetricAuditRecorded      = "sar_audit_entries_recorded_total"
	MetricAuditRejected      = "sar_audit_entries_rejected_total"
	MetricAuditFlushed       = "sar_audit_entries_flushed_total"
	MetricAuditRequeued      = "sar_audit_entries_requeued_total"
	MetricAuditDropped       = "sar_audit_entries_dropped_total"
	MetricAuditFlushFailures = "sar_audit_flush_failures_total"
	MetricAuditPending       = "sar_audit_entries_pending"
	MetricLoginAttempts      = "sar_login_attempts_total"
	MetricHTTPRequests       = "sar_http_requests_total"
	MetricHTTPDuration       = "sar_http_request_duration_seconds"
)

type Metrics struct {
	cacheRequests      *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	auditRecorded      prometheus.Counter
	auditRejected      prometheus.Counter
	auditFlushed       prometheus.Counter
	auditRequeued      prometheus.Counter
	auditDropped       prometheus.Counter
	auditFlushFailures prometheus.Counter
	auditPending       prometheus.Gauge
	loginAttempts      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheRequests,
			Help: "TTL cache lookups by cache name and result (hit, miss)",
		}, []string{"cache", "result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheEvictions,
			Help: "Entries evicted from a TTL cache by reason (expired, invalidated, cleared)",
		}, []string{"cache", "reason"}),
		auditRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditRecorded,
			Help: "Audit entries accepted into the buffer",
		}),
		auditRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditRejected,
			Help: "Audit entries rejected because they lack an action or outcome",
		}),
		auditFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditFlushed,
			Help: "Audit entries delivered by a successful flush",
		}),
		auditRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditRequeued,
			Help: "Audit entries put back into the buffer after a failed flush",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditDropped,
			Help: "Audit entries discarded after a failed flush or buffer overflow",
		}),
		auditFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditFlushFailures,
			Help: "Flush attempts whose delivery failed",
		}),
		auditPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricAuditPending,
			Help: "Audit entries currently waiting in the buffer",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLoginAttempts,
			Help: "Login attempts by result (success, invalid, locked)",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequests,
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPDuration,
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"method", "route"}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.cacheRequests,
		m.cacheEvictions,
		m.auditRecorded,
		m.auditRejected,
		m.auditFlushed,
		m.auditRequeued,
		m.auditDropped,
		m.auditFlushFailures,
		m.auditPending,
		m.loginAttempts,
		m.httpRequests,
		m.httpDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

func (m *Metrics) CacheEvicted(cache, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
}

func (m *Metrics) AuditRecorded() {
	if m == nil {
		return
	}
	m.auditRecorded.Inc()
}

func (m *Metrics) AuditRejected() {
	if m == nil {
		return
	}
	m.auditRejected.Inc()
}

func (m *Metrics) AuditFlushed(n int) {
	if m == nil {
		return
	}
	m.auditFlushed.Add(float64(n))
}

func (m *Metrics) AuditFlushFailed(requeued, dropped int) {
	if m == nil {
		return
	}
	m.auditFlushFailures.Inc()
	m.auditRequeued.Add(float64(requeued))
	m.auditDropped.Add(float64(dropped))
}

func (m *Metrics) AuditDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.auditDropped.Add(float64(n))
}

func (m *Metrics) AuditPending(n int) {
	if m == nil {
		return
	}
	m.auditPending.Set(float64(n))
}

func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
