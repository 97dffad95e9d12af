package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/metrics"
	"sar/internal/response"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// route is the matched mux pattern, which keeps metric labels bounded.
func route(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// instrument logs every request and records it in the HTTP metrics. The
// pattern is read after the mux has routed the request.
func instrument(next http.Handler, m *metrics.Metrics, log logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newStatusRecorder(w)
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		m.ObserveHTTP(r.Method, route(r), rw.status, elapsed)

		entry := log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.status,
			"bytes":       rw.size,
			"duration_ms": elapsed.Milliseconds(),
			"remote":      r.RemoteAddr,
		})
		switch {
		case rw.status >= http.StatusInternalServerError:
			entry.Error("request completed")
		case rw.status >= http.StatusBadRequest:
			entry.Warn("request completed")
		default:
			entry.Debug("request completed")
		}
	})
}

// recoverPanics turns a handler panic into a 500 envelope.
func recoverPanics(next http.Handler, log logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(logrus.Fields{
					"panic":  rec,
					"method": r.Method,
					"path":   r.URL.Path,
				}).Error("handler panicked")
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
