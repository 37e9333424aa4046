package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses path parameters to avoid high label cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/conversations/") && strings.HasSuffix(path, "/messages"):
		return "/conversations/:id/messages"
	case strings.HasPrefix(path, "/conversations/") && strings.Contains(path, "/members"):
		return "/conversations/:id/members"
	case strings.HasPrefix(path, "/conversations/") && len(path) > len("/conversations/"):
		return "/conversations/:id"
	case strings.HasSuffix(path, "/read") && strings.HasPrefix(path, "/messages/"):
		return "/messages/:id/read"
	case strings.HasPrefix(path, "/messages/") && len(path) > len("/messages/"):
		return "/messages/:id"
	case strings.HasPrefix(path, "/users/") && strings.HasSuffix(path, "/conversations"):
		return "/users/:id/conversations"
	}
	return path
}
