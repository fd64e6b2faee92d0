package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос (method, path, status, время выполнения) и пишет гистограмму латентности.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		status := strconv.Itoa(rec.status)
		metrics.HTTPDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+status, start)
	})
}
