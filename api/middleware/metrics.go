package middleware

import (
	"net/http"
	"time"

	"github.com/pointsledger/loyalty-backend/pkg/metrics"
)

// Metrics times every request. It records the chi route pattern, not the
// raw path, so path parameters do not explode label cardinality.
func Metrics(httpMetrics *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpMetrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			httpMetrics.Observe(r.Method, routePattern(r), rec.status, time.Since(start))
		})
	}
}
