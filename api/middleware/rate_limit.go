package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pointsledger/loyalty-backend/api/responses"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/logger"
)

// RateLimiterStore is the counter surface the limiter needs from redis.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy bounds how often a caller may hit a route within a window.
// Actor-scoped limits catch abusive accounts; the IP limit is a coarser
// backstop for unauthenticated or multi-account traffic.
type RateLimitPolicy struct {
	Name       string
	Window     time.Duration
	ActorLimit int64
	IPLimit    int64
}

// RedemptionRatePolicy throttles redemption requests. A legitimate user has
// no reason to queue more than a handful per minute.
var RedemptionRatePolicy = RateLimitPolicy{
	Name:       "redemption",
	Window:     time.Minute,
	ActorLimit: 10,
	IPLimit:    30,
}

func RateLimit(store RateLimiterStore, policy RateLimitPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			if policy.IPLimit > 0 {
				scope := policy.Name + ":ip:" + clientIP(r)
				allowed, count, err := store.FixedWindowAllow(ctx, scope, policy.IPLimit, policy.Window)
				if err != nil {
					// Redis being down should not block the write path.
					logError(ctx, logg, "rate limit check failed", err)
				} else if !allowed {
					respondRateLimited(ctx, logg, w, policy, count)
					return
				}
			}

			if policy.ActorLimit > 0 {
				if actor, ok := ActorFromContext(ctx); ok {
					scope := policy.Name + ":actor:" + actor.ID.String()
					allowed, count, err := store.FixedWindowAllow(ctx, scope, policy.ActorLimit, policy.Window)
					if err != nil {
						logError(ctx, logg, "rate limit check failed", err)
					} else if !allowed {
						respondRateLimited(ctx, logg, w, policy, count)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, count int64) {
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").WithDetails(map[string]any{
		"policy":         policy.Name,
		"window_seconds": int(policy.Window.Seconds()),
		"count":          count,
	})
	w.Header().Set("Retry-After", retryAfterSeconds(policy.Window))
	responses.WriteError(ctx, logg, w, err)
}

func retryAfterSeconds(window time.Duration) string {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
