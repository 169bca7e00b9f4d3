package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/fdfsweb/gateway/internal/response"
)

// RateLimit rejects requests beyond qps per second with 429. The bucket
// holds qps tokens so short bursts pass. qps <= 0 disables the limit.
func RateLimit(qps int) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(qps), qps)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				response.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
