package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httplog"
)

// rateLimit charges one run to the caller's address. Limiter failures let
// the request through.
func (h *handlers) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		now := h.now()
		d, err := h.limiter.Allow(r.Context(), "ip:"+clientIP(r), now)
		if err != nil {
			l := httplog.LogEntry(r.Context())
			l.Error().Err(err).Msg("rate limiter failed")
			next.ServeHTTP(w, r)
			return
		}
		if d.Limit > 0 {
			remaining := d.Limit - d.Used
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if !d.Allowed {
			h.metrics.RateLimited.Inc()
			retryAfter := int(d.ResetAt.Sub(now).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, errorCodeRateLimited,
				"rate limit exceeded, try again after "+d.ResetAt.Format("15:04 UTC"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
