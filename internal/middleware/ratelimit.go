package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// agentKey buckets authenticated requests per tenant and agent, so agents behind one
// NAT do not share a budget. Anonymous requests fall back to the client IP.
func agentKey(r *http.Request) (string, error) {
	if agentID := GetUserID(r.Context()); agentID != "" {
		return "agent:" + GetTenantID(r.Context()) + ":" + agentID, nil
	}
	return httprate.KeyByIP(r)
}

// RateLimit allows requestLimit requests per windowLength for each agent.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	retryAfter := int(math.Ceil(windowLength.Seconds()))

	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(agentKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
		}),
	)
}
