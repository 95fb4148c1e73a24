// Package middleware holds the gateway's HTTP middleware chain.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/observability"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// WriteDetail writes the error body every endpoint uses:
// {"detail": "..."}.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// Auth validates the x-api-key header against a static allowlist.
// Missing and invalid keys both answer 401; the two cases carry
// distinct detail strings. Key material is only ever logged redacted.
func Auth(allowlist []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, key := range allowlist {
		allowed[key] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("x-api-key")
			if apiKey == "" {
				log.Logger.Warn().Msg("missing API key in request")
				observability.AuthFailures.Inc()
				WriteDetail(w, http.StatusUnauthorized, "Missing API key")
				return
			}
			if _, ok := allowed[apiKey]; !ok {
				log.Logger.Warn().Str("api_key", log.RedactKey(apiKey)).Msg("invalid API key")
				observability.AuthFailures.Inc()
				WriteDetail(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyFromContext returns the authenticated key, or "".
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}

// CORS allows cross-origin access to the whole surface.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument observes request duration per endpoint, method and
// status code.
func Instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.APIRequestDuration.
			WithLabelValues(endpoint, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
