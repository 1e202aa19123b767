package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig configures bearer/API-key authentication (spec.md §4.5: "a
// supplemental hardening layer the distillation is silent on, disabled by
// default to match the spec precisely").
type AuthConfig struct {
	Enabled bool
	Keys    []string
}

type authContextKey struct{}

// authMiddleware validates API keys with a constant-time comparison,
// adapted from the teacher's gateway/auth.go.
type authMiddleware struct {
	cfg AuthConfig
}

func newAuthMiddleware(cfg AuthConfig) *authMiddleware {
	return &authMiddleware{cfg: cfg}
}

func (am *authMiddleware) wrap(next http.Handler) http.Handler {
	if !am.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a2a/health" || r.URL.Path == "/.well-known/agent.json" {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		if key == "" {
			http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		if !am.validKey(key) {
			http.Error(w, `{"error":"invalid API key"}`, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (am *authMiddleware) validKey(candidate string) bool {
	for _, k := range am.cfg.Keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// extractAPIKey checks, in order: Authorization: Bearer <key>, X-API-Key
// header, api_key query param (the last makes SSE endpoints reachable
// from clients that cannot set headers).
func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
