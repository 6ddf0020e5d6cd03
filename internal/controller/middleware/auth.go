package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"uploadplane/internal/auth"
	"uploadplane/internal/client"
)

// APIKeyHeader carries the caller's API key on public mutating routes.
const APIKeyHeader = "Api-Key"

// callerKey is the context key for the hash of the caller's API key.
type callerKey struct{}

// RequireAPIKey rejects requests whose Api-Key header is not in keys.
// The accepted key's hash is stored in the request context.
func RequireAPIKey(keys *auth.KeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing "+APIKeyHeader+" header")
				return
			}
			hash, ok := keys.Match(key)
			if !ok {
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContextWithCaller(r.Context(), hash)))
		})
	}
}

// NewContextWithCaller stores the caller identity in ctx.
func NewContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller identity set by RequireAPIKey.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok && caller != ""
}

// RequireInternalAuth ensures the request carries the shared secret that
// batch jobs use to report back.
func RequireInternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(client.InternalKeyHeader)
			if token == "" {
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing "+client.InternalKeyHeader+" header")
				return
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid internal key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
