package handler

import (
	"context"
	"net/http"
	"strconv"
)

type ctxKey int

const userKey ctxKey = iota

// WithUser records the resolved caller id on the context. Identity is always
// carried as an explicit per-request value; nothing here is goroutine-bound,
// so reuse across requests cannot leak a caller id.
func WithUser(ctx context.Context, userID uint64) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFromContext returns the caller id, or ok=false for anonymous requests.
func UserFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(userKey).(uint64)
	return id, ok
}

// ResolveIdentity resolves the caller from the X-User-Id header. Token
// verification happens upstream at the gateway; an absent or malformed header
// leaves the request anonymous rather than failing it.
func ResolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-User-Id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id != 0 {
				r = r.WithContext(WithUser(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
