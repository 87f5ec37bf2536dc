package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	platformauth "github.com/zenGate-Global/tender-engine/platform/go/auth"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// Config controls middleware behavior.
type Config struct {
	EnvKey string
}

// WithTenantSpace resolves the tenant from verified credentials and attaches tenant.Space to context.
// The tenant claim must be the tenant UUID; every downstream query is scoped by it.
func WithTenantSpace(cfg Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.EnvKey) == "" {
		panic("tenant middleware: envKey is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.TenantID == nil || *creds.TenantID == "" {
				http.Error(w, "tenant required", http.StatusUnauthorized)
				return
			}

			tid, err := uuid.Parse(*creds.TenantID)
			if err != nil || tid == uuid.Nil {
				http.Error(w, "invalid tenant id", http.StatusUnauthorized)
				return
			}

			ctx := tenant.WithSpace(r.Context(), tenant.NewSpace(cfg.EnvKey, tid))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
