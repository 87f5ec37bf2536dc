package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrMissingSpace is returned when a tenant-scoped operation runs without a resolved tenant.
var ErrMissingSpace = errors.New("tenant space missing from context")

// Space captures the resolved tenant routing metadata for a request or job.
type Space struct {
	TenantID   uuid.UUID
	BasePrefix string
}

type ctxKey string

const spaceKey ctxKey = "TENDER_ENGINE_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	space, ok := ctx.Value(spaceKey).(Space)
	return space, ok
}

// Require returns the tenant Space or ErrMissingSpace.
func Require(ctx context.Context) (Space, error) {
	space, ok := FromContext(ctx)
	if !ok || space.TenantID == uuid.Nil {
		return Space{}, ErrMissingSpace
	}
	return space, nil
}
