package requesttrace

import (
	"context"
	"errors"

	platformauth "github.com/zenGate-Global/tender-engine/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "TENDER_ENGINE_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for authorization and the audit trail.
// UserID is set only when ActorKind is user.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *string
	TenantID  *string
	IsAdmin   bool
	RequestID string
}

// ActorID is the identifier stamped on audit rows.
func (a AuditInfo) ActorID() string {
	if a.UserID != nil && *a.UserID != "" {
		return *a.UserID
	}
	return string(a.ActorKind)
}

// Privileged reports whether per-tender role checks are bypassed:
// tenant administrators and background system work.
func (a AuditInfo) Privileged() bool {
	return a.IsAdmin || a.ActorKind == ActorKindSystem
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	audit, ok := ctx.Value(ctxAuditInfo).(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromCredentials builds an AuditInfo from authenticated user credentials and a request ID.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Id == "" {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &creds.Id,
		TenantID:  creds.TenantID,
		IsAdmin:   creds.IsAdmin,
		RequestID: requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background work (queue workers, scheduled ingestion, CLI).
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}

// User builds an AuditInfo for a user id without going through credentials.
func User(userID string, isAdmin bool) AuditInfo {
	return AuditInfo{ActorKind: ActorKindUser, UserID: &userID, IsAdmin: isAdmin}
}
