package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/tender-engine/platform/go/auth"
	"github.com/zenGate-Global/tender-engine/platform/go/gcp"
)

// buildAuthMiddleware constructs the JWT middleware for the configured identity provider.
// The returned stop func releases background key refresh, if any.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) (func(http.Handler) http.Handler, func()) {
	stop := func() {}

	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		var creds *string
		if cfg.FirebaseCredentialsFile != "" {
			creds = &cfg.FirebaseCredentialsFile
		}
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseProjectID, creds)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "jwks":
		if cfg.JWKSURL == "" {
			logger.Fatal("JWKS_URL required when AUTH_PROVIDER=jwks")
		}
		v, end, err := platformauth.JWKSTokenVerifier(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			logger.Fatal("init jwks verifier", zap.Error(err))
		}
		verify, stop = v, end
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	return platformauth.JWT(verify, tenantClaimExtractor), stop
}

// tenantClaimExtractor requires the tenant claim to be the tenant UUID.
func tenantClaimExtractor(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
	creds, err := platformauth.DefaultCredentialExtractor(claims)
	if err != nil {
		return nil, err
	}
	if creds.TenantID == nil || *creds.TenantID == "" {
		return nil, errors.New("tenant claim required")
	}
	tid, err := uuid.Parse(*creds.TenantID)
	if err != nil || tid == uuid.Nil {
		return nil, errors.New("tenant claim must be a tenant id")
	}
	idStr := tid.String()
	creds.TenantID = &idStr
	return creds, nil
}
