package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWKSTokenVerifier validates signed tokens against a remote JWKS, for identity providers other
// than Firebase. The returned stop func ends the background key refresh.
func JWKSTokenVerifier(jwksURL, issuer, audience string) (VerifyFunc, func(), error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load jwks: %w", err)
	}
	return keyfuncVerifier(jwks.Keyfunc, issuer, audience), jwks.EndBackground, nil
}

func keyfuncVerifier(kf jwt.Keyfunc, issuer, audience string) VerifyFunc {
	return func(_ context.Context, token string) (map[string]interface{}, error) {
		parsed, err := jwt.Parse(token, kf)
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok || !parsed.Valid {
			return nil, errors.New("invalid token")
		}
		if issuer != "" && !claims.VerifyIssuer(issuer, true) {
			return nil, errors.New("unexpected token issuer")
		}
		if audience != "" && !claims.VerifyAudience(audience, true) {
			return nil, errors.New("unexpected token audience")
		}
		return claims, nil
	}
}
