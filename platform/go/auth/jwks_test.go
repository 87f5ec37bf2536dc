package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func TestKeyfuncVerifier(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kf := func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}
	verify := keyfuncVerifier(kf, "https://issuer.example", "tender-engine")

	sign := func(claims jwt.MapClaims) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":      "user-1",
			"iss":      "https://issuer.example",
			"aud":      "tender-engine",
			"exp":      time.Now().Add(time.Hour).Unix(),
			"tenantId": "3f1d0c4e-5d7a-4c1b-9d2e-7a6b5c4d3e2f",
		}
	}

	claims, err := verify(context.Background(), sign(base()))
	require.NoError(t, err)
	creds, err := DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "user-1", creds.Id)
	require.Equal(t, "3f1d0c4e-5d7a-4c1b-9d2e-7a6b5c4d3e2f", *creds.TenantID)

	wrongIssuer := base()
	wrongIssuer["iss"] = "https://other.example"
	_, err = verify(context.Background(), sign(wrongIssuer))
	require.Error(t, err)

	wrongAudience := base()
	wrongAudience["aud"] = "someone-else"
	_, err = verify(context.Background(), sign(wrongAudience))
	require.Error(t, err)

	expired := base()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = verify(context.Background(), sign(expired))
	require.Error(t, err)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodRS256, base()).SignedString(otherKey)
	require.NoError(t, err)
	_, err = verify(context.Background(), forged)
	require.Error(t, err)
}
