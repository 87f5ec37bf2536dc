package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the Firebase-compatible claims required to mint an unsigned JWT
// for local and CI environments. No environment variables are read so the builder
// stays deterministic for tooling.
type Params struct {
	ProjectID     string        // Firebase project id; used for aud and iss
	Tenant        string        // tenant UUID, emitted as firebase.tenant (required)
	UserID        string        // user_id/sub/uid (required)
	Email         string        // email claim (required)
	Name          string        // display name (optional)
	EmailVerified bool          // email_verified claim
	IsAdmin       bool          // tenant administrator; bypasses per-tender role checks
	ExpiresIn     time.Duration // relative expiry; default 1h if zero
}

// BuildUnsignedFirebaseToken returns a JWT string with alg "none" and no signature.
// The payload mirrors the Firebase ID token shape so it flows through the auth
// middleware when AUTH_PROVIDER=dev.
func BuildUnsignedFirebaseToken(p Params, now time.Time) (string, error) {
	for name, v := range map[string]string{
		"projectID": p.ProjectID,
		"tenant":    p.Tenant,
		"userID":    p.UserID,
		"email":     p.Email,
	} {
		if strings.TrimSpace(v) == "" {
			return "", errors.New(name + " is required")
		}
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	payload := map[string]interface{}{
		"iss":            fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID),
		"aud":            p.ProjectID,
		"auth_time":      now.Unix(),
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"isAdmin":        p.IsAdmin,
		"firebase": map[string]interface{}{
			"identities":       map[string]interface{}{"email": []string{p.Email}},
			"sign_in_provider": "password",
			"tenant":           p.Tenant,
		},
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return headerSegment + "." + payloadSegment + ".", nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
