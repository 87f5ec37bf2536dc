package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBuildUnsignedFirebaseToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedFirebaseToken(Params{
		ProjectID:     "tender-local",
		Tenant:        "2b0f7a52-5d0e-4c1c-9a3e-5f1e1c7d2a10",
		UserID:        "owner-1",
		Email:         "owner@example.com",
		Name:          "Bid Owner",
		EmailVerified: true,
		IsAdmin:       false,
		ExpiresIn:     30 * time.Minute,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, payload := splitToken(t, token)
	if got, want := header["alg"], "none"; got != want {
		t.Fatalf("header alg = %v, want %v", got, want)
	}
	if got, want := payload["iss"], "https://securetoken.google.com/tender-local"; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
	if got, want := payload["sub"], "owner-1"; got != want {
		t.Errorf("sub = %v, want %v", got, want)
	}
	if got, want := payload["exp"], float64(now.Add(30*time.Minute).Unix()); got != want {
		t.Errorf("exp = %v, want %v", got, want)
	}
	if got, want := payload["isAdmin"], false; got != want {
		t.Errorf("isAdmin = %v, want %v", got, want)
	}

	firebaseClaim, ok := payload["firebase"].(map[string]interface{})
	if !ok {
		t.Fatalf("firebase claim missing or invalid type: %T", payload["firebase"])
	}
	if got, want := firebaseClaim["tenant"], "2b0f7a52-5d0e-4c1c-9a3e-5f1e1c7d2a10"; got != want {
		t.Errorf("firebase.tenant = %v, want %v", got, want)
	}
}

func TestBuildUnsignedFirebaseTokenRequiresTenant(t *testing.T) {
	_, err := BuildUnsignedFirebaseToken(Params{ProjectID: "p", UserID: "u", Email: "e@example.com"}, time.Now())
	if err == nil || !strings.Contains(err.Error(), "tenant") {
		t.Fatalf("expected tenant error, got %v", err)
	}
}

func splitToken(t *testing.T, token string) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		t.Fatalf("invalid token format: %q", token)
	}
	return decodeSegment(t, parts[0]), decodeSegment(t, parts[1])
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}
