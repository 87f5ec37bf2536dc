package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractJWTToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		found  bool
	}{
		{"Bearer token", "Bearer abc.def", "abc.def", true},
		{"Lowercase scheme", "bearer abc.def", "abc.def", true},
		{"Basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"Missing header", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, found := ExtractJWTToken(req)
			if got != tt.want || found != tt.found {
				t.Errorf("ExtractJWTToken() = (%q, %v), want (%q, %v)", got, found, tt.want, tt.found)
			}
		})
	}
}
