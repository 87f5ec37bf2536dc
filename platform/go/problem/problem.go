// Package problem writes RFC 7807 problem documents and JSON bodies for the chi handlers.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	TypeValidation        = "https://tender-engine.dev/problems/validation-error"
	TypeUnauthorized      = "https://tender-engine.dev/problems/unauthorized"
	TypeForbidden         = "https://tender-engine.dev/problems/forbidden"
	TypeNotFound          = "https://tender-engine.dev/problems/not-found"
	TypeConflict          = "https://tender-engine.dev/problems/conflict"
	TypeInvalidTransition = "https://tender-engine.dev/problems/invalid-transition"
	TypeInternal          = "https://tender-engine.dev/problems/internal-error"
)

const maxBodyBytes = 8 << 20

// Details is an application/problem+json document.
type Details struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

func Write(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// BadRequest writes a 400 validation problem for a malformed body or parameter.
func BadRequest(w http.ResponseWriter, detail string) {
	Write(w, Details{Type: TypeValidation, Title: "Invalid request", Status: http.StatusBadRequest, Detail: detail})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a single JSON document from the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}
