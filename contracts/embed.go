// Package contracts embeds the HTTP API contract served and enforced by apps/api.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed tender-engine.yaml
var tenderEngineYAML []byte

// Raw returns the contract document as written.
func Raw() []byte {
	return tenderEngineYAML
}

// Load parses and validates the embedded contract.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(tenderEngineYAML)
	if err != nil {
		return nil, fmt.Errorf("load tender-engine contract: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate tender-engine contract: %w", err)
	}
	return spec, nil
}
