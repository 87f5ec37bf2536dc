package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema is returned when validating against a name that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// SchemaValidator validates JSON payloads against named JSON Schemas compiled via santhosh-tekuri/jsonschema.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns a validator with an empty schema cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// MustRegister compiles and stores a schema; it panics on an invalid definition.
func (v *SchemaValidator) MustRegister(name string, definition []byte) *SchemaValidator {
	if err := v.Register(name, definition); err != nil {
		panic(err)
	}
	return v
}

// Register compiles the schema definition under name, replacing any previous one.
func (v *SchemaValidator) Register(name string, definition []byte) error {
	url := "mem://schemas/" + name + ".json"

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(definition)); err != nil {
		return fmt.Errorf("register schema %s: %w", name, err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}

	v.mu.Lock()
	v.cache[name] = compiled
	v.mu.Unlock()
	return nil
}

// Validate ensures the payload matches the named schema.
func (v *SchemaValidator) Validate(_ context.Context, name string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required for validation")
	}

	v.mu.RLock()
	compiled, ok := v.cache[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// ValidateValue marshals v and validates the result.
func (v *SchemaValidator) ValidateValue(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return v.Validate(ctx, name, raw)
}
