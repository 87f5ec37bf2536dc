package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const amountSchema = `{
  "type": "object",
  "required": ["value", "currency"],
  "properties": {
    "value": {"type": "number", "minimum": 0},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"}
  },
  "additionalProperties": false
}`

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator().MustRegister("amount", []byte(amountSchema))
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, "amount", []byte(`{"value": 12.5, "currency": "KZT"}`)))
	require.Error(t, v.Validate(ctx, "amount", []byte(`{"value": -1, "currency": "KZT"}`)))
	require.Error(t, v.Validate(ctx, "amount", []byte(`{"value": 1, "currency": "tenge"}`)))
	require.Error(t, v.Validate(ctx, "amount", nil))
	require.ErrorIs(t, v.Validate(ctx, "missing", []byte(`{}`)), ErrUnknownSchema)
}

func TestSchemaValidatorValidateValue(t *testing.T) {
	v := NewSchemaValidator().MustRegister("amount", []byte(amountSchema))

	err := v.ValidateValue(context.Background(), "amount", map[string]any{"value": 3, "currency": "EUR"})
	require.NoError(t, err)
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	err := NewSchemaValidator().Register("broken", []byte(`{"type": `))
	require.Error(t, err)
}
