package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBuildBasePrefix(t *testing.T) {
	id := uuid.MustParse("2b0f7a52-5d0e-4c1c-9a3e-5f1e1c7d2a10")
	require.Equal(t, "prod/tenant-2b0f7a52/", BuildBasePrefix("prod/", id))
}

func TestRequire(t *testing.T) {
	_, err := Require(context.Background())
	require.ErrorIs(t, err, ErrMissingSpace)

	space := NewSpace("dev", uuid.New())
	got, err := Require(WithSpace(context.Background(), space))
	require.NoError(t, err)
	require.Equal(t, space, got)
}
