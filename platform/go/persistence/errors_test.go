package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsDataError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "numeric overflow", err: &pgconn.PgError{Code: "22003"}, want: true},
		{name: "invalid byte sequence wrapped", err: fmt.Errorf("insert tender: %w", &pgconn.PgError{Code: "22021"}), want: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: false},
		{name: "context", err: context.DeadlineExceeded, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsDataError(tc.err))
		})
	}
}
