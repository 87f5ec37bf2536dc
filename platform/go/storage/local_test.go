package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	loc := ObjectLocation{Bucket: "receipts", FullPath: "dev/tenant-1/receipts/r1.txt"}

	_, err = store.Get(ctx, loc)
	require.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, loc, []byte("Receipt No 42"), "text/plain"))

	data, err := store.Get(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, "Receipt No 42", string(data))

	url, err := store.PresignPut(ctx, loc, "text/plain", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "file://"))
	require.True(t, strings.HasSuffix(url, "/receipts/dev/tenant-1/receipts/r1.txt"))
}

func TestNewLocalStore_requiresRoot(t *testing.T) {
	t.Parallel()

	_, err := NewLocalStore("")
	require.Error(t, err)
}
