package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

func TestResolveObjectLocation(t *testing.T) {
	space := tenant.Space{
		TenantID:   uuid.New(),
		BasePrefix: "dev/tenant-12345678/",
	}

	tenderID := uuid.New()
	loc, err := ResolveObjectLocation(space, "tenders-dev-receipts", "receipts/"+tenderID.String()+"/r1.pdf")
	require.NoError(t, err)
	require.Equal(t, "tenders-dev-receipts", loc.Bucket)
	require.Equal(t, "dev/tenant-12345678/receipts/"+tenderID.String()+"/r1.pdf", loc.FullPath)
}

func TestResolveObjectLocation_trimsSlashAndValidates(t *testing.T) {
	space := tenant.Space{
		TenantID:   uuid.New(),
		BasePrefix: "dev/tenant-12345678", // no trailing slash
	}

	loc, err := ResolveObjectLocation(space, "bucket", "/receipts/r1.png")
	require.NoError(t, err)
	require.Equal(t, "dev/tenant-12345678/receipts/r1.png", loc.FullPath)

	_, err = ResolveObjectLocation(space, "", "file")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", " ")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", "receipts/../../other-tenant/r1.pdf")
	require.Error(t, err)

	space.BasePrefix = ""
	_, err = ResolveObjectLocation(space, "bucket", "file")
	require.Error(t, err)
}
