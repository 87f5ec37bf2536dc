package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ingestionrepo "github.com/zenGate-Global/tender-engine/domains/ingestion/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

func TestRunIngestsAndPrintsSummary(t *testing.T) {
	t.Parallel()

	ctx := tenant.WithSpace(context.Background(), tenant.NewSpace("test", uuid.New()))
	svc := service.New(ingestionrepo.NewMemoryRepository(), nil)

	input := strings.NewReader(`{"externalId":"GZ-1","title":"Road repair"}
{"externalId":"GZ-2","title":""}
`)
	var out bytes.Buffer
	require.NoError(t, run(ctx, svc, "goszakup", input, &out))

	var got summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, service.RunCompleted, got.Status)
	require.Equal(t, 2, got.Received)
	require.Equal(t, 1, got.Inserted)
	require.Equal(t, 1, got.Failed)
	require.Len(t, got.Errors, 1)
	require.Equal(t, 1, got.Errors[0].Index)

	out.Reset()
	require.NoError(t, run(ctx, svc, "goszakup", strings.NewReader(`[{"externalId":"GZ-1","title":"Road repair"}]`), &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, 1, got.Unchanged)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	ctx := tenant.WithSpace(context.Background(), tenant.NewSpace("test", uuid.New()))
	svc := service.New(ingestionrepo.NewMemoryRepository(), nil)

	require.ErrorContains(t, run(ctx, svc, "ted", strings.NewReader("  \n"), &bytes.Buffer{}), "no records")
}
