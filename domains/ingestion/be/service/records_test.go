package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRecords(t *testing.T) {
	t.Parallel()

	lines := `{"source":"ted","externalId":"1","title":"A"}
{"source":"ted","externalId":"2","title":"B","deadline":"2025-01-02T10:00:00Z"}
`
	records, err := DecodeRecords(strings.NewReader(lines))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[1].Deadline)

	records, err = DecodeRecords(strings.NewReader(`  [{"source":"ted","title":"A"}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = DecodeRecords(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, records)

	_, err = DecodeRecords(strings.NewReader(`{"source":`))
	require.Error(t, err)
}
