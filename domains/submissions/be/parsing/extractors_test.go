package parsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const goszakupReceipt = `Портал государственных закупок Республики Казахстан
goszakup.gov.kz
Квитанция № GZ-2024-118734
Номер заявки: 9981234
БИН: 123456789012
Дата подачи: 05.11.2024 14:30:15
Сумма заявки: 12 500 000,50 ₸
https://goszakup.gov.kz/ru/application/view/9981234
`

const samrukReceipt = `АО Самрук-Қазына, портал закупок zakup.sk.kz
Подтверждение № SK-556677
Лот № 1234-5
БИН 987654321098
Дата: 12.03.2025 09:00
Сумма: 3 000 000 тг.
`

const tedReceipt = `TED - Tenders Electronic Daily
Submission receipt ID: TED-RCPT-77821
Notice number: 123456-2024
Economic operator: ACME-BV-001
Submitted: 2024-11-05 10:15:00 CET
Total value: EUR 1.250.000,00
https://ted.europa.eu/en/notice/-/detail/123456-2024
`

func mustTime(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return &parsed
}

func TestDefaultChainExtractsEachPortal(t *testing.T) {
	t.Parallel()

	parser := NewParser(nil)

	tests := []struct {
		name string
		text string
		want Receipt
	}{
		{
			name: "goszakup",
			text: goszakupReceipt,
			want: Receipt{
				Portal:             PortalGoszakup,
				ReceiptNumber:      "GZ-2024-118734",
				PortalSubmissionID: "9981234",
				Account:            "123456789012",
				SubmittedAt:        mustTime(t, "2024-11-05T09:30:15Z"),
				Amount:             &Amount{Value: 12500000.5, Currency: "KZT"},
				Links:              Links{Portal: "https://goszakup.gov.kz/ru/application/view/9981234"},
			},
		},
		{
			name: "samruk",
			text: samrukReceipt,
			want: Receipt{
				Portal:             PortalSamruk,
				ReceiptNumber:      "SK-556677",
				PortalSubmissionID: "1234-5",
				Account:            "987654321098",
				SubmittedAt:        mustTime(t, "2025-03-12T04:00:00Z"),
				Amount:             &Amount{Value: 3000000, Currency: "KZT"},
				Links:              Links{Portal: "https://zakup.sk.kz"},
			},
		},
		{
			name: "ted",
			text: tedReceipt,
			want: Receipt{
				Portal:             PortalTED,
				ReceiptNumber:      "TED-RCPT-77821",
				PortalSubmissionID: "123456-2024",
				Account:            "ACME-BV-001",
				SubmittedAt:        mustTime(t, "2024-11-05T09:15:00Z"),
				Amount:             &Amount{Value: 1250000, Currency: "EUR"},
				Links:              Links{Portal: "https://ted.europa.eu/en/notice/-/detail/123456-2024"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parser.Extract(tt.text)
			require.True(t, ok)
			require.Equal(t, tt.want.Portal, got.Portal)
			require.Equal(t, tt.want.ReceiptNumber, got.ReceiptNumber)
			require.Equal(t, tt.want.PortalSubmissionID, got.PortalSubmissionID)
			require.Equal(t, tt.want.Account, got.Account)
			require.NotNil(t, got.SubmittedAt)
			require.True(t, tt.want.SubmittedAt.Equal(*got.SubmittedAt), "submittedAt %s", got.SubmittedAt)
			require.Equal(t, tt.want.Amount, got.Amount)
			require.Equal(t, tt.want.Links, got.Links)
		})
	}
}

func TestExtractorsRequireMarkerAndReceiptNumber(t *testing.T) {
	t.Parallel()

	parser := NewParser(nil)

	_, ok := parser.Extract("Квитанция № GZ-1\nno portal marker here")
	require.False(t, ok)

	_, ok = parser.Extract("goszakup.gov.kz\nзаявка принята")
	require.False(t, ok)

	_, ok = parser.Extract("")
	require.False(t, ok)
}

func TestAmountDoesNotSpanLines(t *testing.T) {
	t.Parallel()

	text := "goszakup.gov.kz\nКвитанция № GZ-7\nСумма:\n15 000 ₸\n"
	got, ok := NewParser(nil).Extract(text)
	require.True(t, ok)
	require.Nil(t, got.Amount)
}

func TestISOZoneOffsets(t *testing.T) {
	t.Parallel()

	got := isoWithZone("sent 2024-06-01 12:00 +03:00")
	require.NotNil(t, got)
	require.Equal(t, "2024-06-01T09:00:00Z", got.Format(time.RFC3339))

	got = isoWithZone("sent 2024-06-01T12:00:30 CEST")
	require.NotNil(t, got)
	require.Equal(t, "2024-06-01T10:00:30Z", got.Format(time.RFC3339))

	got = isoWithZone("sent 2024-06-01 12:00")
	require.NotNil(t, got)
	require.Equal(t, "2024-06-01T12:00:00Z", got.Format(time.RFC3339))

	require.Nil(t, isoWithZone("no timestamp"))
}
