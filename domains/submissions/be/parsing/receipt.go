package parsing

import (
	"encoding/json"
	"time"
)

// ChainVersion identifies the extractor chain. It is stored as parse_version.
const ChainVersion = "receipts-2024.11"

// Portal identifiers.
const (
	PortalGoszakup = "goszakup"
	PortalSamruk   = "samruk"
	PortalTED      = "ted"
)

type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type Links struct {
	Portal string `json:"portal"`
}

// Receipt is the normalised result stored in submissions.parsed. Every key is always written;
// values a portal does not print are null.
type Receipt struct {
	Portal             string     `json:"portal"`
	ReceiptNumber      string     `json:"receiptNumber"`
	PortalSubmissionID string     `json:"portalSubmissionId"`
	Account            string     `json:"account"`
	SubmittedAt        *time.Time `json:"submittedAt"`
	Amount             *Amount    `json:"amount"`
	Links              Links      `json:"links"`
}

type receiptDocument struct {
	Portal             string     `json:"portal"`
	ReceiptNumber      string     `json:"receiptNumber"`
	PortalSubmissionID *string    `json:"portalSubmissionId"`
	Account            *string    `json:"account"`
	SubmittedAt        *time.Time `json:"submittedAt"`
	Amount             *Amount    `json:"amount"`
	Links              Links      `json:"links"`
}

func (r Receipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(receiptDocument{
		Portal:             r.Portal,
		ReceiptNumber:      r.ReceiptNumber,
		PortalSubmissionID: nullIfEmpty(r.PortalSubmissionID),
		Account:            nullIfEmpty(r.Account),
		SubmittedAt:        r.SubmittedAt,
		Amount:             r.Amount,
		Links:              r.Links,
	})
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ErrorDocument is stored in submissions.parsed when parsing failed.
type ErrorDocument struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}
