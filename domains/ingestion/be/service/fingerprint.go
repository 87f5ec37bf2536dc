package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const fingerprintSeparator = "\u001f"

var folder = cases.Fold()

// Fingerprint derives the dedupe hash of a record that carries no external id. Only fields that
// identify a tender take part, so edits to budget or description refresh the same tender.
func Fingerprint(r SourceRecord) string {
	deadline := ""
	if r.Deadline != nil {
		deadline = r.Deadline.UTC().Format(time.RFC3339)
	}
	parts := []string{
		canonical(r.Source),
		canonical(r.Title),
		canonical(r.Buyer),
		deadline,
		canonical(r.SourceURL),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fingerprintSeparator)))
	return hex.EncodeToString(sum[:])
}

func canonical(value string) string {
	value = norm.NFKC.String(value)
	value = folder.String(value)
	return strings.Join(strings.Fields(value), " ")
}
