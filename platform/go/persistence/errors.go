package persistence

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrTenderNotFound       = errors.New("tender not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrIngestionRunNotFound = errors.New("ingestion run not found")
)

// ErrReceiptChanged means the receipt was replaced after the parse being saved had started.
var ErrReceiptChanged = errors.New("submission receipt changed during parse")

const pgForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// IsDataError reports whether Postgres rejected the values of a row: SQLSTATE class 22 (data
// exception) or 23 (integrity constraint violation). Retrying the same row fails the same way.
func IsDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}
