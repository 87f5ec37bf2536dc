package queue

import (
	"context"
	"errors"
)

type errorKind int

const (
	kindRecoverable errorKind = iota + 1
	kindPermanent
)

type kindError struct {
	kind errorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kindPermanent, err: err}
}

// Recoverable marks err as transient; the job is retried until the attempt ceiling.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kindRecoverable, err: err}
}

// IsPermanent reports whether err was marked Permanent. Unmarked errors and
// timeouts are recoverable.
func IsPermanent(err error) bool {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind == kindPermanent
	}
	return false
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
