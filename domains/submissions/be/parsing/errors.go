package parsing

import (
	"errors"
	"fmt"
)

// Failure codes persisted under parsed.error.code.
const (
	CodeNoMatch            = "no_match"
	CodeUnsupportedContent = "unsupported_content"
	CodeReceiptMissing     = "receipt_missing"
	CodeOCRFailed          = "ocr_failed"
	CodeInvalidResult      = "invalid_result"
	CodeParseFailed        = "parse_failed"
)

// Failure is a parse outcome that will not change on retry.
type Failure struct {
	Code    string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(code, message string, err error) *Failure {
	return &Failure{Code: code, Message: message, Err: err}
}

// FailureCode returns the code of the Failure in err's chain, or CodeParseFailed.
func FailureCode(err error) string {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	return CodeParseFailed
}

// IsNoMatch reports whether err means no extractor recognised the receipt.
func IsNoMatch(err error) bool {
	var failure *Failure
	return errors.As(err, &failure) && failure.Code == CodeNoMatch
}
