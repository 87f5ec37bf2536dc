// Package parsing turns uploaded submission receipts into normalised receipt documents.
package parsing

import (
	"context"
	_ "embed"
	"fmt"
	"unicode/utf8"

	"github.com/zenGate-Global/tender-engine/platform/go/ocr"
	"github.com/zenGate-Global/tender-engine/platform/go/validation"
)

//go:embed schemas/receipt.json
var receiptSchema []byte

const receiptSchemaName = "parsed-receipt"

// Recognizer extracts text from scanned documents. *ocr.Client implements it.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, contentType string) (string, error)
}

// Parser runs content detection, text recognition and the extractor chain.
type Parser struct {
	chain      []Extractor
	recognizer Recognizer
	validator  *validation.SchemaValidator
}

// NewParser returns a Parser over DefaultChain. recognizer may be nil, in which case PDFs and
// images fail with CodeOCRFailed.
func NewParser(recognizer Recognizer) *Parser {
	return &Parser{
		chain:      DefaultChain(),
		recognizer: recognizer,
		validator:  validation.NewSchemaValidator().MustRegister(receiptSchemaName, receiptSchema),
	}
}

func (p *Parser) Version() string { return ChainVersion }

// Parse returns the normalised receipt. Errors of type *Failure are final; any other error is
// transient and worth retrying.
func (p *Parser) Parse(ctx context.Context, data []byte) (Receipt, error) {
	kind, contentType := Detect(data)

	var text string
	switch kind {
	case KindText:
		if !utf8.Valid(data) {
			return Receipt{}, fail(CodeUnsupportedContent, "text receipt is not valid UTF-8", nil)
		}
		text = string(data)
	case KindPDF, KindImage:
		if p.recognizer == nil {
			return Receipt{}, fail(CodeOCRFailed, "text recognition is not configured", nil)
		}
		recognized, err := p.recognizer.Recognize(ctx, data, contentType)
		if err != nil {
			if ocr.IsTemporary(err) {
				return Receipt{}, fmt.Errorf("recognize %s receipt: %w", kind, err)
			}
			return Receipt{}, fail(CodeOCRFailed, "text recognition rejected the receipt", err)
		}
		text = recognized
	default:
		if contentType == "" {
			return Receipt{}, fail(CodeUnsupportedContent, "receipt is empty", nil)
		}
		return Receipt{}, fail(CodeUnsupportedContent, fmt.Sprintf("unsupported or corrupt content (%s)", contentType), nil)
	}

	receipt, ok := p.Extract(text)
	if !ok {
		return Receipt{}, fail(CodeNoMatch, "no extractor recognised the receipt", nil)
	}
	if err := p.validator.ValidateValue(ctx, receiptSchemaName, receipt); err != nil {
		return Receipt{}, fail(CodeInvalidResult, "extracted receipt failed validation", err)
	}
	return receipt, nil
}

// Extract runs the chain over text and stops at the first confident extractor.
func (p *Parser) Extract(text string) (Receipt, bool) {
	for _, extractor := range p.chain {
		if receipt, ok := extractor.Extract(text); ok {
			return receipt, true
		}
	}
	return Receipt{}, false
}
