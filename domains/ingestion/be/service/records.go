package service

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeRecords reads a JSON array of records or a stream of JSON objects (JSON Lines).
func DecodeRecords(r io.Reader) ([]SourceRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []SourceRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	}

	var records []SourceRecord
	for {
		var record SourceRecord
		err := dec.Decode(&record)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
