// Package money reads monetary amounts written the way tender portals and crawlers print them.
package money

import (
	"strconv"
	"strings"
	"unicode"
)

var currencySymbols = map[string]string{
	"₸": "KZT",
	"€": "EUR",
	"$": "USD",
	"₽": "RUB",
	"£": "GBP",
	"тг": "KZT",
}

// Parse reads amounts such as "1 234 567,89 ₸" or "EUR 12,500.00". It returns the amount,
// the ISO currency code when one is present, and false when no amount can be read.
func Parse(raw string) (float64, string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, "", false
	}

	currency := ""
	for symbol, code := range currencySymbols {
		if strings.Contains(text, symbol) {
			currency = code
			text = strings.ReplaceAll(text, symbol, "")
		}
	}

	if currency == "" {
		for _, word := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) }) {
			if len(word) == 3 {
				currency = strings.ToUpper(word)
				break
			}
		}
	}

	var digits strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			digits.WriteRune(r)
		}
	}

	number := normaliseSeparators(strings.Trim(digits.String(), ".,"))
	if number == "" {
		return 0, currency, false
	}
	amount, err := strconv.ParseFloat(number, 64)
	if err != nil || amount < 0 {
		return 0, currency, false
	}
	return amount, currency, true
}

// normaliseSeparators decides which of ',' and '.' is the decimal mark. When both appear the
// last one is. A lone ',' is decimal unless exactly three digits follow a single occurrence.
func normaliseSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}
