package service

import "github.com/zenGate-Global/tender-engine/platform/go/money"

// ParseBudget reads crawler budget text such as "1 234 567,89 ₸". It returns the amount,
// the ISO currency code when one is present, and false when no amount can be read.
func ParseBudget(raw string) (float64, string, bool) {
	return money.Parse(raw)
}
