package service

import "strings"

// State is a position in the tender lifecycle.
type State string

const (
	StateScraped   State = "SCRAPED"
	StateValidated State = "VALIDATED"
	StateQualified State = "QUALIFIED"
	StateInBid     State = "IN_BID"
	StateSubmitted State = "SUBMITTED"
	StateWon       State = "WON"
	StateLost      State = "LOST"
)

// States lists every lifecycle state in pipeline order.
var States = []State{StateScraped, StateValidated, StateQualified, StateInBid, StateSubmitted, StateWon, StateLost}

var transitions = map[State][]State{
	StateScraped:   {StateValidated},
	StateValidated: {StateQualified, StateScraped},
	StateQualified: {StateInBid, StateScraped},
	StateInBid:     {StateSubmitted, StateQualified},
	StateSubmitted: {StateWon, StateLost},
	StateWon:       nil,
	StateLost:      nil,
}

// ParseState accepts a state name in any case.
func ParseState(value string) (State, bool) {
	state := State(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := transitions[state]; !ok {
		return "", false
	}
	return state, true
}

// AllowedTargets returns the states reachable from s in one step. The slice is a copy.
func AllowedTargets(s State) []State {
	targets := transitions[s]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}
