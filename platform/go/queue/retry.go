package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

// RetryPolicy decides what happens to a job after each attempt.
type RetryPolicy struct {
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"2s"`
	Multiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"1m"`
	MaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	AttemptTimeout  time.Duration `env:"RETRY_ATTEMPT_TIMEOUT" envDefault:"45s"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 2 * time.Second,
		Multiplier:      2,
		MaxInterval:     time.Minute,
		MaxAttempts:     5,
		AttemptTimeout:  45 * time.Second,
	}
}

// Decide maps the outcome of attempt (1-based) to an action.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	switch {
	case err == nil:
		return Decision{Action: ActionDone}
	case IsPermanent(err):
		return Decision{Action: ActionDeadLetter}
	case attempt >= p.MaxAttempts:
		return Decision{Action: ActionDeadLetter}
	default:
		return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
	}
}

// Backoff returns the delay after the given failed attempt: InitialInterval after the first,
// growing by Multiplier and capped at MaxInterval.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
