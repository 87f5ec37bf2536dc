package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, time.Minute, time.Minute}
	for i, want := range expected {
		require.Equal(t, want, policy.Backoff(i+1), "attempt %d", i+1)
	}
}

func TestRetryPolicyDecide(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	transient := errors.New("connection reset")

	cases := []struct {
		name    string
		attempt int
		err     error
		want    Decision
	}{
		{name: "success", attempt: 1, err: nil, want: Decision{Action: ActionDone}},
		{name: "first failure", attempt: 1, err: transient, want: Decision{Action: ActionRetry, Delay: 2 * time.Second}},
		{name: "marked recoverable", attempt: 3, err: Recoverable(transient), want: Decision{Action: ActionRetry, Delay: 8 * time.Second}},
		{name: "timeout", attempt: 2, err: fmt.Errorf("ocr: %w", context.DeadlineExceeded), want: Decision{Action: ActionRetry, Delay: 4 * time.Second}},
		{name: "ceiling", attempt: 5, err: transient, want: Decision{Action: ActionDeadLetter}},
		{name: "permanent", attempt: 1, err: Permanent(errors.New("corrupt pdf")), want: Decision{Action: ActionDeadLetter}},
		{name: "wrapped permanent", attempt: 1, err: fmt.Errorf("parse: %w", Permanent(errors.New("x"))), want: Decision{Action: ActionDeadLetter}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, policy.Decide(tc.attempt, tc.err))
		})
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	require.Nil(t, Permanent(nil))
	require.Nil(t, Recoverable(nil))
	require.True(t, IsPermanent(Permanent(base)))
	require.False(t, IsPermanent(Recoverable(base)))
	require.False(t, IsPermanent(base))
	require.ErrorIs(t, Permanent(base), base)
	require.Equal(t, "boom", Permanent(base).Error())
}
