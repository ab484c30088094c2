package domain

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds settlement: at most MaxAttempts charges, waiting
// Backoff(n) after the n-th declined attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff is BaseDelay doubled per attempt and capped at MaxDelay.
// attempt is 1-based.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		if d > p.MaxDelay/2 {
			d = p.MaxDelay
			break
		}
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run calls attempt until it succeeds, fails with something other than
// ErrDeclined, or the attempts run out. It returns the number of attempts
// made; exhaustion is reported as ErrDeclined.
func (p RetryPolicy) Run(ctx context.Context, sleep Sleeper, attempt func(ctx context.Context, n int) error) (int, error) {
	for n := 1; ; n++ {
		err := attempt(ctx, n)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrDeclined) || n >= p.MaxAttempts {
			return n, err
		}
		if err := sleep(ctx, p.Backoff(n)); err != nil {
			return n, err
		}
	}
}
