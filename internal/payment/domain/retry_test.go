package domain

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	var got []time.Duration
	for n := 1; n <= 6; n++ {
		got = append(got, p.Backoff(n))
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}, got)
	assert.Equal(t, 10*time.Second, p.Backoff(500))
	assert.Equal(t, 2*time.Second, p.Backoff(0))
}

func TestBackoffNearDurationLimit(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Duration(math.MaxInt64)}
	for n := 1; n <= 100; n++ {
		d := p.Backoff(n)
		assert.Positive(t, d, "attempt %d", n)
		assert.LessOrEqual(t, d, p.MaxDelay)
	}
	assert.Equal(t, p.MaxDelay, p.Backoff(100))

	odd := RetryPolicy{BaseDelay: 3, MaxDelay: 7}
	assert.Equal(t, time.Duration(6), odd.Backoff(2))
	assert.Equal(t, time.Duration(7), odd.Backoff(3))
}

type recorder []time.Duration

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	*r = append(*r, d)
	return nil
}

func TestRunStopsOnSuccess(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	var slept recorder
	n, err := p.Run(context.Background(), slept.sleep, func(_ context.Context, n int) error {
		if n < 2 {
			return ErrDeclined
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, recorder{time.Second}, slept)
}

func TestRunExhausts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	var slept recorder
	n, err := p.Run(context.Background(), slept.sleep, func(context.Context, int) error { return ErrDeclined })
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, 3, n)
	assert.Equal(t, recorder{time.Second, 2 * time.Second}, slept)
}

func TestRunStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("gateway down")
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}
	n, err := p.Run(context.Background(), Sleep, func(context.Context, int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
