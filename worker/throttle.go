package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/andys/listimport/store"
)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Throttle paces batch submission with a fixed rest every N batches
type Throttle struct {
	Every int // Rest after every Every-th batch; 0 disables resting
	Pause time.Duration
	Sleep SleepFunc
}

// ShouldRest reports whether a rest is due after the given 1-based batch number
func (t Throttle) ShouldRest(batchNumber int) bool {
	return t.Every > 0 && batchNumber > 0 && batchNumber%t.Every == 0
}

// Rest blocks for the configured pause
func (t Throttle) Rest(ctx context.Context) error {
	if t.Pause <= 0 {
		return nil
	}
	sleep := t.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, t.Pause)
}

// Backoff retries operations rejected by the destination's rate limit
type Backoff struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
	Sleep   SleepFunc

	// OnRetry is called before each wait, if set
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the wait before retry number attempt (1-based)
func (b Backoff) Delay(attempt int, rl *store.RateLimitError) time.Duration {
	if rl != nil && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	delay := b.Initial * time.Duration(1<<uint(attempt-1))
	if b.Max > 0 && (delay > b.Max || delay <= 0) {
		delay = b.Max
	}
	return delay
}

// Do runs op, retrying rate limit rejections with exponential backoff.
// Other errors are returned immediately. It returns the number of attempts made.
func (b Backoff) Do(ctx context.Context, op func() error) (int, error) {
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return attempt, nil
		}

		rl, ok := store.IsRateLimited(err)
		if !ok {
			return attempt, err
		}
		if attempt > b.Retries {
			if b.Retries == 0 {
				return attempt, err
			}
			return attempt, fmt.Errorf("max retries exceeded: %w", err)
		}

		delay := b.Delay(attempt, rl)
		if b.OnRetry != nil {
			b.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}
