package retry

import (
	"context"
	"fmt"
	"time"
)

// FinalFailure is returned once every attempt has been spent.
type FinalFailure struct {
	Attempts int
	LastErr  error
}

func (f *FinalFailure) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", f.Attempts, f.LastErr)
}

func (f *FinalFailure) Unwrap() error { return f.LastErr }

// Schedule is the exponential delay for a 0-based attempt:
// base * 2^attempt. No jitter, no cap; callers bound it with MaxAttempts.
func Schedule(attempt int, base time.Duration) time.Duration {
	return base << uint(attempt)
}

// ScheduleLinear grows the delay linearly: base after the first
// failure, then 2*base, 3*base and so on.
func ScheduleLinear(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt+1)
}

// Policy bounds a retried operation. Backoff defaults to Schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     func(attempt int, base time.Duration) time.Duration

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes op until it succeeds, the policy is exhausted, or ctx is
// done. Delays follow the policy's backoff at 0-based attempt numbers,
// so MaxAttempts=3 with a 2s base sleeps 2s, 4s, 8s between the four
// total invocations before surfacing FinalFailure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := p.Backoff
	if backoff == nil {
		backoff = Schedule
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt >= p.MaxAttempts {
			return &FinalFailure{Attempts: attempt + 1, LastErr: lastErr}
		}
		if err := sleep(ctx, backoff(attempt, p.BaseDelay)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
