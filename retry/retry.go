// Package retry holds the retry/backoff policy shared by the matcher's
// runtime retries and the popup retry loop the transformer generates.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a bounded retry schedule with an optional recovery step that
// runs between the delay and the next attempt.
type Policy struct {
	MaxAttempts int
	// Delays[i] is waited after the (i+1)th failed attempt. Attempts past the
	// end of the schedule reuse the last delay.
	Delays []time.Duration
	// Recover runs before every retry, after the delay. attempt is the
	// number of the attempt about to run.
	Recover func(ctx context.Context, attempt int)
	// OnRetry observes a failed attempt before its delay.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned by Do when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Popup is the schedule used for actions on popup pages: five attempts with
// delays of 5, 10, 15, 20 and 30 seconds.
func Popup() Policy {
	return Policy{
		MaxAttempts: 5,
		Delays: []time.Duration{
			5 * time.Second,
			10 * time.Second,
			15 * time.Second,
			20 * time.Second,
			30 * time.Second,
		},
	}
}

// Exponential doubles base for each retry, capped at max.
func Exponential(attempts int, base, max time.Duration) Policy {
	if attempts < 1 {
		attempts = 1
	}
	delays := make([]time.Duration, 0, attempts)
	d := base
	for i := 0; i < attempts; i++ {
		if max > 0 && d > max {
			d = max
		}
		delays = append(delays, d)
		d *= 2
	}
	return Policy{MaxAttempts: attempts, Delays: delays}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// DelaySeconds renders the schedule in whole seconds.
func (p Policy) DelaySeconds() []int {
	out := make([]int, len(p.Delays))
	for i, d := range p.Delays {
		out[i] = int(d / time.Second)
	}
	return out
}

// Do runs fn until it succeeds, the attempts are used up, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Recover != nil {
			p.Recover(ctx, attempt)
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
