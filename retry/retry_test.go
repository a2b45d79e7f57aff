package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestPopupSchedule(t *testing.T) {
	p := Popup()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, []int{5, 10, 15, 20, 30}, p.DelaySeconds())
	assert.Equal(t, 30*time.Second, p.Delay(9))
	assert.Equal(t, time.Duration(0), p.Delay(0))
}

func TestExponential(t *testing.T) {
	p := Exponential(4, time.Second, 3*time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, p.Delays)
}

func TestDoSucceedsAfterRecovery(t *testing.T) {
	var slept []time.Duration
	var recovered []int
	p := Popup()
	p.Sleep = noSleep(&slept)
	p.Recover = func(_ context.Context, attempt int) { recovered = append(recovered, attempt) }

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, slept)
	assert.Equal(t, []int{2, 3}, recovered)
}

func TestDoExhausted(t *testing.T) {
	var slept []time.Duration
	p := Policy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}, Sleep: noSleep(&slept)}
	boom := errors.New("boom")

	var observed []int
	p.OnRetry = func(attempt int, _ time.Duration, err error) {
		observed = append(observed, attempt)
		assert.ErrorIs(t, err, boom)
	}

	err := p.Do(context.Background(), func(context.Context, int) error { return boom })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, slept, 2)
	assert.Equal(t, []int{1, 2}, observed)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Delays: []time.Duration{time.Hour}}

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
