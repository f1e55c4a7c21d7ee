package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep returns a sleeper that records waits without sleeping.
func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"transient", Transient(errors.New("io"), "write"), CategoryTransient},
		{"wrapped transient", fmt.Errorf("chunk 1.2.3: %w", Transient(errors.New("io"), "")), CategoryTransient},
		{"permanent", Permanent(errors.New("ro"), "write"), CategoryPermanent},
		{"cancelled", context.Canceled, CategoryPermanent},
		{"transient around cancel", Transient(context.Canceled, ""), CategoryPermanent},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestCategorizedError_Message(t *testing.T) {
	err := Transient(errors.New("failed"), "write chunk")
	assert.Equal(t, "write chunk: failed (category: transient, attempts: 0)", err.Error())
	assert.Equal(t, "unknown", Category(99).String())
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	p := NewPolicy(
		WithMaxRetries(2),
		WithConstantDelay(5*time.Millisecond),
		WithSleep(recordingSleep(&waits)),
	)

	calls := 0
	res := Do(context.Background(), p, func(_ context.Context, attempt int) (string, error) {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 3 {
			return "", Transient(errors.New("flaky"), "")
		}
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, waits)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var waits []time.Duration
	p := NewPolicy(WithMaxRetries(2), WithSleep(recordingSleep(&waits)))

	calls := 0
	res := Do(context.Background(), p, func(context.Context, int) (int, error) {
		calls++
		return 0, Transient(errors.New("disk full"), "")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, waits, 2)

	var catErr *CategorizedError
	require.ErrorAs(t, res.Err, &catErr)
	assert.Equal(t, 3, catErr.Attempts)
	assert.Contains(t, res.Err.Error(), "max retries exceeded")
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("read-only")
	res := Do(context.Background(), NewPolicy(WithMaxRetries(5)), func(context.Context, int) (int, error) {
		calls++
		return 0, sentinel
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, sentinel)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(WithMaxRetries(3), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res := Do(ctx, p, func(context.Context, int) (int, error) {
		return 0, Transient(errors.New("flaky"), "")
	})

	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, BackoffFactor: 2, MaxBackoff: 3 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(10))

	assert.Equal(t, 1, NoRetry.Attempts())
	assert.Equal(t, 1, Policy{MaxRetries: -4}.Attempts())
	assert.Equal(t, 3, Default.Attempts())
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
