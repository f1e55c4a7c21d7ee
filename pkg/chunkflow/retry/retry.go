package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds how often and how patiently an operation is repeated.
// The zero value makes a single attempt.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait; zero means uncapped.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry; values below 1
	// keep it constant.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Backoff overrides the computed wait before retry n (1-based).
	Backoff func(n int) time.Duration

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// RetryableFunc overrides the default check (IsRetryable).
	RetryableFunc func(error) bool
}

// Default retries a chunk write twice with a one second pause, the way the
// original pipeline scripts did.
var Default = Policy{
	MaxRetries:     2,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes exactly one attempt.
var NoRetry = Policy{}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	return 1 + max(p.MaxRetries, 0)
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(n)
	}
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		if p.BackoffFactor > 1 {
			d = time.Duration(float64(d) * p.BackoffFactor)
		}
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	return applyJitter(d, p.Jitter)
}

// Result contains the result of a retried operation.
type Result[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, waits included.
	Duration time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends, or the policy's attempts are used up. fn receives the 1-based
// attempt number. A final failure is a *CategorizedError wrapping the last
// error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) Result[T] {
	start := time.Now()
	attempts := p.Attempts()
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	isRetryable := p.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{
				Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt - 1, Context: "context cancelled"},
				Attempts: attempt - 1,
				Duration: time.Since(start),
			}
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return Result[T]{Value: value, Attempts: attempt, Duration: time.Since(start)}
		}
		lastErr = err

		if !isRetryable(err) {
			return Result[T]{
				Err:      &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		if attempt < attempts {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return Result[T]{
					Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt, Context: "context cancelled during backoff"},
					Attempts: attempt,
					Duration: time.Since(start),
				}
			}
		}
	}

	return Result[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Attempts: attempts,
			Context:  "max retries exceeded",
		},
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// applyJitter returns d +/- (d * jitter * random).
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	amount := float64(d) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + amount)
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

// WithBackoff sets a fixed backoff function.
func WithBackoff(fn func(n int) time.Duration) Option {
	return func(p *Policy) {
		p.Backoff = fn
	}
}

// WithConstantDelay waits d between every attempt.
func WithConstantDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.Backoff = func(int) time.Duration { return d }
	}
}

// WithSleep injects the sleeper, typically a recorder in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.Sleep = fn
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) Option {
	return func(p *Policy) {
		p.RetryableFunc = fn
	}
}

// NewPolicy creates a policy from Default with the given options.
func NewPolicy(opts ...Option) Policy {
	p := Default
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
