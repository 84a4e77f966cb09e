// Package retry decides whether and when a failed request is attempted
// again. Classification and backoff come from the AWS SDK standard retryer;
// this package owns the attempt loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
)

const (
	DefaultMaxRetries = 3
	DefaultMaxBackoff = 20 * time.Second
)

// Config describes how many times and for how long requests are retried.
type Config struct {

	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries.
	MaxRetries int

	// MaxBackoff caps the delay between two attempts.
	MaxBackoff time.Duration

	// RetryTimeout bounds the total time spent on one request including
	// delays. Zero means no bound beyond the context.
	RetryTimeout time.Duration

	// Backoff overrides the exponential jitter backoff.
	Backoff awsretry.BackoffDelayer
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		MaxBackoff: DefaultMaxBackoff,
	}
}

// Policy classifies failures and spaces out attempts. *awsretry.Standard
// satisfies it.
type Policy interface {
	MaxAttempts() int
	IsErrorRetryable(err error) bool
	RetryDelay(attempt int, err error) (time.Duration, error)
}

// New builds the standard policy for cfg. On top of the SDK defaults
// (5xx, throttling codes, RequestTimeout, connection errors) it retries
// 429 responses.
func New(cfg Config) *awsretry.Standard {
	return awsretry.NewStandard(func(o *awsretry.StandardOptions) {
		o.MaxAttempts = max(cfg.MaxRetries, 0) + 1
		if cfg.MaxBackoff > 0 {
			o.MaxBackoff = cfg.MaxBackoff
		}
		if cfg.Backoff != nil {
			o.Backoff = cfg.Backoff
		}
		o.Retryables = append(o.Retryables, awsretry.RetryableHTTPStatusCode{
			Codes: map[int]struct{}{http.StatusTooManyRequests: {}},
		})
	})
}

// ConstantBackoff waits d between every attempt.
func ConstantBackoff(d time.Duration) awsretry.BackoffDelayer {
	return awsretry.BackoffDelayerFunc(func(int, error) (time.Duration, error) {
		return d, nil
	})
}

// Error is the terminal outcome of a request that did not succeed.
type Error struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts == 1 {
		return e.Err.Error()
	}
	return fmt.Sprintf("failed after %d attempts in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retrier runs an operation until it succeeds, fails with an error the
// policy does not retry, exhausts its attempts or runs out of time.
type Retrier struct {
	Policy  Policy
	Timeout time.Duration

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier builds a Retrier for cfg with the standard policy.
func NewRetrier(cfg Config) *Retrier {
	return &Retrier{
		Policy:  New(cfg),
		Timeout: cfg.RetryTimeout,
	}
}

// Do calls fn with 1-based attempt numbers. Any failure is returned as an
// *Error wrapping the last attempt's error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	start := time.Now()
	maxAttempts := max(r.Policy.MaxAttempts(), 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		fail := func(err error) error {
			return &Error{Attempts: attempt, Elapsed: time.Since(start), Err: err}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(err, ctxErr) {
				return fail(err)
			}
			return fail(errors.Join(ctxErr, err))
		}
		if attempt >= maxAttempts || !r.Policy.IsErrorRetryable(err) {
			return fail(err)
		}

		delay, delayErr := r.Policy.RetryDelay(attempt, err)
		if delayErr != nil {
			return fail(errors.Join(err, delayErr))
		}
		if r.Timeout > 0 && time.Since(start)+delay > r.Timeout {
			return fail(err)
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
