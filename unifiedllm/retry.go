package unifiedllm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides how often and how patiently a failed model request is
// sent again. Delays are in seconds.
type RetryPolicy struct {
	MaxRetries        int // resends after the first attempt
	BaseDelay         float64
	MaxDelay          float64 // also the longest Retry-After honored
	BackoffMultiplier float64
	Jitter            bool // scale each delay by a random factor in [0.5, 1.5)

	// OnRetry is called before each resend with the error that caused it,
	// the 1-based resend number and the wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy resends a model request twice, starting one second
// after the failure and doubling from there.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// LogRetries returns an OnRetry hook that reports each resend at warn level.
func LogRetries(logger *slog.Logger) func(error, int, time.Duration) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model request",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
}

// Delay is the backoff before resend n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	seconds := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		seconds *= 0.5 + rand.Float64()
	}
	return time.Duration(seconds * float64(time.Second))
}

// wait returns how long to wait before resend n after err, or false when
// err must be returned as is: it is permanent, or the provider asked for a
// longer pause than MaxDelay.
func (p RetryPolicy) wait(err error, attempt int) (time.Duration, bool) {
	if !IsRetryable(err) {
		return 0, false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		after := time.Duration(*rl.RetryAfter * float64(time.Second))
		if after > time.Duration(p.MaxDelay*float64(time.Second)) {
			return 0, false
		}
		return after, true
	}
	return p.Delay(attempt), true
}

// Retry calls fn, resending after transient failures such as dropped
// connections, overloaded servers and rate limits. Cancelling ctx while
// waiting ends the retry with an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	for attempt := 0; err != nil && attempt < policy.MaxRetries; attempt++ {
		delay, ok := policy.wait(err, attempt)
		if !ok {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, &AbortError{SDKError: SDKError{Message: "model request cancelled while waiting to retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
		result, err = fn(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// RetryMiddleware retries failed provider calls according to policy. It is
// the only place the porting agent retries a model call; the conversation
// loop itself never does.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}
