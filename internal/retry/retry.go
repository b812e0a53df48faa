// Package retry implements exponential backoff with jitter over
// classifiable-retriable failures. Non-retriable failures propagate
// immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rcliao/briefkg/internal/graph"
)

// Policy configures the retry loop.
type Policy struct {
	Tries    int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy matches spec defaults: tries=6, base=500ms, max=8s.
func DefaultPolicy() Policy {
	return Policy{Tries: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

func isRetriable(err error) bool {
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		return gerr.Retriable()
	}
	// Unclassified errors are treated conservatively as non-retriable: only
	// errors explicitly tagged transport by the caller get a retry budget.
	return false
}

// Do runs fn until it succeeds, exhausts the policy's tries, or returns a
// non-retriable error. Backoff is min(MaxDelay, BaseDelay*2^i) plus uniform
// jitter in [0, 250ms).
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is the generic variant of Do for functions that return a value.
func DoValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	tries := policy.Tries
	if tries <= 0 {
		tries = 1
	}

	for attempt := 0; attempt < tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if !isRetriable(err) {
			return zero, err
		}
		if attempt == tries-1 {
			break
		}

		delay := backoff(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func backoff(policy Policy, attempt int) time.Duration {
	base := policy.BaseDelay
	max := policy.MaxDelay
	d := base << attempt // base * 2^attempt
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	return d + jitter
}
