package venue

import (
	"context"
	"time"
)

// retry policy constants from §4.1: exponential backoff base 1s, at most
// 3 attempts, 30s total timeout across all attempts.
const (
	retryBase       = time.Second
	maxAttempts     = 3
	retryTotalLimit = 30 * time.Second
)

// withRetry runs op up to maxAttempts times with exponential backoff,
// stopping early on a non-retryable Failure or once the 30s total budget
// is spent. This is a purpose-built wrapper rather than resty's generic
// 5xx retry condition, because §4.1 requires classifying "invalid" and
// "unauthorized" responses as non-retryable regardless of status code.
func withRetry[T any](ctx context.Context, op func(ctx context.Context) (T, *Failure)) (T, *Failure) {
	deadline := time.Now().Add(retryTotalLimit)
	backoff := retryBase

	var zero T
	var lastFailure *Failure
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if time.Now().After(deadline) {
			if lastFailure != nil {
				return zero, lastFailure
			}
			return zero, &Failure{Kind: FailureTimeout, Message: "retry budget exhausted"}
		}

		result, failure := op(ctx)
		if failure == nil {
			return result, nil
		}
		lastFailure = failure
		if !failure.Retryable() || attempt == maxAttempts {
			return zero, failure
		}

		wait := backoff
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return zero, &Failure{Kind: FailureTimeout, Message: ctx.Err().Error()}
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return zero, lastFailure
}
