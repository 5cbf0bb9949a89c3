package venue

import (
	"context"
	"testing"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, f := withRetry(context.Background(), func(ctx context.Context) (int, *Failure) {
		attempts++
		if attempts < 2 {
			return 0, &Failure{Kind: FailureVenueError, Message: "temporary"}
		}
		return 42, nil
	})
	if f != nil {
		t.Fatalf("unexpected failure: %v", f)
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestWithRetry_DoesNotRetryUnauthorized(t *testing.T) {
	attempts := 0
	_, f := withRetry(context.Background(), func(ctx context.Context) (int, *Failure) {
		attempts++
		return 0, &Failure{Kind: FailureUnauthorized, Message: "bad key"}
	})
	if f == nil {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (unauthorized must not retry)", attempts)
	}
}

func TestWithRetry_StopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	_, f := withRetry(context.Background(), func(ctx context.Context) (int, *Failure) {
		attempts++
		return 0, &Failure{Kind: FailureVenueError, Message: "down"}
	})
	if f == nil {
		t.Fatal("expected failure")
	}
	if attempts != maxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, maxAttempts)
	}
}
