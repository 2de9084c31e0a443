package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry(t *testing.T) {
	old := retryBase
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = old })

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), 3, func() error {
			calls++
			if calls < 3 {
				return &ServerError{LLMError{Code: 502}}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithRetry: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), 5, func() error {
			calls++
			return &AuthError{LLMError{Code: 401}}
		})
		var auth *AuthError
		if !errors.As(err, &auth) {
			t.Fatalf("err = %v, want *AuthError", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		err := WithRetry(context.Background(), 2, func() error {
			return &RateLimitError{LLMError{Code: 429}}
		})
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			t.Fatalf("err = %v, want wrapped *RateLimitError", err)
		}
	})
}
