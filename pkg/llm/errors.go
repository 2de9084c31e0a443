package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// LLMError is the base error type for all LLM client errors.
type LLMError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses from the provider.
type ServerError struct{ LLMError }

// AuthError is returned on authentication/authorization failures.
type AuthError struct{ LLMError }

// ContextLengthError is returned when the request exceeds the model's context window.
type ContextLengthError struct{ LLMError }

// ContentFilterError is returned when the request is blocked by the provider's safety filter.
type ContentFilterError struct{ LLMError }

// StatusError classifies a non-2xx HTTP status into the error family.
func StatusError(code int, msg string, cause error) error {
	base := LLMError{Code: code, Message: msg, Cause: cause}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{base}
	case code == http.StatusTooManyRequests:
		return &RateLimitError{base}
	case code == http.StatusRequestEntityTooLarge:
		return &ContextLengthError{base}
	case code >= 500:
		return &ServerError{base}
	}
	return &base
}

// Retryable returns true if the error is transient and the request may be retried.
func Retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// retryBase is the first backoff interval.
var retryBase = time.Second

// WithRetry retries fn up to maxAttempts using exponential backoff with jitter.
// It respects context cancellation.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		// Exponential backoff: max 30x base, ±25% jitter
		base := time.Duration(1<<uint(i)) * retryBase
		if base > 30*retryBase {
			base = 30 * retryBase
		}
		jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
		wait := base/4*3 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}

// AsLLMError finds the LLMError carried by err, whichever member of the
// family wraps it.
func AsLLMError(err error) (*LLMError, bool) {
	var (
		rl   *RateLimitError
		se   *ServerError
		ae   *AuthError
		ce   *ContextLengthError
		cf   *ContentFilterError
		base *LLMError
	)
	switch {
	case errors.As(err, &rl):
		return &rl.LLMError, true
	case errors.As(err, &se):
		return &se.LLMError, true
	case errors.As(err, &ae):
		return &ae.LLMError, true
	case errors.As(err, &ce):
		return &ce.LLMError, true
	case errors.As(err, &cf):
		return &cf.LLMError, true
	case errors.As(err, &base):
		return base, true
	}
	return nil, false
}
