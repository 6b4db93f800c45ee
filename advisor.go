package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Advisor produces one supervisor reply for a chat history whose first entry
// is the system prompt.
type Advisor interface {
	Name() string
	Respond(ctx context.Context, history []ChatMessage) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("no content in response")

// ProviderError carries the HTTP status of a failed provider call so the
// retry loop can tell transient failures from permanent ones.
type ProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// parseRetryAfter parses the Retry-After header value and returns duration
func parseRetryAfter(retryAfter string) time.Duration {
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := time.Parse(time.RFC1123, retryAfter); err == nil {
		return time.Until(retryTime)
	}

	return 0
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode == http.StatusTooManyRequests || perr.StatusCode >= 500
	}
	return false
}

// RetryPolicy controls how transient advisor failures are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries three times with 2s, 4s, 8s backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  2 * time.Second,
	MaxDelay:   60 * time.Second,
}

type retryingAdvisor struct {
	Advisor
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps an advisor so rate limits, 5xx responses and empty replies
// are retried with capped exponential backoff. A Retry-After hint from the
// provider takes precedence over the computed delay.
func WithRetry(a Advisor, policy RetryPolicy, logger *slog.Logger) Advisor {
	return &retryingAdvisor{Advisor: a, policy: policy, logger: logger, sleep: sleepContext}
}

func (r *retryingAdvisor) Respond(ctx context.Context, history []ChatMessage) (string, error) {
	for attempt := 0; ; attempt++ {
		reply, err := r.Advisor.Respond(ctx, history)
		if err == nil {
			return reply, nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return "", err
		}
		if attempt == r.policy.MaxRetries {
			return "", fmt.Errorf("%s failed after %d retries: %w", r.Name(), r.policy.MaxRetries, err)
		}

		delay := r.policy.BaseDelay * time.Duration(1<<attempt)
		var perr *ProviderError
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			delay = perr.RetryAfter
		}
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}

		r.logger.Warn("Advisor call failed, retrying",
			"advisor", r.Name(),
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxRetries+1,
			"delay", delay,
			"error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type instrumentedAdvisor struct {
	Advisor
}

// Instrumented records request counts and latency of an advisor in the
// Prometheus metrics.
func Instrumented(a Advisor) Advisor {
	return instrumentedAdvisor{Advisor: a}
}

func (i instrumentedAdvisor) Respond(ctx context.Context, history []ChatMessage) (string, error) {
	start := time.Now()
	reply, err := i.Advisor.Respond(ctx, history)
	observeAdvisorCall(i.Name(), time.Since(start), err)
	return reply, err
}
