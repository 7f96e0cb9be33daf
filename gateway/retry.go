package gateway

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/richinex/tutor/llm"
)

// RetryPolicy bounds live calls: each attempt gets Timeout, transient
// failures are retried up to MaxRetries times with exponential backoff.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  2,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
		Timeout:     60 * time.Second,
		Jitter:      true,
	}
}

// do runs fn until it succeeds, fails with a non-transient error, or the
// retries run out. The last error is returned unwrapped so callers can still
// match vendor error types.
func (p RetryPolicy) do(ctx context.Context, onRetry func(attempt int, wait time.Duration, err error), fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, wait, lastErr)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		// caller gave up; the attempt's own deadline is not the caller's
		if ctx.Err() != nil || !IsTransient(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff returns base * 2^(attempt-1), capped at BackoffMax, with ±25%
// jitter when enabled.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && (p.BackoffMax <= 0 || delay < p.BackoffMax); i++ {
		delay *= 2
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}

	if p.Jitter {
		spread := float64(delay) * 0.25
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = base
	}
	return delay
}

// IsTransient reports whether a failed live call is worth retrying:
// timeouts, rate limits, server errors and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if code := llm.StatusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	// SDKs that don't expose a typed error still mention the status
	msg := strings.ToLower(err.Error())
	if transientStatus.MatchString(msg) {
		return true
	}
	for _, pattern := range []string{
		"timeout", "deadline exceeded", "rate limit", "too many requests",
		"connection reset", "connection refused", "broken pipe",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// transientStatus matches a 408, 429 or 5xx status only where the message
// labels it as one, so numbers like "max_tokens 1500" are not mistaken for it.
var transientStatus = regexp.MustCompile(`\b(?:status|code|http)(?: code)?[\s:=]*(?:408|429|5\d\d)\b`)
