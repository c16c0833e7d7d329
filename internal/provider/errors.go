package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrAuth means the mailbox credentials were rejected; retrying will not help.
	ErrAuth = errors.New("mail provider authentication failed")
	// ErrTransient marks rate limits, timeouts and server errors.
	ErrTransient = errors.New("mail provider temporarily unavailable")
)

// IsAuth reports whether err is a credential failure
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized {
			return true
		}
		if apiErr.Code == http.StatusForbidden && !hasRateLimitReason(apiErr) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil || IsAuth(err) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 || hasRateLimitReason(apiErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout")
}

func hasRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// RetryPolicy bounds retries of transient provider errors
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Retry calls fn until it succeeds, fails with a non-transient error, the attempts
// are exhausted, or ctx ends. Delays double after each attempt.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == attempts {
			break
		}

		wait := p.BaseDelay << (attempt - 1)
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
		}).Warnf("Transient provider error, retrying: %v", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	if IsTransient(lastErr) {
		return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}
