package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	nethttp "net/http"
	"strings"
	"time"
)

// ErrorType is the retry class of a failed request.
type ErrorType int

const (
	ErrorTypeSuccess    ErrorType = iota
	ErrorTypeCredential           // 401/403, expired or rejected credentials
	ErrorTypeNetwork              // resets, refusals, timeouts
	ErrorTypeRetryable            // throttling and 5xx
	ErrorTypeFatal                // everything else, including cancellation
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// Retryable reports whether errors of this class are worth another attempt
// after a backoff. Credential errors are not: they need a new token first.
func (t ErrorType) Retryable() bool {
	return t == ErrorTypeNetwork || t == ErrorTypeRetryable
}

// StatusError is returned by transports when the remote end answered with a
// non-success status. Classification prefers the code over the message text.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("unexpected status %d %s", e.Code, nethttp.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Lower-cased fragments of SDK and socket error messages, checked in this
// order. S3 and Azure report most failures as text rather than typed errors.
var errorMarkers = []struct {
	class     ErrorType
	fragments []string
}{
	{ErrorTypeCredential, []string{
		"expired", "invalid token", "unauthorized", "401", "403",
		"authentication failed", "authenticationfailed", "invalid sas", "signature not valid",
	}},
	{ErrorTypeNetwork, []string{
		"connection reset", "connection refused", "broken pipe", "eof", "timeout",
	}},
	{ErrorTypeRetryable, []string{
		"requesttimeout", "internalerror", "serviceunavailable", "service unavailable",
		"slowdown", "throttl", "serverbusy", "server busy", "operationtimeout",
		"429", "500", "502", "503", "504",
	}},
}

// ClassifyError maps err to a retry class. A cancelled context is fatal.
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeSuccess
	case errors.Is(err, context.Canceled):
		return ErrorTypeFatal
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Code)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range errorMarkers {
		for _, f := range m.fragments {
			if strings.Contains(msg, f) {
				return m.class
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeNetwork
	}
	return ErrorTypeFatal
}

func classifyStatus(code int) ErrorType {
	switch {
	case code < 300:
		return ErrorTypeSuccess
	case code == nethttp.StatusUnauthorized, code == nethttp.StatusForbidden:
		return ErrorTypeCredential
	case code == nethttp.StatusRequestTimeout, code == nethttp.StatusTooManyRequests, code >= 500:
		return ErrorTypeRetryable
	}
	return ErrorTypeFatal
}

// CalculateBackoff returns a full-jitter delay in [0, min(maxDelay, initialDelay<<attempt)).
// Attempt 0 never waits.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 || maxDelay <= 0 {
		return 0
	}
	ceiling := maxDelay
	if attempt < 30 {
		if d := initialDelay << uint(attempt); d > 0 && d < maxDelay {
			ceiling = d
		}
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

// Policy bounds the attempts and delays of Retry.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// OnRetry, when set, is called before sleeping ahead of attempt n+1.
	OnRetry func(n int, err error, class ErrorType)
}

// DefaultPolicy makes up to 10 attempts with 200ms..15s jittered backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 10, InitialDelay: 200 * time.Millisecond, MaxDelay: 15 * time.Second}
}

// Retry calls op until it succeeds, fails with a fatal error, or the policy
// runs out of attempts. Credential errors wait InitialDelay, on the
// assumption that op refreshes its own credentials. Retry gives up early when
// ctx ends or its deadline is closer than the next wait.
func Retry(ctx context.Context, p Policy, op func() error) error {
	attempts := max(p.MaxAttempts, 1)
	var last error

	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return withLast(err, last)
		}

		err := op()
		if err == nil {
			return nil
		}
		last = err

		class := ClassifyError(err)
		if class == ErrorTypeFatal || class == ErrorTypeSuccess {
			return err
		}
		if n == attempts {
			break
		}

		wait := p.InitialDelay
		if class != ErrorTypeCredential {
			wait = CalculateBackoff(n, p.InitialDelay, p.MaxDelay)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return fmt.Errorf("deadline too close to retry after %d attempts: %w", n, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(n, err, class)
		}
		if err := sleep(ctx, wait); err != nil {
			return withLast(err, last)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, last)
}

func withLast(err, last error) error {
	if last == nil {
		return err
	}
	return fmt.Errorf("%w (last error: %v)", err, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
