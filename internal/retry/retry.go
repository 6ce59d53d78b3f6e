// Package retry wraps remote calls with bounded, backed-off retries.
package retry

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// BaseDelay is doubled after each failed attempt.
	BaseDelay time.Duration
	// Sleep waits between attempts; nil uses a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is used by the tracker backends.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// AuthError reports rejected credentials. It is never retried.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "authentication error: " + e.Message
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// transientPatterns are lowercase message fragments of errors worth retrying.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"rate limit",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"eof",
}

// gatewayStatusRe matches 502-504 as whole numbers, so ports and ids that
// merely contain those digits do not count.
var gatewayStatusRe = regexp.MustCompile(`\b50[234]\b`)

// IsTransient classifies err by message pattern.
func IsTransient(err error) bool {
	if err == nil || IsAuthError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return gatewayStatusRe.MatchString(msg)
}

// preSendPatterns are lowercase fragments of failures raised before a
// request reached the server.
var preSendPatterns = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"dial tcp",
}

// IsPreSend reports whether err happened before the request was sent, so the
// server cannot have applied it.
func IsPreSend(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range preSendPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p Policy) sleep(ctx context.Context, attempt int) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, p.BaseDelay*time.Duration(1<<uint(attempt)))
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// policy's attempts are exhausted. The last error is returned. fn must be
// idempotent; use Mutate for creates and comments.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < attempts-1 {
			if err := p.sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// Mutate calls a non-idempotent fn, such as a create or a comment. A
// transient failure raised before sending is retried like Do. Any other
// transient failure may have been applied by the server, so applied is asked
// first: true ends the call successfully, false retries, and an error from
// applied returns fn's error. With a nil applied those failures are not
// retried.
func Mutate(ctx context.Context, p Policy, fn func(ctx context.Context) error, applied func(ctx context.Context) (bool, error)) error {
	attempts := p.attempts()
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= attempts-1 {
			return err
		}
		preSend := IsPreSend(err)
		if !preSend && applied == nil {
			return err
		}
		if serr := p.sleep(ctx, attempt); serr != nil {
			return serr
		}
		if preSend {
			continue
		}
		ok, aerr := applied(ctx)
		if aerr != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
