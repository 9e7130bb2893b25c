// Package retry shields remote calls with bounded retries and backoff.
// Every failure is retried up to the configured bound; the last failure is
// returned to the caller as a plain error value.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
)

// ErrRejected is returned (wrapped) when a result fails validation.
var ErrRejected = errors.New("result rejected by validator")

// Attempt describes one failed attempt. Delay is the pause before the next
// attempt and is zero for the final one.
type Attempt struct {
	Index int
	Err   error
	Delay time.Duration
}

// Options configures Invoke. MaxRetries and Exponential are pointers so that
// an explicit zero or false can be told apart from "use the default"
// (DefaultMaxRetries, true).
type Options[T any] struct {
	MaxRetries  *int
	BaseDelay   time.Duration
	Exponential *bool
	Validate    func(T) bool
	OnAttempt   func(Attempt)
	Logger      *slog.Logger

	timer retrygo.Timer
}

// Bool returns a pointer to b, for Options.Exponential.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for Options.MaxRetries.
func Int(n int) *int { return &n }

func (o Options[T]) withDefaults() Options[T] {
	switch {
	case o.MaxRetries == nil:
		o.MaxRetries = Int(DefaultMaxRetries)
	case *o.MaxRetries < 0:
		o.MaxRetries = Int(0)
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Exponential == nil {
		o.Exponential = Bool(true)
	}
	if o.Validate == nil {
		o.Validate = func(T) bool { return true }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Backoff returns the delay inserted after the attempt with the given
// zero-based index: base*2^index when exponential, base otherwise.
func Backoff(base time.Duration, exponential bool, index int) time.Duration {
	if !exponential || index <= 0 {
		return base
	}
	// Cap the shift so the duration cannot overflow.
	return base << min(index, 30)
}

// Invoke runs call until it succeeds and passes validation, or until
// MaxRetries retries have been spent. ctx bounds the backoff sleeps only;
// a call already in flight is not interrupted by Invoke.
func Invoke[T any](ctx context.Context, call func() (T, error), opts Options[T]) (T, error) {
	o := opts.withDefaults()
	attempts := uint(*o.MaxRetries) + 1
	exp := *o.Exponential

	retryOpts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.LastErrorOnly(true),
		// n counts retries already scheduled, so the pause after attempt i is requested with n = i+1.
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return Backoff(o.BaseDelay, exp, int(n)-1)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			a := Attempt{Index: int(n), Err: err}
			if n+1 < attempts {
				a.Delay = Backoff(o.BaseDelay, exp, int(n))
			}
			attemptsTotal.WithLabelValues(outcomeFailed).Inc()
			if a.Delay > 0 {
				o.Logger.Warn("remote call failed, retrying",
					"attempt", a.Index+1,
					"max_attempts", attempts,
					"delay_ms", a.Delay.Milliseconds(),
					"error", err,
				)
			} else {
				o.Logger.Warn("remote call failed, retries exhausted",
					"attempt", a.Index+1,
					"max_attempts", attempts,
					"error", err,
				)
			}
			if o.OnAttempt != nil {
				o.OnAttempt(a)
			}
		}),
	}
	if o.timer != nil {
		retryOpts = append(retryOpts, retrygo.WithTimer(o.timer))
	}

	return retrygo.DoWithData(func() (T, error) {
		v, err := call()
		if err != nil {
			return v, err
		}
		if !o.Validate(v) {
			return v, fmt.Errorf("%w: %v", ErrRejected, v)
		}
		attemptsTotal.WithLabelValues(outcomeSucceeded).Inc()
		return v, nil
	}, retryOpts...)
}

// Probe runs check once, retrying at most once with a fixed delay, and
// degrades any failure or a false result to false.
func Probe(ctx context.Context, check func() (bool, error), baseDelay time.Duration, logger *slog.Logger) bool {
	ok, err := Invoke(ctx, check, Options[bool]{
		MaxRetries:  Int(1),
		BaseDelay:   baseDelay,
		Exponential: Bool(false),
		Validate:    func(v bool) bool { return v },
		Logger:      logger,
	})
	if err != nil {
		return false
	}
	return ok
}
