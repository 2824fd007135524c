// Package retry wraps fallible remote operations in bounded, jittered
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
)

const (
	defaultMaxRetries   = 5
	defaultInitialDelay = 200 * time.Millisecond
	defaultFactor       = 2.0
	maxDelayMultiple    = 10
	jitterFactor        = 0.5
)

// Policy describes how an action is retried. MaxRetries counts additional
// attempts after the first one.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Factor       float64
	Jitter       bool
	// MaxDelay caps a single wait. Zero means ten times InitialDelay.
	MaxDelay time.Duration

	Logger      *log.Logger
	Instruments *telemetry.Instruments
}

// DefaultPolicy returns five retries starting at 200ms, doubling, jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		Factor:       defaultFactor,
		Jitter:       true,
		MaxDelay:     0,
		Logger:       nil,
		Instruments:  nil,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.Factor < 1 {
		p.Factor = defaultFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay * maxDelayMultiple
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	b.Reset()
	return b
}

// Do runs action until it succeeds, fails permanently, exhausts the policy or
// ctx ends. Errors classified as non-retryable by errs.IsRetryable stop at
// once. The last failure is returned unchanged.
func Do[T any](ctx context.Context, p Policy, action func(context.Context) (T, error)) (T, error) {
	p = p.Normalize()
	attempt := 0
	op := func() (T, error) {
		attempt++
		value, err := action(ctx)
		if err == nil {
			p.Instruments.RetryAttempt(ctx, "")
			return value, nil
		}
		p.Instruments.RetryAttempt(ctx, errorType(err))
		if !errs.IsRetryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Printf("retrying attempt=%d wait=%s: %v", attempt, wait, err)
		}
	}

	value, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return zero, fmt.Errorf("retry interrupted after %d attempts: %w: %w", attempt, ctxErr, err)
		}
		return zero, err
	}
	return value, nil
}

// Run is Do for actions without a result.
func Run(ctx context.Context, p Policy, action func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	})
	return err
}

func errorType(err error) string {
	if code, ok := errs.CodeOf(err); ok {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unknown"
}
