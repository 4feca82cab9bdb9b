// Package retry runs operations against unreliable upstreams with bounded
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"landscaper/internal/domain"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxTries:        10,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxTries == 0 {
		p.MaxTries = DefaultPolicy.MaxTries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the context ends
// or the policy is exhausted. Exhaustion is reported as
// domain.ErrUpstreamUnavailable wrapping the last error.
func Do[T any](ctx context.Context, logger *zap.Logger, name string, p Policy, op func() (T, error)) (T, error) {
	p = p.withDefaults()
	var (
		attempt   int
		permanent bool
	)
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op()
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
		}
		return res, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("retrying",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err == nil {
		return result, nil
	}

	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return result, pe.Unwrap()
	}
	if permanent || ctx.Err() != nil {
		return result, err
	}
	return result, fmt.Errorf("%s: %w after %d attempts: %w", name, domain.ErrUpstreamUnavailable, attempt, err)
}
