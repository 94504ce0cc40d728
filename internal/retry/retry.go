// Package retry holds the retry-with-ceiling policy shared by segment
// transcription and check-in insight generation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reverie/internal/services"
)

// Policy bounds how many attempts an entity may consume. Attempts reads the
// persisted attempt counter so the ceiling survives restarts.
type Policy[T any] struct {
	Name      string
	Ceiling   int
	Attempts  func(T) int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Allow returns nil when entity may be attempted again and an error matching
// services.ErrRetryExhausted otherwise. A ceiling of zero or less disables the
// bound.
func (p Policy[T]) Allow(entity T) error {
	if p.Ceiling <= 0 || p.Attempts == nil {
		return nil
	}
	used := p.Attempts(entity)
	if used >= p.Ceiling {
		return services.Wrap(
			services.ErrRetryExhausted,
			p.Name,
			"allow",
			fmt.Sprintf("%d of %d attempts used", used, p.Ceiling),
			nil,
		)
	}
	return nil
}

// Remaining reports how many attempts are left, or -1 when unbounded.
func (p Policy[T]) Remaining(entity T) int {
	if p.Ceiling <= 0 || p.Attempts == nil {
		return -1
	}
	left := p.Ceiling - p.Attempts(entity)
	if left < 0 {
		return 0
	}
	return left
}

// Backoff builds the exponential schedule between automatic attempts.
func (p Policy[T]) Backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		bo.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	// The ceiling bounds attempts; elapsed time does not.
	bo.MaxElapsedTime = 0
	var b backoff.BackOff = bo
	if p.Ceiling > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.Ceiling))
	}
	return backoff.WithContext(b, ctx)
}

// Run re-drives attempt until it succeeds, the ceiling is reached, or attempt
// returns an error wrapped with Stop. load is called before each attempt so
// that Allow always sees the persisted counter.
func (p Policy[T]) Run(ctx context.Context, load func(context.Context) (T, error), attempt func(context.Context, T) error) error {
	op := func() error {
		entity, err := load(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := p.Allow(entity); err != nil {
			return backoff.Permanent(err)
		}
		return attempt(ctx, entity)
	}
	err := backoff.Retry(op, p.Backoff(ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Stop marks err as not worth retrying.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
