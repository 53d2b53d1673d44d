// Package retry retries remote calls that fail with transient errors.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"skald/api/model"
)

// Policy bounds the retries for one call site.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var Default = Policy{MaxRetries: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// policy's retries are exhausted. The last error is returned as is.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return DoNotify(ctx, p, fn, nil)
}

// DoNotify is Do with a callback invoked before each retry.
func DoNotify(ctx context.Context, p Policy, fn func() error, notify func(err error, wait time.Duration)) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
