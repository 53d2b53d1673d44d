package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skald/api/model"
)

var fast = Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("put: %w", model.ErrThrottled)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return model.ErrUnavailable
	})
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, 4, calls) // first attempt + 3 retries
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return fmt.Errorf("head: %w", model.ErrForbidden)
	})
	assert.True(t, errors.Is(err, model.ErrForbidden))
	assert.Equal(t, 1, calls)
}

func TestDoNotify(t *testing.T) {
	var waits int
	calls := 0
	_ = DoNotify(context.Background(), fast, func() error {
		calls++
		if calls == 1 {
			return model.ErrThrottled
		}
		return nil
	}, func(err error, d time.Duration) { waits++ })
	assert.Equal(t, 1, waits)
}
