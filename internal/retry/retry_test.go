package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errFlaky = errors.New("flaky")
	errAuth  = errors.New("auth expired")
)

func noSleep(context.Context, time.Duration) error { return nil }

func testPolicy() Policy {
	p := Default("test")
	p.Sleep = noSleep
	return p
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDoHonoursRetryable(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, errFlaky) }

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDoRefreshesAuthOnce(t *testing.T) {
	t.Parallel()

	refreshes := 0
	p := testPolicy()
	p.AuthExpired = func(err error) bool { return errors.Is(err, errAuth) }
	p.Refresh = func(context.Context) error {
		refreshes++
		return nil
	}

	t.Run("refresh then success", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return errAuth
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refreshes)
	})

	t.Run("second auth failure surfaces", func(t *testing.T) {
		refreshes = 0
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errAuth
		})
		assert.ErrorIs(t, err, errAuth)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refreshes)
	})
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Attempts = 1
	p.Timeout = 10 * time.Millisecond

	err := p.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValue(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Value(context.Background(), testPolicy(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
