// Package retry wraps calls to external collaborators with a bounded
// per-attempt timeout and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yanun0323/logs"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

type Policy struct {
	Name     string
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Timeout  time.Duration // per attempt, 0 means the caller's context only

	// Retryable classifies errors; nil retries anything that is not Permanent.
	Retryable func(error) bool

	// AuthExpired and Refresh implement the refresh-then-retry-once path.
	AuthExpired func(error) bool
	Refresh     func(context.Context) error

	// Sleep is swapped out by tests.
	Sleep func(context.Context, time.Duration) error
}

func Default(name string) Policy {
	return Policy{
		Name:     name,
		Attempts: 3,
		Initial:  250 * time.Millisecond,
		Max:      2 * time.Second,
		Timeout:  5 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Do runs op until it succeeds, returns a non-retryable error or the attempt
// budget is spent. An auth-expired error triggers one token refresh and an
// immediate retry that does not count against the budget.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.Initial
	refreshed := false

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.once(ctx, op)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}

		if p.AuthExpired != nil && p.AuthExpired(err) {
			if refreshed || p.Refresh == nil {
				return err
			}
			refreshed = true
			logs.Warnf("%s: auth expired, refreshing token", p.Name)
			if rerr := p.Refresh(ctx); rerr != nil {
				return fmt.Errorf("%s: token refresh: %w", p.Name, rerr)
			}
			attempt--
			continue
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		logs.Warnf("%s: attempt %d/%d failed: %v (retrying in %s)", p.Name, attempt, attempts, err, delay)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", p.Name, attempts, err)
}

func (p Policy) once(ctx context.Context, op func(context.Context) error) error {
	if p.Timeout <= 0 {
		return op(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return op(cctx)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
