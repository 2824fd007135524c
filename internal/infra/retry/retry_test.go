package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/errs"
)

func fastPolicy(retries int) Policy {
	p := DefaultPolicy()
	p.MaxRetries = retries
	p.InitialDelay = time.Millisecond
	return p
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(5), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastFailureWhenExhausted(t *testing.T) {
	calls := 0
	var last error
	_, err := Do(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		last = errs.New("rest", errs.CodeNetwork, errs.WithMessage("attempt"), errs.WithField("n", string(rune('0'+calls))))
		return 0, last
	})
	require.Equal(t, 3, calls, "one attempt plus two retries")
	require.Same(t, last, err)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errs.New("rest", errs.CodeInvalid, errs.WithMessage("bad address"))
	})
	require.Equal(t, 1, calls)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialDelay = time.Hour
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("down")
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("retry did not observe cancellation")
	}
	require.Equal(t, 1, calls)
}

func TestNormalizeDefaults(t *testing.T) {
	p := Policy{MaxRetries: -1, InitialDelay: 0, Factor: 0}.Normalize()
	require.Equal(t, 0, p.MaxRetries)
	require.Equal(t, defaultInitialDelay, p.InitialDelay)
	require.Equal(t, defaultFactor, p.Factor)
	require.Equal(t, 10*defaultInitialDelay, p.MaxDelay)
}

func TestBackOffIsCapped(t *testing.T) {
	p := Policy{MaxRetries: 20, InitialDelay: 10 * time.Millisecond, Factor: 2, Jitter: false}.Normalize()
	b := p.backOff()
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
		require.LessOrEqual(t, last, 100*time.Millisecond)
	}
	require.Equal(t, 100*time.Millisecond, last)

	p.Jitter = true
	b = p.backOff()
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		require.LessOrEqual(t, d, 150*time.Millisecond)
		require.Positive(t, d)
	}
}

func TestRunWrapsErrorOnlyActions(t *testing.T) {
	calls := 0
	err := Run(context.Background(), fastPolicy(1), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
