package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialLimit = 2
	cfg.Min = 1
	cfg.Max = 8
	cfg.AdjustmentInterval = 0 // MaybeAdjust runs on every call in tests
	return cfg
}

func TestAcquireRelease_RespectsLimit(t *testing.T) {
	th := New(testConfig())
	ctx := context.Background()

	require.NoError(t, th.Acquire(ctx))
	require.NoError(t, th.Acquire(ctx))
	assert.Equal(t, 2, th.Active())

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, th.Acquire(ctx))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire should have blocked at limit 2")
	case <-time.After(50 * time.Millisecond):
	}

	th.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire should have unblocked after Release")
	}
	assert.Equal(t, 2, th.Active())
}

func TestAcquire_CancelledContext(t *testing.T) {
	th := New(testConfig())
	ctx := context.Background()
	require.NoError(t, th.Acquire(ctx))
	require.NoError(t, th.Acquire(ctx))

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := th.Acquire(cancelCtx)
	assert.ErrorIs(t, err, context.Canceled)
	// a cancelled waiter must not have incremented active.
	assert.Equal(t, 2, th.Active())
}

func TestMaybeAdjust_IncreasesOnHealthyTraffic(t *testing.T) {
	th := New(testConfig())
	for i := 0; i < 50; i++ {
		th.RecordSuccess(10 * time.Millisecond)
	}
	th.MaybeAdjust()
	assert.Greater(t, th.Limit(), 2)
}

func TestMaybeAdjust_DecreasesOnHighErrorRate(t *testing.T) {
	th := New(testConfig())
	for i := 0; i < 10; i++ {
		th.RecordFailure(false)
	}
	th.MaybeAdjust()
	assert.LessOrEqual(t, th.Limit(), 2)
}

func TestMaybeAdjust_DecreasesOnHighLatency(t *testing.T) {
	th := New(testConfig())
	for i := 0; i < 20; i++ {
		th.RecordSuccess(5 * time.Second)
	}
	th.MaybeAdjust()
	assert.LessOrEqual(t, th.Limit(), 2)
}

func TestMaybeAdjust_NeverBelowMin(t *testing.T) {
	th := New(testConfig())
	for round := 0; round < 20; round++ {
		for i := 0; i < 10; i++ {
			th.RecordFailure(false)
		}
		th.MaybeAdjust()
	}
	assert.GreaterOrEqual(t, th.Limit(), th.cfg.Min)
}

func TestMaybeAdjust_NeverAboveMax(t *testing.T) {
	th := New(testConfig())
	for round := 0; round < 30; round++ {
		for i := 0; i < 50; i++ {
			th.RecordSuccess(time.Millisecond)
		}
		th.MaybeAdjust()
	}
	assert.LessOrEqual(t, th.Limit(), th.cfg.Max)
}

func TestMaybeAdjust_NoOpWithNoSamples(t *testing.T) {
	th := New(testConfig())
	th.MaybeAdjust()
	assert.Equal(t, th.cfg.InitialLimit, th.Limit())
}

func TestMaybeAdjust_RespectsAdjustmentInterval(t *testing.T) {
	cfg := testConfig()
	cfg.AdjustmentInterval = time.Hour
	th := New(cfg)
	for i := 0; i < 10; i++ {
		th.RecordFailure(false)
	}
	th.MaybeAdjust()
	// the interval has not elapsed, so the failures above must not have
	// moved the limit yet.
	assert.Equal(t, cfg.InitialLimit, th.Limit())
}

func TestRecordFailure_RateLimitedShrinksImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.InitialLimit = 10
	cfg.RateLimitFactor = 0.5
	th := New(cfg)

	th.RecordFailure(true)
	assert.Equal(t, 5, th.Limit())
}

func TestRecordFailure_RateLimitedWakesWaiters(t *testing.T) {
	cfg := testConfig()
	cfg.InitialLimit = 1
	th := New(cfg)
	ctx := context.Background()
	require.NoError(t, th.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		// limit will shrink to 1*0.5 rounded down to Min(1), so this
		// second Acquire stays blocked until Release, but the broadcast
		// from RecordFailure must not deadlock or panic the waiter.
		require.NoError(t, th.Acquire(ctx))
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	th.RecordFailure(true)
	time.Sleep(20 * time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("waiter should still be blocked at limit 1")
	default:
	}

	th.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter should unblock once the original holder releases")
	}
}
