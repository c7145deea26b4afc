// Package throttle implements the adaptive concurrency limiter: a counting
// semaphore with a mutable limit, driven by an error-rate/latency feedback
// loop. A fixed-permit semaphore or golang.org/x/time/rate limiter cannot
// be resized without orphaning waiters, which is why this is a
// sync.Cond-based counter instead.
package throttle

import (
	"container/ring"
	"context"
	"sync"
	"time"
)

// Config tunes the throttle's feedback loop.
type Config struct {
	InitialLimit      int
	Min               int
	Max               int
	AdjustmentInterval time.Duration
	HealthyErrorRate   float64
	UnhealthyErrorRate float64
	HighLatencyMS      float64
	IncreaseFactor     float64
	DecreaseFactor     float64
	RateLimitFactor    float64
	LatencyWindow      int
}

// DefaultConfig returns sensible defaults for the adaptive throttle.
func DefaultConfig() Config {
	return Config{
		InitialLimit:       8,
		Min:                1,
		Max:                64,
		AdjustmentInterval: 10 * time.Second,
		HealthyErrorRate:   0.01,
		UnhealthyErrorRate: 0.05,
		HighLatencyMS:      1000,
		IncreaseFactor:     1.2,
		DecreaseFactor:     0.8,
		RateLimitFactor:    0.5,
		LatencyWindow:      100,
	}
}

// Throttle is a mutable-limit counting semaphore. Acquire blocks while
// active >= limit; Release wakes exactly one waiter. The feedback loop
// (MaybeAdjust, RecordFailure) mutates limit under the same lock, so waiters re-test their
// condition on every wakeup rather than holding a stale permit count.
type Throttle struct {
	cfg Config

	mu     sync.Mutex
	cond   *sync.Cond
	active int
	limit  int

	successes int
	failures  int

	latencies    *ring.Ring
	latencyCount int

	lastAdjust time.Time
}

// New constructs a Throttle at cfg.InitialLimit.
func New(cfg Config) *Throttle {
	t := &Throttle{
		cfg:        cfg,
		limit:      cfg.InitialLimit,
		latencies:  ring.New(cfg.LatencyWindow),
		lastAdjust: time.Now(),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Acquire blocks until a slot is available or ctx is cancelled. Returns a
// non-nil error only on cancellation.
func (t *Throttle) Acquire(ctx context.Context) error {
	done := make(chan struct{})
	var cancelled bool

	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			cancelled = true
			t.mu.Unlock()
			t.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.active >= t.limit && !cancelled {
		t.cond.Wait()
	}
	if cancelled {
		return ctx.Err()
	}
	t.active++
	return nil
}

// Release decrements the active count and wakes exactly one waiter.
func (t *Throttle) Release() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	t.cond.Signal()
}

// RecordSuccess feeds a successful call's latency into the sliding window.
func (t *Throttle) RecordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes++
	t.latencies.Value = float64(latency.Milliseconds())
	t.latencies = t.latencies.Next()
	if t.latencyCount < t.cfg.LatencyWindow {
		t.latencyCount++
	}
}

// RecordFailure feeds a failed call into the error-rate window. If
// rateLimited is true, an immediate stronger decrease is applied outside
// the normal adjustment cadence.
func (t *Throttle) RecordFailure(rateLimited bool) {
	t.mu.Lock()
	t.failures++
	if rateLimited {
		t.limit = maxInt(t.cfg.Min, int(float64(t.limit)*t.cfg.RateLimitFactor))
	}
	t.mu.Unlock()
	if rateLimited {
		t.cond.Broadcast()
	}
}

// Limit returns the current limit (for tests/metrics).
func (t *Throttle) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// Active returns the current in-flight count (for tests/metrics).
func (t *Throttle) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// MaybeAdjust runs the feedback loop if AdjustmentInterval has elapsed
// since the last adjustment. Callers invoke this periodically (e.g. from
// the executor's main loop); it is a no-op between intervals.
func (t *Throttle) MaybeAdjust() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastAdjust) < t.cfg.AdjustmentInterval {
		return
	}
	t.lastAdjust = time.Now()

	total := t.successes + t.failures
	if total == 0 {
		return
	}
	errorRate := float64(t.failures) / float64(total)
	avgLatency := t.averageLatencyLocked()

	switch {
	case errorRate < t.cfg.HealthyErrorRate && avgLatency < t.cfg.HighLatencyMS:
		newLimit := int(float64(t.limit) * t.cfg.IncreaseFactor)
		if newLimit <= t.limit {
			// small limits would truncate back to themselves; grow by one.
			newLimit = t.limit + 1
		}
		newLimit = minInt(t.cfg.Max, newLimit)
		if newLimit > t.limit {
			t.limit = newLimit
			t.cond.Broadcast()
		}
	case errorRate > t.cfg.UnhealthyErrorRate || avgLatency >= t.cfg.HighLatencyMS:
		t.limit = maxInt(t.cfg.Min, int(float64(t.limit)*t.cfg.DecreaseFactor))
	}

	t.successes = 0
	t.failures = 0
}

func (t *Throttle) averageLatencyLocked() float64 {
	if t.latencyCount == 0 {
		return 0
	}
	var sum float64
	n := 0
	t.latencies.Do(func(v any) {
		if v == nil {
			return
		}
		sum += v.(float64)
		n++
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
