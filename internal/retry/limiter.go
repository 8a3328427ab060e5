package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter gates concurrent provider calls behind a ceiling that
// shrinks on failures and slow calls and grows back on sustained success.
//
// The semaphore is sized at the configured maximum; shrinking works by
// the limiter reserving slots for itself so callers see a smaller
// ceiling. Growth releases the reservation one slot at a time.
type AdaptiveLimiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter // nil when rate limiting is disabled

	mu       sync.Mutex
	ceiling  int // current allowed concurrency
	min, max int
	reserved int // slots the limiter holds to enforce the ceiling

	window     []outcome // rolling outcome window
	windowSize int
	slowCutoff time.Duration

	// consecutive successes since the last shrink, used to pace growth
	successStreak int
}

type outcome struct {
	failed bool
	class  string
	slow   bool
}

// growthThreshold is how many consecutive successes earn one ceiling slot
const growthThreshold = 5

// NewAdaptiveLimiter creates a limiter starting at the maximum ceiling
func NewAdaptiveLimiter(cfg Config) *AdaptiveLimiter {
	l := &AdaptiveLimiter{
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		ceiling:    cfg.MaxConcurrency,
		min:        cfg.MinConcurrency,
		max:        cfg.MaxConcurrency,
		windowSize: cfg.WindowSize,
		slowCutoff: cfg.SlowCallCutoff,
	}
	if cfg.RatePerSecond > 0 {
		l.rate = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return l
}

// Acquire blocks until a call slot is available (or ctx is done). Every
// outbound call must acquire a slot first and release it afterward.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			l.sem.Release(1)
			return err
		}
	}
	return nil
}

// Release returns a call slot
func (l *AdaptiveLimiter) Release() {
	l.sem.Release(1)
}

// RecordSuccess feeds a successful call into the rolling window. A slow
// success still counts against the window; sustained fast successes grow
// the ceiling back toward the maximum.
func (l *AdaptiveLimiter) RecordSuccess(elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slow := elapsed >= l.slowCutoff
	l.push(outcome{failed: false, slow: slow})

	if slow {
		l.successStreak = 0
		l.maybeShrinkLocked("slow_call")
		return
	}

	l.successStreak++
	if l.successStreak >= growthThreshold && l.ceiling < l.max {
		l.successStreak = 0
		l.ceiling++
		l.reserved--
		l.sem.Release(1)
		fmt.Printf("adaptive limiter: concurrency raised to %d\n", l.ceiling)
	}
}

// RecordFailure feeds a failed call into the rolling window. Retryable
// infrastructure failures (rate limits, server errors, timeouts) shrink
// the ceiling; client errors do not, since they say nothing about load.
func (l *AdaptiveLimiter) RecordFailure(class FailureClass, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.push(outcome{failed: true, class: class.Label, slow: elapsed >= l.slowCutoff})
	l.successStreak = 0

	if class.Retryable {
		l.maybeShrinkLocked(class.Label)
	}
}

// maybeShrinkLocked lowers the ceiling when the recent window looks
// unhealthy. Must be called with the mutex held.
func (l *AdaptiveLimiter) maybeShrinkLocked(reason string) {
	if l.ceiling <= l.min {
		return
	}
	if !l.windowUnhealthyLocked() {
		return
	}

	// TryAcquire rather than Acquire: if all slots are in flight the
	// reservation happens on a later release instead of blocking here
	if !l.sem.TryAcquire(1) {
		return
	}
	l.ceiling--
	l.reserved++
	fmt.Printf("adaptive limiter: concurrency lowered to %d (%s)\n", l.ceiling, reason)
}

// windowUnhealthyLocked reports whether recent outcomes warrant throttling:
// at least a quarter of the rolling window failed retryably or ran slow
func (l *AdaptiveLimiter) windowUnhealthyLocked() bool {
	if len(l.window) == 0 {
		return false
	}
	bad := 0
	for _, o := range l.window {
		if o.failed || o.slow {
			bad++
		}
	}
	return bad*4 >= len(l.window)
}

func (l *AdaptiveLimiter) push(o outcome) {
	l.window = append(l.window, o)
	if len(l.window) > l.windowSize {
		l.window = l.window[1:]
	}
}

// Ceiling returns the current concurrency ceiling (for tests/monitoring)
func (l *AdaptiveLimiter) Ceiling() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling
}

// FailureCounts returns the rolling failure classification counts
// (for monitoring and run summaries)
func (l *AdaptiveLimiter) FailureCounts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int)
	for _, o := range l.window {
		if o.failed {
			counts[o.class]++
		}
	}
	return counts
}
