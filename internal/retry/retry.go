// Package retry wraps outbound provider calls with bounded retries,
// exponential backoff with jitter, and an adaptive concurrency limiter
// that throttles based on recent failures and observed latency.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

// Config holds retry configuration for provider calls
type Config struct {
	// MaxAttempts is the total number of attempts including the first
	// (default: 4)
	MaxAttempts int

	// Timeout is the per-attempt timeout (default: 30s)
	Timeout time.Duration

	// BaseDelay is the first backoff interval; successive retries wait
	// base * 2^(attempt-1), capped at MaxDelay (default: 1s)
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval (default: 30s)
	MaxDelay time.Duration

	// JitterFraction randomizes each backoff by ±this fraction
	// (default: 0.2)
	JitterFraction float64

	// Limiter settings
	MinConcurrency int           // Floor for the adaptive ceiling (default: 1)
	MaxConcurrency int           // Starting and maximum ceiling (default: 4)
	WindowSize     int           // Rolling outcome window (default: 20)
	SlowCallCutoff time.Duration // Latency above this counts as slow (default: 10s)

	// RatePerSecond optionally caps outbound call rate across all slots;
	// 0 disables rate limiting
	RatePerSecond float64
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		Timeout:        30 * time.Second,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
		MinConcurrency: 1,
		MaxConcurrency: 4,
		WindowSize:     20,
		SlowCallCutoff: 10 * time.Second,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive (got %d)", c.MaxAttempts)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive (got %v)", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay (%v) must be >= base_delay (%v)", c.MaxDelay, c.BaseDelay)
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return fmt.Errorf("jitter_fraction must be in [0, 1) (got %.2f)", c.JitterFraction)
	}
	if c.MinConcurrency <= 0 {
		return fmt.Errorf("min_concurrency must be positive (got %d)", c.MinConcurrency)
	}
	if c.MaxConcurrency < c.MinConcurrency {
		return fmt.Errorf("max_concurrency (%d) must be >= min_concurrency (%d)",
			c.MaxConcurrency, c.MinConcurrency)
	}
	return nil
}

// Controller executes operations with retry, backoff, and adaptive
// concurrency. Safe for concurrent use.
type Controller struct {
	cfg     Config
	limiter *AdaptiveLimiter

	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error

	// jitter returns a multiplier in [1-f, 1+f]; swappable for tests
	jitter func(fraction float64) float64
}

// NewController creates a retry controller. Invalid configs fall back to
// field defaults rather than erroring, mirroring how callers construct it
// at process start.
func NewController(cfg Config) (*Controller, error) {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = def.JitterFraction
	}
	if cfg.MinConcurrency == 0 {
		cfg.MinConcurrency = def.MinConcurrency
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.SlowCallCutoff == 0 {
		cfg.SlowCallCutoff = def.SlowCallCutoff
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	return &Controller{
		cfg:     cfg,
		limiter: NewAdaptiveLimiter(cfg),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		jitter: func(fraction float64) float64 {
			return 1 - fraction + 2*fraction*rand.Float64()
		},
	}, nil
}

// Limiter exposes the adaptive limiter for observability
func (c *Controller) Limiter() *AdaptiveLimiter {
	return c.limiter
}

// Do executes fn with retry and exponential backoff. A concurrency slot
// is held for the duration of all attempts; each attempt runs under its
// own timeout. Non-retryable failures propagate immediately; retryable
// ones exhaust the attempt budget before surfacing.
func (c *Controller) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
	}
	defer c.limiter.Release()

	var lastErr error
	delay := c.cfg.BaseDelay

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		start := time.Now()
		err := fn(attemptCtx)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			c.limiter.RecordSuccess(elapsed)
			if attempt > 1 {
				fmt.Printf("%s succeeded after %d attempts\n", operation, attempt)
			}
			return nil
		}

		lastErr = err
		class := Classify(err)
		c.limiter.RecordFailure(class, elapsed)

		if !class.Retryable {
			fmt.Fprintf(os.Stderr, "%s failed with non-retryable error (%s): %v\n",
				operation, class.Label, err)
			return err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		// The caller canceling takes effect between attempts, never
		// mid-attempt
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		wait := time.Duration(float64(delay) * c.jitter(c.cfg.JitterFraction))
		fmt.Printf("%s failed (attempt %d/%d, %s), retrying in %v: %v\n",
			operation, attempt, c.cfg.MaxAttempts, class.Label, wait.Round(time.Millisecond), err)

		if err := c.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, err)
		}

		delay *= 2
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.cfg.MaxAttempts, lastErr)
}

// FailureClass is the rolling classification of one failure
type FailureClass struct {
	Label     string
	Retryable bool
}

// Classify buckets an error by HTTP status or error string. Rate limits,
// server errors, and transport failures are retryable; client errors and
// unknown failures are not.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureClass{Label: "ok", Retryable: false}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureClass{Label: "timeout", Retryable: true}
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return FailureClass{Label: "rate_limited", Retryable: true}
	}

	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errStr, code) {
			return FailureClass{Label: "server_error", Retryable: true}
		}
	}
	if strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return FailureClass{Label: "server_error", Retryable: true}
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection aborted") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") {
		return FailureClass{Label: "network", Retryable: true}
	}

	// 4xx client errors (other than 429) will not succeed on retry
	for _, code := range []string{"400", "401", "403", "404", "422"} {
		if strings.Contains(errStr, code) {
			return FailureClass{Label: "client_error", Retryable: false}
		}
	}

	return FailureClass{Label: "unknown", Retryable: false}
}
