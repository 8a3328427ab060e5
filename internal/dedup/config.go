package dedup

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the deduplication engine
type Config struct {
	// SimilarityThreshold is the minimum embedding cosine similarity for
	// two signals to count as near-duplicates.
	// Default: 0.9 (high confidence required before discarding a signal)
	SimilarityThreshold float64

	// TimeWindow is the maximum creation-time distance between
	// duplicates. Signals further apart are different events even when
	// the text matches.
	// Default: 24h
	TimeWindow time.Duration

	// SameChannelOnly restricts candidates to the same source channel.
	// Default: true (cross-channel repeats are usually deliberate)
	SameChannelOnly bool

	// MaxSignals caps how many un-merged signals one pass examines,
	// newest first. 0 means unlimited.
	// Default: 1000
	MaxSignals int
}

// DefaultConfig returns the default deduplication configuration
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.9,
		TimeWindow:          24 * time.Hour,
		SameChannelOnly:     true,
		MaxSignals:          1000,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0.0, 1.0] (got %.2f)", c.SimilarityThreshold)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("time_window must be positive (got %v)", c.TimeWindow)
	}
	if c.TimeWindow > 90*24*time.Hour {
		return fmt.Errorf("time_window too large (got %v, max 90 days)", c.TimeWindow)
	}
	if c.MaxSignals < 0 {
		return fmt.Errorf("max_signals cannot be negative (got %d)", c.MaxSignals)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Threshold: %.2f, Window: %v, SameChannel: %t, MaxSignals: %d}",
		c.SimilarityThreshold, c.TimeWindow, c.SameChannelOnly, c.MaxSignals)
}

// ConfigFromEnv creates a Config from environment variables, falling back
// to defaults.
//
// Environment variables:
//   - PMI_DEDUP_SIMILARITY_THRESHOLD: minimum cosine similarity (default: 0.9)
//   - PMI_DEDUP_TIME_WINDOW_HOURS: window in hours (default: 24)
//   - PMI_DEDUP_SAME_CHANNEL_ONLY: restrict to same channel (default: true)
//   - PMI_DEDUP_MAX_SIGNALS: per-pass signal cap (default: 1000)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if value := os.Getenv("PMI_DEDUP_SIMILARITY_THRESHOLD"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_DEDUP_SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.SimilarityThreshold = parsed
	}
	if value := os.Getenv("PMI_DEDUP_TIME_WINDOW_HOURS"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_DEDUP_TIME_WINDOW_HOURS: %w", err)
		}
		cfg.TimeWindow = time.Duration(parsed) * time.Hour
	}
	if value := os.Getenv("PMI_DEDUP_SAME_CHANNEL_ONLY"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_DEDUP_SAME_CHANNEL_ONLY: %w", err)
		}
		cfg.SameChannelOnly = parsed
	}
	if value := os.Getenv("PMI_DEDUP_MAX_SIGNALS"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_DEDUP_MAX_SIGNALS: %w", err)
		}
		cfg.MaxSignals = parsed
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}
