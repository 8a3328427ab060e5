package cluster

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds configuration for opportunity clustering
type Config struct {
	// MinClusterSize is the minimum number of signals required to form
	// an opportunity. Singletons stay unclustered until a later pass
	// finds them a partner.
	// Default: 2
	MinClusterSize int

	// SimilarityThreshold is the minimum embedding cosine similarity
	// for a signal to join a cluster or an existing opportunity.
	// Default: 0.7
	SimilarityThreshold float64

	// MergeThreshold is the minimum similarity between two existing
	// opportunities for the merge pass to union them. Lower than the
	// assignment threshold on purpose: merging tolerates drift that
	// assignment should not.
	// Default: 0.4
	MergeThreshold float64
}

// DefaultConfig returns the default clustering configuration
func DefaultConfig() Config {
	return Config{
		MinClusterSize:      2,
		SimilarityThreshold: 0.7,
		MergeThreshold:      0.4,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MinClusterSize < 2 {
		return fmt.Errorf("min_cluster_size must be at least 2 (got %d)", c.MinClusterSize)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0.0, 1.0] (got %.2f)", c.SimilarityThreshold)
	}
	if c.MergeThreshold <= 0 || c.MergeThreshold > 1 {
		return fmt.Errorf("merge_threshold must be in (0.0, 1.0] (got %.2f)", c.MergeThreshold)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{MinSize: %d, Similarity: %.2f, Merge: %.2f}",
		c.MinClusterSize, c.SimilarityThreshold, c.MergeThreshold)
}

// ConfigFromEnv creates a Config from environment variables, falling back
// to defaults.
//
// Environment variables:
//   - PMI_CLUSTER_MIN_SIZE: minimum signals per opportunity (default: 2)
//   - PMI_CLUSTER_SIMILARITY_THRESHOLD: assignment similarity (default: 0.7)
//   - PMI_CLUSTER_MERGE_THRESHOLD: opportunity merge similarity (default: 0.4)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if value := os.Getenv("PMI_CLUSTER_MIN_SIZE"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_CLUSTER_MIN_SIZE: %w", err)
		}
		cfg.MinClusterSize = parsed
	}
	if value := os.Getenv("PMI_CLUSTER_SIMILARITY_THRESHOLD"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_CLUSTER_SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.SimilarityThreshold = parsed
	}
	if value := os.Getenv("PMI_CLUSTER_MERGE_THRESHOLD"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_CLUSTER_MERGE_THRESHOLD: %w", err)
		}
		cfg.MergeThreshold = parsed
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}
