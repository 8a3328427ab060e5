package entity

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds configuration for the entity resolver
type Config struct {
	// FuzzyThreshold is the minimum Dice bigram coefficient for a fuzzy
	// match against a known canonical name or alias. Names at or above
	// the threshold resolve to the existing entity; below it a new
	// entity is created.
	// Default: 0.75
	FuzzyThreshold float64

	// CreatedBy is recorded on entities the resolver creates
	// Default: "resolver"
	CreatedBy string
}

// DefaultConfig returns the default resolver configuration
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold: 0.75,
		CreatedBy:      "resolver",
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be in (0.0, 1.0] (got %.2f)", c.FuzzyThreshold)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling back
// to defaults.
//
// Environment variables:
//   - PMI_ENTITY_FUZZY_THRESHOLD: minimum Dice coefficient for fuzzy match (default: 0.75)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if value := os.Getenv("PMI_ENTITY_FUZZY_THRESHOLD"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for PMI_ENTITY_FUZZY_THRESHOLD: %w", err)
		}
		cfg.FuzzyThreshold = parsed
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}
