package pipeline

import (
	"fmt"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// Config holds the per-run orchestrator options, mostly mapped from CLI
// flags. Stage-internal tuning (dedup thresholds, cluster sizes, retry
// budgets) lives in each stage's own config.
type Config struct {
	// RunID names the run. Empty means a fresh generated ID, unless
	// Resume is set, in which case the latest persisted run is used.
	RunID string

	// Resume trusts a prior checkpoint: completed stages are skipped
	// when the corpus signature still matches.
	Resume bool

	// ResumeFrom skips every stage earlier than the named one,
	// regardless of checkpoint contents.
	ResumeFrom types.StageName

	// SkipStages are explicitly skipped by the operator
	SkipStages []types.StageName

	// SourceFilter restricts the run to one signal source. Part of the
	// run signature: changing it invalidates prior checkpoints.
	SourceFilter string

	// ImportPath, when set, makes the ingestion stage import a JSONL
	// file before enrichment.
	ImportPath string

	// MaxJira caps how many ticket drafts the jira_generation stage
	// produces. 0 disables drafting.
	// Default: 5
	MaxJira int

	// OutputDir receives the export stage's report.
	// Default: "reports"
	OutputDir string

	// HeartbeatInterval is how often a long-running stage logs
	// progress. Heartbeats never touch persisted state.
	// Default: 30s
	HeartbeatInterval time.Duration

	// EmbedBatchSize is how many signals go to the provider per
	// embedding request.
	// Default: 16
	EmbedBatchSize int
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxJira:           5,
		OutputDir:         "reports",
		HeartbeatInterval: 30 * time.Second,
		EmbedBatchSize:    16,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.ResumeFrom != "" && !c.ResumeFrom.IsValid() {
		return fmt.Errorf("unknown resume-from stage: %s", c.ResumeFrom)
	}
	for _, name := range c.SkipStages {
		if !name.IsValid() {
			return fmt.Errorf("unknown skip stage: %s", name)
		}
	}
	if c.MaxJira < 0 {
		return fmt.Errorf("max_jira cannot be negative (got %d)", c.MaxJira)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive (got %v)", c.HeartbeatInterval)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("embed_batch_size must be positive (got %d)", c.EmbedBatchSize)
	}
	return nil
}
