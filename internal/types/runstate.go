package types

import (
	"fmt"
	"time"
)

// CheckpointVersion is the version stamp written into every persisted run
// state document. Bump when the document shape changes incompatibly.
const CheckpointVersion = 1

// StageName identifies one stage in the fixed pipeline order
type StageName string

const (
	StageInitialization   StageName = "initialization"
	StageIngestion        StageName = "ingestion"
	StageEmbeddings       StageName = "embeddings"
	StageDeduplication    StageName = "deduplication"
	StageClustering       StageName = "clustering"
	StageOpportunityMerge StageName = "opportunity_merge"
	StageJiraGeneration   StageName = "jira_generation"
	StageExport           StageName = "export"
)

// StageOrder is the fixed execution order of pipeline stages. Later stages
// depend on earlier stages' committed output; the orchestrator never runs
// stages concurrently.
var StageOrder = []StageName{
	StageInitialization,
	StageIngestion,
	StageEmbeddings,
	StageDeduplication,
	StageClustering,
	StageOpportunityMerge,
	StageJiraGeneration,
	StageExport,
}

// IsValid checks if the stage name is one of the fixed stages
func (n StageName) IsValid() bool {
	for _, s := range StageOrder {
		if n == s {
			return true
		}
	}
	return false
}

// StageIndex returns the position of a stage in the fixed order, or -1
func StageIndex(n StageName) int {
	for i, s := range StageOrder {
		if n == s {
			return i
		}
	}
	return -1
}

// StageStatus represents the state machine for a single stage:
// pending → running → {completed | failed | skipped}
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// IsValid checks if the stage status value is valid
func (s StageStatus) IsValid() bool {
	switch s {
	case StagePending, StageRunning, StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state for a stage
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// StageState records the outcome of one stage within a run
type StageState struct {
	Name      StageName    `json:"name"`
	Status    StageStatus  `json:"status"`
	StartTime *time.Time   `json:"start_time,omitempty"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Result    *StageResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// StageResult carries the per-stage counters surfaced in the run summary
type StageResult struct {
	Processed int `json:"processed,omitempty"`
	Merged    int `json:"merged,omitempty"`
	Created   int `json:"created,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// RunSignature is a cheap fingerprint of corpus state. A persisted
// checkpoint is only trusted for resumption when the signature computed at
// resume time matches the one stored with the checkpoint; a mismatch means
// the corpus changed underneath the checkpoint and completed stages must
// be recomputed.
type RunSignature struct {
	SignalCount        int       `json:"signal_count"`
	MaxSignalCreatedAt time.Time `json:"max_signal_created_at"`
	ExtractionCount    int       `json:"extraction_count"`
	SignalSourceFilter string    `json:"signal_source_filter,omitempty"`
}

// Matches reports whether two signatures describe the same corpus state
func (s RunSignature) Matches(other RunSignature) bool {
	return s.SignalCount == other.SignalCount &&
		s.MaxSignalCreatedAt.Equal(other.MaxSignalCreatedAt) &&
		s.ExtractionCount == other.ExtractionCount &&
		s.SignalSourceFilter == other.SignalSourceFilter
}

// PipelineRunState is the versioned checkpoint document for one pipeline
// run. It is persisted synchronously after every stage transition; a
// process killed mid-run always resumes from the last persisted stage
// boundary, never from mid-stage.
type PipelineRunState struct {
	Version   int                       `json:"checkpoint_version"`
	RunID     string                    `json:"run_id"`
	StartedAt time.Time                 `json:"started_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Signature RunSignature              `json:"signature"`
	Stages    map[StageName]*StageState `json:"stages"`
	Config    map[string]string         `json:"config,omitempty"`
}

// NewPipelineRunState creates a run state with every stage pending
func NewPipelineRunState(runID string, sig RunSignature) *PipelineRunState {
	now := time.Now().UTC()
	stages := make(map[StageName]*StageState, len(StageOrder))
	for _, name := range StageOrder {
		stages[name] = &StageState{Name: name, Status: StagePending}
	}
	return &PipelineRunState{
		Version:   CheckpointVersion,
		RunID:     runID,
		StartedAt: now,
		UpdatedAt: now,
		Signature: sig,
		Stages:    stages,
	}
}

// Validate checks if the run state has valid field values
func (r *PipelineRunState) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if r.Version <= 0 {
		return fmt.Errorf("checkpoint_version must be positive (got %d)", r.Version)
	}
	for name, st := range r.Stages {
		if !name.IsValid() {
			return fmt.Errorf("unknown stage: %s", name)
		}
		if st == nil {
			return fmt.Errorf("stage %s has nil state", name)
		}
		if !st.Status.IsValid() {
			return fmt.Errorf("stage %s has invalid status: %s", name, st.Status)
		}
	}
	return nil
}

// Stage returns the state for a stage, creating a pending entry if absent.
// Older checkpoints may predate a stage added later; treating the missing
// entry as pending forces recomputation rather than a spurious skip.
func (r *PipelineRunState) Stage(name StageName) *StageState {
	if r.Stages == nil {
		r.Stages = make(map[StageName]*StageState)
	}
	st, ok := r.Stages[name]
	if !ok {
		st = &StageState{Name: name, Status: StagePending}
		r.Stages[name] = st
	}
	return st
}

// Completed reports whether every stage reached completed or skipped
func (r *PipelineRunState) Completed() bool {
	for _, name := range StageOrder {
		st, ok := r.Stages[name]
		if !ok || (st.Status != StageCompleted && st.Status != StageSkipped) {
			return false
		}
	}
	return true
}

// FailedStages returns the names of stages that ended in failure, in
// pipeline order
func (r *PipelineRunState) FailedStages() []StageName {
	var failed []StageName
	for _, name := range StageOrder {
		if st, ok := r.Stages[name]; ok && st.Status == StageFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
