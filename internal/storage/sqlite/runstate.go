package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// SaveRunState persists the full checkpoint document for a run. The write
// is an upsert keyed by run id and happens synchronously: the orchestrator
// calls this after every stage transition before proceeding, which is the
// crash-recovery contract.
func (s *SQLiteStorage) SaveRunState(ctx context.Context, state *types.PipelineRunState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid run state: %w", err)
	}

	state.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_run_state (run_id, state, started_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, state.RunID, string(doc), state.StartedAt.UTC(), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// GetRunState retrieves the checkpoint document for a run id.
// Returns nil (no error) when no checkpoint exists for that run.
func (s *SQLiteStorage) GetRunState(ctx context.Context, runID string) (*types.PipelineRunState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM pipeline_run_state WHERE run_id = ?
	`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return unmarshalRunState(doc)
}

// GetLatestRunState retrieves the most recently updated checkpoint.
// Returns nil (no error) when no run has ever been persisted.
func (s *SQLiteStorage) GetLatestRunState(ctx context.Context) (*types.PipelineRunState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM pipeline_run_state ORDER BY updated_at DESC, run_id DESC LIMIT 1
	`).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run state: %w", err)
	}
	return unmarshalRunState(doc)
}

func unmarshalRunState(doc string) (*types.PipelineRunState, error) {
	var state types.PipelineRunState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	if state.Version > types.CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d",
			state.Version, types.CheckpointVersion)
	}
	return &state, nil
}

// GetConfig retrieves a config value. Returns empty string when unset.
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig stores a config value
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}
