package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

const signalColumns = `id, content, normalized_content, source, channel, created_at, metadata, embedding, duplicate_of`

// CreateSignal persists a new signal. Signal IDs are caller-assigned;
// inserting an existing ID is an error.
func (s *SQLiteStorage) CreateSignal(ctx context.Context, signal *types.Signal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	meta, err := marshalMetadata(signal.Metadata)
	if err != nil {
		return err
	}
	embedding, err := marshalVector(signal.Embedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, signal.ID, signal.Content, signal.NormalizedContent, signal.Source,
		signal.Channel, signal.CreatedAt.UTC(), meta, embedding,
		nullString(signal.DuplicateOf))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("signal %s already exists", signal.ID)
		}
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID
func (s *SQLiteStorage) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signalColumns+` FROM signals WHERE id = ?
	`, id)
	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("signal not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return signal, nil
}

// ListSignals retrieves signals matching the filter
func (s *SQLiteStorage) ListSignals(ctx context.Context, filter types.SignalFilter) ([]*types.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE 1=1`
	var args []interface{}

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.ExcludeDuplicates {
		query += ` AND duplicate_of IS NULL`
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.MissingEmbedding {
		query += ` AND embedding IS NULL`
	}
	if filter.NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []*types.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, signal)
	}
	return signals, rows.Err()
}

// UpdateSignalEmbedding stores the embedding vector for a signal
func (s *SQLiteStorage) UpdateSignalEmbedding(ctx context.Context, id string, embedding []float64) error {
	vec, err := marshalVector(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET embedding = ? WHERE id = ?`, vec, id)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return requireRow(res, "signal", id)
}

// UpdateSignalMetadata replaces the metadata document for a signal
func (s *SQLiteStorage) UpdateSignalMetadata(ctx context.Context, id string, meta *types.SignalMetadata) error {
	doc, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET metadata = ? WHERE id = ?`, doc, id)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return requireRow(res, "signal", id)
}

// MarkDuplicate records that duplicateID was merged into primaryID and
// removes the duplicate from any opportunity membership, all in one
// transaction. Duplicate chains are rejected: the primary must not itself
// be a duplicate, and the duplicate must not already be merged elsewhere.
// Signals that previously merged into duplicateID are re-pointed at the
// new primary, so duplicate_of always names a surviving signal.
func (s *SQLiteStorage) MarkDuplicate(ctx context.Context, duplicateID, primaryID string) error {
	if duplicateID == primaryID {
		return fmt.Errorf("signal cannot be a duplicate of itself: %s", duplicateID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var primaryDup sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT duplicate_of FROM signals WHERE id = ?`, primaryID).Scan(&primaryDup)
	if err == sql.ErrNoRows {
		return fmt.Errorf("primary signal not found: %s", primaryID)
	}
	if err != nil {
		return fmt.Errorf("failed to check primary signal: %w", err)
	}
	if primaryDup.Valid && primaryDup.String != "" {
		return fmt.Errorf("primary %s is itself a duplicate of %s", primaryID, primaryDup.String)
	}

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT duplicate_of FROM signals WHERE id = ?`, duplicateID).Scan(&existing)
	if err == sql.ErrNoRows {
		return fmt.Errorf("signal not found: %s", duplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to check signal: %w", err)
	}
	if existing.Valid && existing.String != "" {
		if existing.String == primaryID {
			// Already merged into the same primary; no-op keeps passes idempotent
			return tx.Commit()
		}
		return fmt.Errorf("signal %s is already a duplicate of %s", duplicateID, existing.String)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE signals SET duplicate_of = ? WHERE id = ?`, primaryID, duplicateID); err != nil {
		return fmt.Errorf("failed to mark duplicate: %w", err)
	}

	// Signals that merged into the loser in an earlier pass follow it to
	// the new primary; nothing may keep pointing at a merged signal.
	if _, err := tx.ExecContext(ctx, `UPDATE signals SET duplicate_of = ? WHERE duplicate_of = ?`, primaryID, duplicateID); err != nil {
		return fmt.Errorf("failed to re-point duplicates: %w", err)
	}

	// A merged signal must not independently anchor an opportunity
	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunity_signals WHERE signal_id = ?`, duplicateID); err != nil {
		return fmt.Errorf("failed to remove opportunity links: %w", err)
	}

	return tx.Commit()
}

// GetCorpusStats computes the raw material for a run signature in one
// pass. Source filters the count the same way the pipeline filters its
// working set, so signature comparisons see the same corpus the stages do.
func (s *SQLiteStorage) GetCorpusStats(ctx context.Context, source types.SignalSource) (*types.CorpusStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(MAX(created_at), ''),
		       COALESCE(SUM(CASE WHEN metadata LIKE '%"extracted"%' THEN 1 ELSE 0 END), 0)
		FROM signals`
	var args []interface{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}

	var count, extractions int
	var maxCreated string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count, &maxCreated, &extractions); err != nil {
		return nil, fmt.Errorf("failed to compute corpus stats: %w", err)
	}

	stats := &types.CorpusStats{SignalCount: count, ExtractionCount: extractions}
	if maxCreated != "" {
		ts, err := parseDBTime(maxCreated)
		if err != nil {
			return nil, fmt.Errorf("failed to parse max created_at: %w", err)
		}
		stats.MaxSignalCreatedAt = ts
	}
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(sc scanner) (*types.Signal, error) {
	var signal types.Signal
	var meta, embedding, dupOf sql.NullString
	if err := sc.Scan(&signal.ID, &signal.Content, &signal.NormalizedContent,
		&signal.Source, &signal.Channel, &signal.CreatedAt, &meta, &embedding, &dupOf); err != nil {
		return nil, err
	}

	if meta.Valid && meta.String != "" {
		var m types.SignalMetadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		signal.Metadata = &m
	}
	vec, err := unmarshalVector(embedding)
	if err != nil {
		return nil, err
	}
	signal.Embedding = vec
	if dupOf.Valid {
		signal.DuplicateOf = dupOf.String
	}
	return &signal, nil
}

func marshalMetadata(meta *types.SignalMetadata) (sql.NullString, error) {
	if meta == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// parseDBTime handles the timestamp formats the sqlite driver emits
func parseDBTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
