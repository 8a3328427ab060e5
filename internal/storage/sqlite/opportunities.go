package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// CreateOpportunity persists a new opportunity and its initial signal
// membership in one transaction
func (s *SQLiteStorage) CreateOpportunity(ctx context.Context, opp *types.Opportunity, signalIDs []string) error {
	if err := opp.Validate(); err != nil {
		return fmt.Errorf("invalid opportunity: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	centroid, err := marshalVector(opp.Centroid)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO opportunities (id, title, description, status, centroid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, opp.ID, opp.Title, opp.Description, opp.Status, centroid,
		opp.CreatedAt.UTC(), opp.UpdatedAt.UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("opportunity %s already exists", opp.ID)
		}
		return fmt.Errorf("failed to create opportunity: %w", err)
	}

	for _, sid := range signalIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO opportunity_signals (opportunity_id, signal_id)
			VALUES (?, ?)
		`, opp.ID, sid); err != nil {
			return fmt.Errorf("failed to link signal %s: %w", sid, err)
		}
	}

	return tx.Commit()
}

// GetOpportunity retrieves an opportunity by ID, with its signal count
func (s *SQLiteStorage) GetOpportunity(ctx context.Context, id string) (*types.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.title, o.description, o.status, o.centroid, o.created_at, o.updated_at,
		       (SELECT COUNT(*) FROM opportunity_signals os WHERE os.opportunity_id = o.id)
		FROM opportunities o WHERE o.id = ?
	`, id)
	opp, err := scanOpportunity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("opportunity not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return opp, nil
}

// ListOpportunities retrieves opportunities, oldest first so merge passes
// iterate deterministically. Empty status means all statuses.
func (s *SQLiteStorage) ListOpportunities(ctx context.Context, status types.OpportunityStatus) ([]*types.Opportunity, error) {
	query := `
		SELECT o.id, o.title, o.description, o.status, o.centroid, o.created_at, o.updated_at,
		       (SELECT COUNT(*) FROM opportunity_signals os WHERE os.opportunity_id = o.id)
		FROM opportunities o`
	var args []interface{}
	if status != "" {
		query += ` WHERE o.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY o.created_at ASC, o.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []*types.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// AddOpportunitySignals links signals to an existing opportunity.
// Already-linked signals are skipped.
func (s *SQLiteStorage) AddOpportunitySignals(ctx context.Context, opportunityID string, signalIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, sid := range signalIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO opportunity_signals (opportunity_id, signal_id)
			VALUES (?, ?)
		`, opportunityID, sid); err != nil {
			return fmt.Errorf("failed to link signal %s: %w", sid, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE opportunities SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), opportunityID); err != nil {
		return fmt.Errorf("failed to touch opportunity: %w", err)
	}
	return tx.Commit()
}

// GetOpportunitySignalIDs retrieves the member signal IDs of an opportunity
func (s *SQLiteStorage) GetOpportunitySignalIDs(ctx context.Context, opportunityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id FROM opportunity_signals
		WHERE opportunity_id = ?
		ORDER BY signal_id ASC
	`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity signals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan signal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSignalOpportunityID returns the active opportunity a signal belongs
// to, or empty string when unclustered
func (s *SQLiteStorage) GetSignalOpportunityID(ctx context.Context, signalID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT os.opportunity_id
		FROM opportunity_signals os
		JOIN opportunities o ON o.id = os.opportunity_id
		WHERE os.signal_id = ? AND o.status = ?
		ORDER BY o.created_at ASC LIMIT 1
	`, signalID, types.OpportunityActive).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get signal opportunity: %w", err)
	}
	return id, nil
}

// RemoveSignalFromOpportunities drops a signal from all opportunity
// membership (used when the signal loses a dedup merge)
func (s *SQLiteStorage) RemoveSignalFromOpportunities(ctx context.Context, signalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM opportunity_signals WHERE signal_id = ?`, signalID)
	if err != nil {
		return fmt.Errorf("failed to remove signal from opportunities: %w", err)
	}
	return nil
}

// UpdateOpportunityCentroid stores the recomputed member-embedding mean
func (s *SQLiteStorage) UpdateOpportunityCentroid(ctx context.Context, id string, centroid []float64) error {
	vec, err := marshalVector(centroid)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE opportunities SET centroid = ?, updated_at = ? WHERE id = ?
	`, vec, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update centroid: %w", err)
	}
	return requireRow(res, "opportunity", id)
}

// MergeOpportunities folds fromID into intoID: all signal links are
// re-pointed at the surviving opportunity and the emptied one is deleted,
// in a single transaction. A crash cannot leave a signal linked to both.
func (s *SQLiteStorage) MergeOpportunities(ctx context.Context, intoID, fromID string) error {
	if intoID == fromID {
		return fmt.Errorf("cannot merge opportunity into itself: %s", intoID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM opportunities WHERE id = ?`, intoID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("opportunity not found: %s", intoID)
		}
		return fmt.Errorf("failed to check opportunity: %w", err)
	}

	// Re-point links, skipping signals already linked to the survivor
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO opportunity_signals (opportunity_id, signal_id)
		SELECT ?, signal_id FROM opportunity_signals WHERE opportunity_id = ?
	`, intoID, fromID); err != nil {
		return fmt.Errorf("failed to reassign signal links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM opportunity_signals WHERE opportunity_id = ?
	`, fromID); err != nil {
		return fmt.Errorf("failed to clear merged links: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunities WHERE id = ?`, fromID); err != nil {
		return fmt.Errorf("failed to delete merged opportunity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE opportunities SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), intoID); err != nil {
		return fmt.Errorf("failed to touch surviving opportunity: %w", err)
	}

	return tx.Commit()
}

func scanOpportunity(sc scanner) (*types.Opportunity, error) {
	var opp types.Opportunity
	var centroid sql.NullString
	if err := sc.Scan(&opp.ID, &opp.Title, &opp.Description, &opp.Status,
		&centroid, &opp.CreatedAt, &opp.UpdatedAt, &opp.SignalCount); err != nil {
		return nil, err
	}
	vec, err := unmarshalVector(centroid)
	if err != nil {
		return nil, err
	}
	opp.Centroid = vec
	return &opp, nil
}
