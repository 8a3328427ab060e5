package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// GetOrCreateEntity inserts a canonical entity, or returns the existing
// entity ID when one with the same (type, canonical_name) already exists.
// The uniqueness constraint at the store layer is what makes concurrent
// resolution idempotent: two racing resolvers both end up with the same
// entity ID. When an alias is supplied it is recorded in the same
// transaction.
//
// Returns the entity ID and whether a new row was created.
func (s *SQLiteStorage) GetOrCreateEntity(ctx context.Context, entity *types.CanonicalEntity, alias string) (string, bool, error) {
	if err := entity.Validate(); err != nil {
		return "", false, fmt.Errorf("invalid entity: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := true
	id := entity.ID
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_registry (id, entity_type, canonical_name, case_sensitive, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entity.ID, entity.EntityType, entity.CanonicalName,
		boolToInt(entity.CaseSensitive), entity.CreatedBy, entity.CreatedAt.UTC())
	if err != nil {
		if !isUniqueConstraintError(err) {
			return "", false, fmt.Errorf("failed to create entity: %w", err)
		}
		// Lost the race (or the entity predates this call): return the
		// existing row's ID
		created = false
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM entity_registry WHERE entity_type = ? AND canonical_name = ?
		`, entity.EntityType, entity.CanonicalName).Scan(&id)
		if err != nil {
			return "", false, fmt.Errorf("failed to look up existing entity: %w", err)
		}
	}

	if alias != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_aliases (entity_id, alias_text, source, created_at)
			VALUES (?, ?, ?, ?)
		`, id, alias, entity.CreatedBy, time.Now().UTC())
		if err != nil {
			return "", false, fmt.Errorf("failed to record alias: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit entity: %w", err)
	}
	return id, created, nil
}

// ListEntities retrieves all canonical entities of one type, in creation
// order (declaration order for tie-breaking during resolution)
func (s *SQLiteStorage) ListEntities(ctx context.Context, entityType types.EntityType) ([]*types.CanonicalEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, canonical_name, case_sensitive, created_by, created_at
		FROM entity_registry
		WHERE entity_type = ?
		ORDER BY created_at ASC, id ASC
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*types.CanonicalEntity
	for rows.Next() {
		var e types.CanonicalEntity
		var caseSensitive int
		if err := rows.Scan(&e.ID, &e.EntityType, &e.CanonicalName, &caseSensitive, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.CaseSensitive = caseSensitive != 0
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

// AddAlias records an additional surface form for an entity. Adding the
// same alias twice is a no-op.
func (s *SQLiteStorage) AddAlias(ctx context.Context, alias *types.EntityAlias) error {
	if alias.EntityID == "" || alias.AliasText == "" {
		return fmt.Errorf("entity_id and alias_text are required")
	}
	created := alias.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_aliases (entity_id, alias_text, source, created_at)
		VALUES (?, ?, ?, ?)
	`, alias.EntityID, alias.AliasText, alias.Source, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// ListAliases retrieves all aliases for entities of one type
func (s *SQLiteStorage) ListAliases(ctx context.Context, entityType types.EntityType) ([]*types.EntityAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.entity_id, a.alias_text, a.source, a.created_at
		FROM entity_aliases a
		JOIN entity_registry e ON e.id = a.entity_id
		WHERE e.entity_type = ?
		ORDER BY a.created_at ASC, a.alias_text ASC, a.entity_id ASC
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*types.EntityAlias
	for rows.Next() {
		var a types.EntityAlias
		if err := rows.Scan(&a.EntityID, &a.AliasText, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, &a)
	}
	return aliases, rows.Err()
}

// LinkSignalEntity associates a signal with a resolved entity. Re-linking
// the same pair updates the confidence rather than erroring, so repeated
// resolution passes stay idempotent.
func (s *SQLiteStorage) LinkSignalEntity(ctx context.Context, link *types.SignalEntityLink) error {
	if err := link.Validate(); err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_entities (signal_id, entity_type, entity_id, confidence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(signal_id, entity_id) DO UPDATE SET confidence = excluded.confidence
	`, link.SignalID, link.EntityType, link.EntityID, link.Confidence)
	if err != nil {
		return fmt.Errorf("failed to link signal to entity: %w", err)
	}
	return nil
}

// GetSignalEntityLinks retrieves all entity links for a signal
func (s *SQLiteStorage) GetSignalEntityLinks(ctx context.Context, signalID string) ([]*types.SignalEntityLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, entity_type, entity_id, confidence
		FROM signal_entities
		WHERE signal_id = ?
		ORDER BY entity_id ASC
	`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity links: %w", err)
	}
	defer rows.Close()

	var links []*types.SignalEntityLink
	for rows.Next() {
		var l types.SignalEntityLink
		if err := rows.Scan(&l.SignalID, &l.EntityType, &l.EntityID, &l.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
