// Package entity resolves raw extracted names to canonical entities,
// creating new canonical records when no existing entity matches above
// the fuzzy threshold.
package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anusharmadobe/pm-intelligence-system/internal/similarity"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// MatchKind describes how a candidate resolved
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
	MatchFuzzy     MatchKind = "fuzzy"
	MatchCreated   MatchKind = "created"
)

// Resolution is the result of resolving one raw name
type Resolution struct {
	EntityID   string    `json:"entity_id"`
	MatchKind  MatchKind `json:"match_kind"`
	MatchedOn  string    `json:"matched_on,omitempty"`
	Confidence float64   `json:"confidence"`
	Created    bool      `json:"created"`
}

// legalSuffixes are stripped from company-style names before matching.
// Stripping is part of the match key: "Contoso Corp" and "Contoso"
// resolve to the same entity.
var legalSuffixes = []string{
	"inc", "incorporated", "corp", "corporation", "llc", "llp",
	"ltd", "limited", "gmbh", "co", "company", "plc", "sa", "ag",
}

// Resolver resolves raw names to canonical entity IDs. One resolver is
// constructed per process and holds an injectable cache of known
// canonical entities so resolution does not issue a lookup query per
// candidate.
type Resolver struct {
	store storage.Storage
	cache *Cache
	cfg   Config
}

// NewResolver creates an entity resolver
func NewResolver(store storage.Storage, cache *Cache, cfg Config) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cache == nil {
		cache = NewCache()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolver config: %w", err)
	}
	return &Resolver{store: store, cache: cache, cfg: cfg}, nil
}

// Cache exposes the resolver's cache (for invalidation by other writers)
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve maps a raw name to a canonical entity ID, creating a new
// canonical entity when nothing matches.
//
// Lookup order, first match wins:
//  1. exact cleaned-name match against known canonical names and aliases
//     (case-insensitive unless the entity is flagged case-sensitive)
//  2. substring containment in either direction
//  3. Dice bigram similarity at or above the fuzzy threshold
//
// Ties break by declaration order in the canonical table. Resolving the
// same raw name twice returns the same entity ID: a concurrent insert of
// the same cleaned name is absorbed by the store's uniqueness constraint.
func (r *Resolver) Resolve(ctx context.Context, rawName string, entityType types.EntityType) (*Resolution, error) {
	if !entityType.IsValid() {
		return nil, fmt.Errorf("invalid entity type: %s", entityType)
	}

	cleaned := Clean(rawName)
	if cleaned == "" {
		return nil, fmt.Errorf("name is empty after cleaning: %q", rawName)
	}

	entries, err := r.entriesFor(ctx, entityType)
	if err != nil {
		return nil, err
	}

	if match := findMatch(entries, cleaned, r.cfg.FuzzyThreshold); match != nil {
		return match, nil
	}

	// No match: create a canonical entity named after the cleaned input,
	// with the raw variant recorded as an alias
	entity := &types.CanonicalEntity{
		ID:            uuid.NewString(),
		EntityType:    entityType,
		CanonicalName: cleaned,
		CreatedBy:     r.cfg.CreatedBy,
		CreatedAt:     time.Now().UTC(),
	}
	alias := strings.TrimSpace(rawName)
	id, created, err := r.store.GetOrCreateEntity(ctx, entity, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity for %q: %w", rawName, err)
	}

	// New entity (or a concurrent insert we lost to): either way the
	// cached view of this type is stale now
	r.cache.Invalidate(entityType)

	kind := MatchCreated
	if !created {
		kind = MatchExact
	}
	return &Resolution{
		EntityID:   id,
		MatchKind:  kind,
		MatchedOn:  cleaned,
		Confidence: 1,
		Created:    created,
	}, nil
}

// entriesFor returns the cached match table for a type, rebuilding it
// from the store on a cache miss
func (r *Resolver) entriesFor(ctx context.Context, entityType types.EntityType) ([]cacheEntry, error) {
	if entries, ok := r.cache.get(entityType); ok {
		return entries, nil
	}

	entities, err := r.store.ListEntities(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	aliases, err := r.store.ListAliases(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}

	caseSensitive := make(map[string]bool, len(entities))
	entries := make([]cacheEntry, 0, len(entities)+len(aliases))
	for i, e := range entities {
		caseSensitive[e.ID] = e.CaseSensitive
		entries = append(entries, cacheEntry{
			EntityID:      e.ID,
			Key:           Clean(e.CanonicalName),
			Display:       e.CanonicalName,
			CaseSensitive: e.CaseSensitive,
			Order:         i,
		})
	}
	for i, a := range aliases {
		entries = append(entries, cacheEntry{
			EntityID:      a.EntityID,
			Key:           Clean(a.AliasText),
			Display:       a.AliasText,
			CaseSensitive: caseSensitive[a.EntityID],
			Order:         len(entities) + i,
		})
	}

	r.cache.set(entityType, entries)
	return entries, nil
}

// findMatch walks the match table in declaration order through the three
// lookup tiers. Returns nil when nothing clears the threshold.
func findMatch(entries []cacheEntry, cleaned string, fuzzyThreshold float64) *Resolution {
	lower := strings.ToLower(cleaned)

	// Tier 1: exact
	for i := range entries {
		e := &entries[i]
		if e.Key == "" {
			continue
		}
		if e.CaseSensitive {
			if e.Key == cleaned {
				return &Resolution{EntityID: e.EntityID, MatchKind: MatchExact, MatchedOn: e.Display, Confidence: 1}
			}
			continue
		}
		if strings.ToLower(e.Key) == lower {
			return &Resolution{EntityID: e.EntityID, MatchKind: MatchExact, MatchedOn: e.Display, Confidence: 1}
		}
	}

	// Tier 2: substring containment either direction
	for i := range entries {
		e := &entries[i]
		key := strings.ToLower(e.Key)
		if key == "" {
			continue
		}
		if strings.Contains(key, lower) || strings.Contains(lower, key) {
			return &Resolution{EntityID: e.EntityID, MatchKind: MatchSubstring, MatchedOn: e.Display, Confidence: 0.9}
		}
	}

	// Tier 3: Dice bigram similarity
	for i := range entries {
		e := &entries[i]
		if e.Key == "" {
			continue
		}
		if score := similarity.Dice(e.Key, cleaned); score >= fuzzyThreshold {
			return &Resolution{EntityID: e.EntityID, MatchKind: MatchFuzzy, MatchedOn: e.Display, Confidence: score}
		}
	}

	return nil
}

// Clean normalizes a raw name into its match key: trims whitespace,
// strips trailing punctuation and asterisks, collapses inner whitespace,
// and drops common legal suffixes.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, ".,;:!?*•-")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	// Strip one trailing legal suffix (with or without a preceding comma)
	fields := strings.Fields(s)
	if len(fields) > 1 {
		last := strings.ToLower(strings.Trim(fields[len(fields)-1], ".,"))
		for _, suffix := range legalSuffixes {
			if last == suffix {
				s = strings.TrimRight(strings.Join(fields[:len(fields)-1], " "), ",")
				break
			}
		}
	}
	return strings.TrimSpace(s)
}
