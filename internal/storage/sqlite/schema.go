package sqlite

const schema = `
-- Signals table: one row per ingested feedback unit.
-- Signals are never deleted; dedup only sets duplicate_of.
CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    normalized_content TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    metadata TEXT,
    embedding TEXT,
    duplicate_of TEXT,
    FOREIGN KEY (duplicate_of) REFERENCES signals(id)
);

CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(source);
CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at);
CREATE INDEX IF NOT EXISTS idx_signals_duplicate_of ON signals(duplicate_of);

-- Canonical entity registry: one row per real-world entity
CREATE TABLE IF NOT EXISTS entity_registry (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    case_sensitive INTEGER NOT NULL DEFAULT 0,
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE (entity_type, canonical_name)
);

CREATE INDEX IF NOT EXISTS idx_entity_registry_type ON entity_registry(entity_type);

-- Aliases: many surface forms per canonical entity.
-- The primary key only dedupes (alias, entity) pairs; the table itself
-- permits the same alias text under more than one entity. Resolving an
-- alias to a single entity is the resolver's job: its exact-match walk
-- runs over a deterministically ordered alias list, so repeated lookups
-- always land on the same entity.
CREATE TABLE IF NOT EXISTS entity_aliases (
    entity_id TEXT NOT NULL,
    alias_text TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    PRIMARY KEY (alias_text, entity_id),
    FOREIGN KEY (entity_id) REFERENCES entity_registry(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entity_aliases_entity ON entity_aliases(entity_id);

-- Signal-entity links
CREATE TABLE IF NOT EXISTS signal_entities (
    signal_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0 CHECK(confidence >= 0 AND confidence <= 1),
    PRIMARY KEY (signal_id, entity_id),
    FOREIGN KEY (signal_id) REFERENCES signals(id) ON DELETE CASCADE,
    FOREIGN KEY (entity_id) REFERENCES entity_registry(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_signal_entities_entity ON signal_entities(entity_id);

-- Opportunities
CREATE TABLE IF NOT EXISTS opportunities (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    centroid TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_created_at ON opportunities(created_at);

-- Opportunity membership. The primary key keeps a signal from being
-- linked to the same opportunity twice; cross-opportunity uniqueness is
-- enforced by the merge pass.
CREATE TABLE IF NOT EXISTS opportunity_signals (
    opportunity_id TEXT NOT NULL,
    signal_id TEXT NOT NULL,
    PRIMARY KEY (opportunity_id, signal_id),
    FOREIGN KEY (opportunity_id) REFERENCES opportunities(id) ON DELETE CASCADE,
    FOREIGN KEY (signal_id) REFERENCES signals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_opportunity_signals_signal ON opportunity_signals(signal_id);

-- Pipeline run state: one versioned checkpoint document per run id
CREATE TABLE IF NOT EXISTS pipeline_run_state (
    run_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Config table for key-value settings (clustering watermark lives here)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
