package storage

import (
	"context"

	"github.com/anusharmadobe/pm-intelligence-system/internal/storage/sqlite"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// Storage defines the interface for pipeline persistence backends
type Storage interface {
	// Signals
	CreateSignal(ctx context.Context, signal *types.Signal) error
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	ListSignals(ctx context.Context, filter types.SignalFilter) ([]*types.Signal, error)
	UpdateSignalEmbedding(ctx context.Context, id string, embedding []float64) error
	UpdateSignalMetadata(ctx context.Context, id string, meta *types.SignalMetadata) error
	MarkDuplicate(ctx context.Context, duplicateID, primaryID string) error
	GetCorpusStats(ctx context.Context, source types.SignalSource) (*types.CorpusStats, error)

	// Entities
	GetOrCreateEntity(ctx context.Context, entity *types.CanonicalEntity, alias string) (string, bool, error)
	ListEntities(ctx context.Context, entityType types.EntityType) ([]*types.CanonicalEntity, error)
	AddAlias(ctx context.Context, alias *types.EntityAlias) error
	ListAliases(ctx context.Context, entityType types.EntityType) ([]*types.EntityAlias, error)
	LinkSignalEntity(ctx context.Context, link *types.SignalEntityLink) error
	GetSignalEntityLinks(ctx context.Context, signalID string) ([]*types.SignalEntityLink, error)

	// Opportunities
	CreateOpportunity(ctx context.Context, opp *types.Opportunity, signalIDs []string) error
	GetOpportunity(ctx context.Context, id string) (*types.Opportunity, error)
	ListOpportunities(ctx context.Context, status types.OpportunityStatus) ([]*types.Opportunity, error)
	AddOpportunitySignals(ctx context.Context, opportunityID string, signalIDs []string) error
	GetOpportunitySignalIDs(ctx context.Context, opportunityID string) ([]string, error)
	GetSignalOpportunityID(ctx context.Context, signalID string) (string, error)
	RemoveSignalFromOpportunities(ctx context.Context, signalID string) error
	UpdateOpportunityCentroid(ctx context.Context, id string, centroid []float64) error
	MergeOpportunities(ctx context.Context, intoID, fromID string) error

	// Pipeline run state (checkpoint document)
	SaveRunState(ctx context.Context, state *types.PipelineRunState) error
	GetRunState(ctx context.Context, runID string) (*types.PipelineRunState, error)
	GetLatestRunState(ctx context.Context) (*types.PipelineRunState, error)

	// Config (key/value, also holds the clustering watermark)
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Default: ".pmi/pipeline.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".pmi/pipeline.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".pmi/pipeline.db"
	}
	return sqlite.New(cfg.Path)
}
