package types

import "time"

// SignalFilter narrows signal queries
type SignalFilter struct {
	// Source restricts to one ingestion source; empty means all sources
	Source SignalSource

	// ExcludeDuplicates drops signals already merged into a primary
	ExcludeDuplicates bool

	// CreatedAfter keeps only signals created strictly after this time
	CreatedAfter time.Time

	// MissingEmbedding keeps only signals with no stored embedding
	MissingEmbedding bool

	// NewestFirst orders by created_at descending (default ascending)
	NewestFirst bool

	// Limit caps the result count; 0 means unlimited
	Limit int
}

// CorpusStats is the raw material for a run signature: signal count, the
// newest signal timestamp, and how many signals carry extracted entities.
type CorpusStats struct {
	SignalCount        int
	MaxSignalCreatedAt time.Time
	ExtractionCount    int
}
