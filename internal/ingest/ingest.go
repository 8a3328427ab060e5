package ingest

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

// Quality score weights. The composite stays in [0,1] because each
// component is clamped there first.
const (
	engagementWeight = 0.4
	lengthWeight     = 0.3
	recencyWeight    = 0.3

	// fullLengthWords is the word count at which the length component
	// saturates. Longer feedback is not more valuable past this point.
	fullLengthWords = 50

	// recencyHalfLife controls how fast the recency component decays
	recencyHalfLife = 30 * 24 * time.Hour
)

// Ingester persists incoming signals after normalizing their content and
// computing an initial quality score
type Ingester struct {
	store storage.Storage
	now   func() time.Time
}

// NewIngester creates an ingester backed by the given store
func NewIngester(store storage.Storage) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Ingester{store: store, now: time.Now}, nil
}

// Ingest normalizes and persists one signal. Missing IDs and timestamps
// are filled in; the caller's metadata is preserved and enriched with a
// computed quality score when none exists yet.
func (in *Ingester) Ingest(ctx context.Context, sig *types.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is required")
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = in.now().UTC()
	}
	if strings.TrimSpace(sig.Content) == "" {
		return fmt.Errorf("signal %s has empty content", sig.ID)
	}
	sig.NormalizedContent = similarity.Normalize(sig.Content)

	if sig.Metadata == nil {
		sig.Metadata = &types.SignalMetadata{}
	}
	if sig.Metadata.Quality == nil || sig.Metadata.Quality.Score == 0 {
		sig.Metadata.Quality = in.scoreQuality(sig)
	}

	if err := sig.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	if err := in.store.CreateSignal(ctx, sig); err != nil {
		return fmt.Errorf("failed to persist signal %s: %w", sig.ID, err)
	}
	return nil
}

// scoreQuality derives the 0-1 composite from engagement, content length
// and recency. Engagement comes from the adapter when provided; length
// and recency are computed here.
func (in *Ingester) scoreQuality(sig *types.Signal) *types.QualityMetrics {
	engagement := 0.0
	if sig.Metadata != nil && sig.Metadata.Quality != nil {
		engagement = clamp01(sig.Metadata.Quality.Engagement)
	}

	words := len(strings.Fields(sig.Content))
	length := clamp01(float64(words) / fullLengthWords)

	age := in.now().UTC().Sub(sig.CreatedAt)
	recency := 1.0
	if age > 0 {
		recency = clamp01(1 - float64(age)/float64(2*recencyHalfLife))
	}

	return &types.QualityMetrics{
		Score:      clamp01(engagementWeight*engagement + lengthWeight*length + recencyWeight*recency),
		Engagement: engagement,
		Length:     length,
		Recency:    recency,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
