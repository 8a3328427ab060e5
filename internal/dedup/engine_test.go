package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := NewEngine(store, cfg)
	require.NoError(t, err)
	return engine, store
}

func addSignal(t *testing.T, store storage.Storage, id, channel string, created time.Time, embedding []float64, quality float64) {
	t.Helper()
	sig := &types.Signal{
		ID:        id,
		Content:   "content " + id,
		Source:    types.SourceSlack,
		Channel:   channel,
		CreatedAt: created,
		Embedding: embedding,
	}
	if quality > 0 {
		sig.Metadata = &types.SignalMetadata{Quality: &types.QualityMetrics{Score: quality}}
	}
	require.NoError(t, store.CreateSignal(context.Background(), sig))
}

func TestFindDuplicatesConstraints(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	near := []float64{1, 0.01, 0}  // cosine vs {1,0,0} ≈ 0.99995
	far := []float64{0.5, 0.86, 0} // well below 0.9

	addSignal(t, store, "target", "#feedback", base, []float64{1, 0, 0}, 0)
	addSignal(t, store, "close", "#feedback", base.Add(2*time.Hour), near, 0)
	addSignal(t, store, "other-channel", "#random", base.Add(time.Hour), near, 0)
	addSignal(t, store, "too-old", "#feedback", base.Add(-48*time.Hour), near, 0)
	addSignal(t, store, "dissimilar", "#feedback", base.Add(time.Hour), far, 0)
	addSignal(t, store, "no-embedding", "#feedback", base.Add(time.Hour), nil, 0)

	dups, err := engine.FindDuplicates(ctx, "target")
	require.NoError(t, err)
	require.Len(t, dups, 1, "only the in-window, same-channel, similar signal matches")
	assert.Equal(t, "close", dups[0].ID)
	assert.Greater(t, dups[0].Similarity, 0.9)
}

func TestFindDuplicatesCrossChannelWhenAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SameChannelOnly = false
	engine, store := newTestEngine(t, cfg)
	base := time.Now().UTC()

	near := []float64{1, 0.01, 0}
	addSignal(t, store, "target", "#a", base, []float64{1, 0, 0}, 0)
	addSignal(t, store, "elsewhere", "#b", base.Add(time.Hour), near, 0)

	dups, err := engine.FindDuplicates(context.Background(), "target")
	require.NoError(t, err)
	assert.Len(t, dups, 1)
}

func TestFindDuplicatesExcludesMerged(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	near := []float64{1, 0.01, 0}
	addSignal(t, store, "target", "#a", base, []float64{1, 0, 0}, 0)
	addSignal(t, store, "merged", "#a", base.Add(time.Hour), near, 0)
	addSignal(t, store, "primary", "#a", base.Add(time.Minute), near, 0)
	require.NoError(t, store.MarkDuplicate(ctx, "merged", "primary"))

	dups, err := engine.FindDuplicates(ctx, "target")
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "primary", dups[0].ID, "already-merged signals never match again")

	// Searching from a merged signal is an error
	_, err = engine.FindDuplicates(ctx, "merged")
	assert.Error(t, err)
}

func TestRunPassQualityPrimarySelection(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two near-identical signals 2h apart, same channel, quality 0.4 and
	// 0.7: the 0.7 signal must win the merge
	addSignal(t, store, "weak", "#feedback", base, []float64{1, 0, 0}, 0.4)
	addSignal(t, store, "strong", "#feedback", base.Add(2*time.Hour), []float64{1, 0.01, 0}, 0.7)

	result, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Remaining)

	weak, err := store.GetSignal(ctx, "weak")
	require.NoError(t, err)
	assert.Equal(t, "strong", weak.DuplicateOf)

	strong, err := store.GetSignal(ctx, "strong")
	require.NoError(t, err)
	assert.False(t, strong.IsDuplicate())
}

func TestRunPassTieBreaksByCreatedAt(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Equal quality: earliest created_at wins
	addSignal(t, store, "later", "#f", base.Add(time.Hour), []float64{1, 0.01, 0}, 0.5)
	addSignal(t, store, "earlier", "#f", base, []float64{1, 0, 0}, 0.5)

	_, err := engine.RunPass(ctx)
	require.NoError(t, err)

	later, err := store.GetSignal(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, "earlier", later.DuplicateOf)
}

func TestRunPassIdempotent(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	addSignal(t, store, "a", "#f", base, []float64{1, 0, 0}, 0.9)
	addSignal(t, store, "b", "#f", base.Add(time.Hour), []float64{1, 0.01, 0}, 0.2)
	addSignal(t, store, "c", "#f", base.Add(30*time.Minute), []float64{1, 0.02, 0}, 0.5)

	first, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Merged)

	second, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Merged, "second pass over unchanged corpus merges nothing")
	assert.Equal(t, first.Remaining, second.Remaining)
}

func TestRunPassNoDuplicateChains(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	// A tight cluster of four signals; after the pass every duplicate
	// must point at an un-merged primary
	addSignal(t, store, "s1", "#f", base, []float64{1, 0, 0}, 0.1)
	addSignal(t, store, "s2", "#f", base.Add(time.Hour), []float64{1, 0.01, 0}, 0.9)
	addSignal(t, store, "s3", "#f", base.Add(2*time.Hour), []float64{1, 0.02, 0}, 0.5)
	addSignal(t, store, "s4", "#f", base.Add(3*time.Hour), []float64{1, 0.03, 0}, 0.3)

	_, err := engine.RunPass(ctx)
	require.NoError(t, err)

	all, err := store.ListSignals(ctx, types.SignalFilter{})
	require.NoError(t, err)
	byID := make(map[string]*types.Signal)
	for _, s := range all {
		byID[s.ID] = s
	}
	for _, s := range all {
		if s.DuplicateOf == "" {
			continue
		}
		primary := byID[s.DuplicateOf]
		require.NotNil(t, primary)
		assert.Empty(t, primary.DuplicateOf,
			"signal %s points at %s which is itself a duplicate", s.ID, primary.ID)
	}
}

func TestRunPassNonTransitiveTriangle(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	// a and q both sit at cosine 0.92 from p, but only 0.69 from each
	// other, so they merge with p in separate groups. The pass walks
	// newest first: a merges into p, then p loses to the higher-quality
	// q and a must follow it.
	addSignal(t, store, "p", "#f", base, []float64{1, 0, 0}, 0.5)
	addSignal(t, store, "q", "#f", base.Add(time.Hour), []float64{0.92, -0.39192, 0}, 0.9)
	addSignal(t, store, "a", "#f", base.Add(2*time.Hour), []float64{0.92, 0.39192, 0}, 0.1)

	result, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Merged)
	assert.Equal(t, 1, result.Remaining)

	for id, want := range map[string]string{"a": "q", "p": "q", "q": ""} {
		got, err := store.GetSignal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.DuplicateOf, "signal %s", id)
	}
}

func TestRunPassSkipsSignalsWithoutEmbeddings(t *testing.T) {
	engine, store := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	addSignal(t, store, "a", "#f", base, nil, 0)
	addSignal(t, store, "b", "#f", base.Add(time.Minute), nil, 0)

	result, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Merged)
	assert.Equal(t, 2, result.Remaining)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PMI_DEDUP_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("PMI_DEDUP_TIME_WINDOW_HOURS", "48")
	t.Setenv("PMI_DEDUP_SAME_CHANNEL_ONLY", "false")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 48*time.Hour, cfg.TimeWindow)
	assert.False(t, cfg.SameChannelOnly)

	t.Setenv("PMI_DEDUP_SIMILARITY_THRESHOLD", "1.5")
	_, err = ConfigFromEnv()
	assert.Error(t, err, "out-of-range threshold must be rejected")
}
