package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSignal(id string, created time.Time) *types.Signal {
	return &types.Signal{
		ID:        id,
		Content:   "feedback content for " + id,
		Source:    types.SourceSlack,
		Channel:   "#product-feedback",
		CreatedAt: created,
	}
}

func TestSignalRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sig := testSignal("sig-1", created)
	sig.Metadata = &types.SignalMetadata{
		Quality: &types.QualityMetrics{Score: 0.7},
		Extra:   map[string]string{"thread_ts": "123.456"},
	}
	sig.Embedding = []float64{0.1, 0.2, 0.3}

	if err := store.CreateSignal(ctx, sig); err != nil {
		t.Fatalf("CreateSignal failed: %v", err)
	}

	got, err := store.GetSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("GetSignal failed: %v", err)
	}
	if got.Content != sig.Content {
		t.Errorf("content mismatch: %q", got.Content)
	}
	if got.QualityScore() != 0.7 {
		t.Errorf("quality score = %v, want 0.7", got.QualityScore())
	}
	if got.Metadata.Extra["thread_ts"] != "123.456" {
		t.Errorf("extra metadata not preserved: %v", got.Metadata.Extra)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding mismatch: %v", got.Embedding)
	}

	// Duplicate ID rejected
	if err := store.CreateSignal(ctx, sig); err == nil {
		t.Error("expected error creating signal with duplicate id")
	}
}

func TestListSignalsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sig := testSignal(fmt.Sprintf("sig-%d", i), base.Add(time.Duration(i)*time.Hour))
		if i == 4 {
			sig.Source = types.SourceDocument
		}
		if err := store.CreateSignal(ctx, sig); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}
	if err := store.UpdateSignalEmbedding(ctx, "sig-0", []float64{1, 0}); err != nil {
		t.Fatalf("UpdateSignalEmbedding failed: %v", err)
	}
	if err := store.MarkDuplicate(ctx, "sig-1", "sig-0"); err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}

	unmerged, err := store.ListSignals(ctx, types.SignalFilter{ExcludeDuplicates: true})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(unmerged) != 4 {
		t.Errorf("expected 4 unmerged signals, got %d", len(unmerged))
	}

	slack, err := store.ListSignals(ctx, types.SignalFilter{Source: types.SourceSlack})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(slack) != 4 {
		t.Errorf("expected 4 slack signals, got %d", len(slack))
	}

	missing, err := store.ListSignals(ctx, types.SignalFilter{MissingEmbedding: true})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(missing) != 4 {
		t.Errorf("expected 4 signals without embeddings, got %d", len(missing))
	}

	newest, err := store.ListSignals(ctx, types.SignalFilter{NewestFirst: true, Limit: 2})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(newest) != 2 || newest[0].ID != "sig-4" {
		t.Errorf("newest-first ordering wrong: %+v", newest)
	}

	recent, err := store.ListSignals(ctx, types.SignalFilter{CreatedAfter: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 signals after cutoff, got %d", len(recent))
	}
}

func TestMarkDuplicateNoChains(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateSignal(ctx, testSignal(id, base)); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}

	if err := store.MarkDuplicate(ctx, "b", "a"); err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}

	// b is already a duplicate of a: c cannot merge into b (chain)
	if err := store.MarkDuplicate(ctx, "c", "b"); err == nil {
		t.Error("expected error merging into a signal that is itself a duplicate")
	}

	// b cannot be re-merged into a different primary
	if err := store.MarkDuplicate(ctx, "b", "c"); err == nil {
		t.Error("expected error re-merging an already-merged signal")
	}

	// Repeating the same merge is a no-op
	if err := store.MarkDuplicate(ctx, "b", "a"); err != nil {
		t.Errorf("repeated identical merge should be a no-op, got: %v", err)
	}

	// Self-merge rejected
	if err := store.MarkDuplicate(ctx, "a", "a"); err == nil {
		t.Error("expected error merging a signal into itself")
	}
}

func TestMarkDuplicateRepointsChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, id := range []string{"a", "p", "q"} {
		if err := store.CreateSignal(ctx, testSignal(id, base)); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}

	// a merges into p, then p loses a later merge to q
	if err := store.MarkDuplicate(ctx, "a", "p"); err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}
	if err := store.MarkDuplicate(ctx, "p", "q"); err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}

	for _, id := range []string{"a", "p"} {
		got, err := store.GetSignal(ctx, id)
		if err != nil {
			t.Fatalf("GetSignal failed: %v", err)
		}
		if got.DuplicateOf != "q" {
			t.Errorf("signal %s duplicate_of = %q, want %q", id, got.DuplicateOf, "q")
		}
	}
	q, err := store.GetSignal(ctx, "q")
	if err != nil {
		t.Fatalf("GetSignal failed: %v", err)
	}
	if q.DuplicateOf != "" {
		t.Errorf("surviving primary must not be a duplicate, got %q", q.DuplicateOf)
	}
}

func TestMarkDuplicateRemovesOpportunityLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, id := range []string{"a", "b"} {
		if err := store.CreateSignal(ctx, testSignal(id, base)); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}
	opp := &types.Opportunity{
		ID: "opp-1", Title: "Login issues", Status: types.OpportunityActive,
		CreatedAt: base, UpdatedAt: base,
	}
	if err := store.CreateOpportunity(ctx, opp, []string{"a", "b"}); err != nil {
		t.Fatalf("CreateOpportunity failed: %v", err)
	}

	if err := store.MarkDuplicate(ctx, "b", "a"); err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}

	ids, err := store.GetOpportunitySignalIDs(ctx, "opp-1")
	if err != nil {
		t.Fatalf("GetOpportunitySignalIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("merged signal should be removed from opportunity, got %v", ids)
	}
}

func TestGetOrCreateEntityIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := &types.CanonicalEntity{
		ID:            "ent-1",
		EntityType:    types.EntityCustomer,
		CanonicalName: "Contoso Corp",
		CreatedBy:     "resolver",
		CreatedAt:     time.Now().UTC(),
	}
	id1, created, err := store.GetOrCreateEntity(ctx, entity, "Contoso Corp")
	if err != nil {
		t.Fatalf("GetOrCreateEntity failed: %v", err)
	}
	if !created || id1 != "ent-1" {
		t.Errorf("first call: created=%v id=%s", created, id1)
	}

	// Same canonical name with a fresh ID returns the existing entity
	second := &types.CanonicalEntity{
		ID:            "ent-2",
		EntityType:    types.EntityCustomer,
		CanonicalName: "Contoso Corp",
		CreatedAt:     time.Now().UTC(),
	}
	id2, created, err := store.GetOrCreateEntity(ctx, second, "contoso")
	if err != nil {
		t.Fatalf("GetOrCreateEntity failed: %v", err)
	}
	if created {
		t.Error("second call should not create a new entity")
	}
	if id2 != id1 {
		t.Errorf("same canonical name resolved to different ids: %s vs %s", id1, id2)
	}

	// Same name, different type is a distinct entity
	feature := &types.CanonicalEntity{
		ID:            "ent-3",
		EntityType:    types.EntityFeature,
		CanonicalName: "Contoso Corp",
		CreatedAt:     time.Now().UTC(),
	}
	id3, created, err := store.GetOrCreateEntity(ctx, feature, "")
	if err != nil {
		t.Fatalf("GetOrCreateEntity failed: %v", err)
	}
	if !created || id3 == id1 {
		t.Errorf("different type should be a new entity: created=%v id=%s", created, id3)
	}

	aliases, err := store.ListAliases(ctx, types.EntityCustomer)
	if err != nil {
		t.Fatalf("ListAliases failed: %v", err)
	}
	if len(aliases) != 2 {
		t.Errorf("expected 2 aliases, got %d", len(aliases))
	}
	for _, a := range aliases {
		if a.EntityID != id1 {
			t.Errorf("alias %q points at %s, want %s", a.AliasText, a.EntityID, id1)
		}
	}
}

func TestSignalEntityLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", time.Now().UTC())); err != nil {
		t.Fatalf("CreateSignal failed: %v", err)
	}
	entity := &types.CanonicalEntity{
		ID: "ent-1", EntityType: types.EntityCustomer,
		CanonicalName: "Fabrikam", CreatedAt: time.Now().UTC(),
	}
	if _, _, err := store.GetOrCreateEntity(ctx, entity, ""); err != nil {
		t.Fatalf("GetOrCreateEntity failed: %v", err)
	}

	link := &types.SignalEntityLink{
		SignalID: "sig-1", EntityType: types.EntityCustomer,
		EntityID: "ent-1", Confidence: 0.8,
	}
	if err := store.LinkSignalEntity(ctx, link); err != nil {
		t.Fatalf("LinkSignalEntity failed: %v", err)
	}

	// Re-linking updates confidence instead of erroring
	link.Confidence = 0.95
	if err := store.LinkSignalEntity(ctx, link); err != nil {
		t.Fatalf("re-link failed: %v", err)
	}

	links, err := store.GetSignalEntityLinks(ctx, "sig-1")
	if err != nil {
		t.Fatalf("GetSignalEntityLinks failed: %v", err)
	}
	if len(links) != 1 || links[0].Confidence != 0.95 {
		t.Errorf("unexpected links: %+v", links)
	}
}

func TestMergeOpportunities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateSignal(ctx, testSignal(id, base)); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}
	older := &types.Opportunity{
		ID: "opp-1", Title: "Slow dashboard", Status: types.OpportunityActive,
		CreatedAt: base, UpdatedAt: base,
	}
	newer := &types.Opportunity{
		ID: "opp-2", Title: "Dashboard performance", Status: types.OpportunityActive,
		CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	}
	if err := store.CreateOpportunity(ctx, older, []string{"a", "b"}); err != nil {
		t.Fatalf("CreateOpportunity failed: %v", err)
	}
	// "b" is transiently in both candidate clusters pre-merge
	if err := store.CreateOpportunity(ctx, newer, []string{"b", "c"}); err != nil {
		t.Fatalf("CreateOpportunity failed: %v", err)
	}

	if err := store.MergeOpportunities(ctx, "opp-1", "opp-2"); err != nil {
		t.Fatalf("MergeOpportunities failed: %v", err)
	}

	ids, err := store.GetOpportunitySignalIDs(ctx, "opp-1")
	if err != nil {
		t.Fatalf("GetOpportunitySignalIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("survivor should own all 3 signals, got %v", ids)
	}

	if _, err := store.GetOpportunity(ctx, "opp-2"); err == nil {
		t.Error("merged opportunity should be deleted")
	}

	// Merge safety: each signal belongs to at most one opportunity
	for _, sid := range []string{"a", "b", "c"} {
		oppID, err := store.GetSignalOpportunityID(ctx, sid)
		if err != nil {
			t.Fatalf("GetSignalOpportunityID failed: %v", err)
		}
		if oppID != "opp-1" {
			t.Errorf("signal %s belongs to %q, want opp-1", sid, oppID)
		}
	}

	// Merging into self rejected
	if err := store.MergeOpportunities(ctx, "opp-1", "opp-1"); err == nil {
		t.Error("expected error merging opportunity into itself")
	}
}

func TestRunStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sig := types.RunSignature{
		SignalCount:        10,
		MaxSignalCreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExtractionCount:    4,
	}
	state := types.NewPipelineRunState("run-1", sig)
	if err := store.SaveRunState(ctx, state); err != nil {
		t.Fatalf("SaveRunState failed: %v", err)
	}

	// Advance a stage and save again (upsert)
	now := time.Now().UTC()
	st := state.Stage(types.StageIngestion)
	st.Status = types.StageCompleted
	st.StartTime = &now
	st.EndTime = &now
	st.Result = &types.StageResult{Processed: 10}
	if err := store.SaveRunState(ctx, state); err != nil {
		t.Fatalf("SaveRunState (update) failed: %v", err)
	}

	got, err := store.GetRunState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRunState failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run state, got nil")
	}
	if got.Version != types.CheckpointVersion {
		t.Errorf("version = %d, want %d", got.Version, types.CheckpointVersion)
	}
	if !got.Signature.Matches(sig) {
		t.Errorf("signature mismatch: %+v", got.Signature)
	}
	if got.Stage(types.StageIngestion).Status != types.StageCompleted {
		t.Errorf("ingestion status = %s", got.Stage(types.StageIngestion).Status)
	}
	if got.Stage(types.StageExport).Status != types.StagePending {
		t.Errorf("export status = %s", got.Stage(types.StageExport).Status)
	}

	// Unknown run id returns nil, not error
	missing, err := store.GetRunState(ctx, "run-nope")
	if err != nil {
		t.Fatalf("GetRunState failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown run id")
	}

	latest, err := store.GetLatestRunState(ctx)
	if err != nil {
		t.Fatalf("GetLatestRunState failed: %v", err)
	}
	if latest == nil || latest.RunID != "run-1" {
		t.Errorf("latest run state wrong: %+v", latest)
	}
}

func TestCorpusStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	empty, err := store.GetCorpusStats(ctx, "")
	if err != nil {
		t.Fatalf("GetCorpusStats failed: %v", err)
	}
	if empty.SignalCount != 0 || !empty.MaxSignalCreatedAt.IsZero() {
		t.Errorf("empty corpus stats wrong: %+v", empty)
	}

	for i := 0; i < 3; i++ {
		sig := testSignal(fmt.Sprintf("sig-%d", i), base.Add(time.Duration(i)*time.Hour))
		if i == 2 {
			sig.Source = types.SourceDocument
			sig.Metadata = &types.SignalMetadata{
				Extracted: &types.ExtractedEntities{Themes: []string{"performance"}},
			}
		}
		if err := store.CreateSignal(ctx, sig); err != nil {
			t.Fatalf("CreateSignal failed: %v", err)
		}
	}

	stats, err := store.GetCorpusStats(ctx, "")
	if err != nil {
		t.Fatalf("GetCorpusStats failed: %v", err)
	}
	if stats.SignalCount != 3 {
		t.Errorf("signal count = %d, want 3", stats.SignalCount)
	}
	if !stats.MaxSignalCreatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("max created at = %v", stats.MaxSignalCreatedAt)
	}
	if stats.ExtractionCount != 1 {
		t.Errorf("extraction count = %d, want 1", stats.ExtractionCount)
	}

	filtered, err := store.GetCorpusStats(ctx, types.SourceSlack)
	if err != nil {
		t.Fatalf("GetCorpusStats failed: %v", err)
	}
	if filtered.SignalCount != 2 {
		t.Errorf("filtered signal count = %d, want 2", filtered.SignalCount)
	}
}

func TestConfigKV(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetConfig(ctx, "clustering_watermark")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if val != "" {
		t.Errorf("unset key should return empty, got %q", val)
	}

	if err := store.SetConfig(ctx, "clustering_watermark", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := store.SetConfig(ctx, "clustering_watermark", "2026-03-02T00:00:00Z"); err != nil {
		t.Fatalf("SetConfig (overwrite) failed: %v", err)
	}

	val, err = store.GetConfig(ctx, "clustering_watermark")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if val != "2026-03-02T00:00:00Z" {
		t.Errorf("config value = %q", val)
	}
}
