package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anusharmadobe/pm-intelligence-system/internal/provider"
	"github.com/anusharmadobe/pm-intelligence-system/internal/retry"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedOpportunity(t *testing.T, store storage.Storage, oppID string, signalIDs ...string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range signalIDs {
		require.NoError(t, store.CreateSignal(ctx, &types.Signal{
			ID:        id,
			Content:   "feedback " + id,
			Source:    types.SourceSlack,
			Channel:   "#feedback",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	opp := &types.Opportunity{
		ID: oppID, Title: "opportunity " + oppID, Status: types.OpportunityActive,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, store.CreateOpportunity(ctx, opp, signalIDs))
}

func TestWriteReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedOpportunity(t, store, "opp-1", "s1", "s2")

	// One duplicate outside any opportunity
	require.NoError(t, store.CreateSignal(ctx, &types.Signal{
		ID: "dup", Content: "repeat", Source: types.SourceSlack,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.MarkDuplicate(ctx, "dup", "s1"))

	exporter, err := NewExporter(store)
	require.NoError(t, err)

	state := types.NewPipelineRunState("run-1", types.RunSignature{SignalCount: 3})
	state.Stage(types.StageDeduplication).Status = types.StageCompleted
	state.Stage(types.StageClustering).Status = types.StageFailed
	state.Stage(types.StageClustering).Error = "boom"

	outDir := t.TempDir()
	path, err := exporter.WriteReport(ctx, state, []JiraDraft{{OpportunityID: "opp-1", Title: "t", Body: "b"}}, outDir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, report.Corpus.Signals)
	assert.Equal(t, 1, report.Corpus.Duplicates)
	assert.Equal(t, 1, report.Corpus.Opportunities)
	assert.Equal(t, 0, report.Corpus.Unclustered)
	require.Len(t, report.Opportunities, 1)
	assert.Len(t, report.Opportunities[0].Signals, 2)
	assert.Len(t, report.JiraDrafts, 1)

	// Every stage appears with its terminal status
	require.Len(t, report.Stages, len(types.StageOrder))
	byName := make(map[types.StageName]StageSummary)
	for _, s := range report.Stages {
		byName[s.Name] = s
	}
	assert.Equal(t, types.StageFailed, byName[types.StageClustering].Status)
	assert.Equal(t, "boom", byName[types.StageClustering].Error)
}

func TestWriteReportEmptyCorpus(t *testing.T) {
	store := newTestStore(t)
	exporter, err := NewExporter(store)
	require.NoError(t, err)

	state := types.NewPipelineRunState("run-empty", types.RunSignature{})
	path, err := exporter.WriteReport(context.Background(), state, nil, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 0, report.Corpus.Signals)
	assert.NotNil(t, report.Opportunities)
	assert.Empty(t, report.Opportunities)
}

func newTestRetrier(t *testing.T) *retry.Controller {
	t.Helper()
	c, err := retry.NewController(retry.DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestGenerateDraftsLargestFirst(t *testing.T) {
	store := newTestStore(t)
	seedOpportunity(t, store, "small", "a1")
	seedOpportunity(t, store, "big", "b1", "b2", "b3")

	stub := provider.NewStub()
	stub.CompleteFunc = func(prompt string) (string, error) {
		return "DRAFT\n" + prompt[:20], nil
	}

	gen, err := NewJiraGenerator(store, stub, newTestRetrier(t))
	require.NoError(t, err)

	drafts, failed, err := gen.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	require.Len(t, drafts, 1)
	assert.Equal(t, "big", drafts[0].OpportunityID)
	assert.Equal(t, 3, drafts[0].SignalCount)
	assert.True(t, strings.HasPrefix(drafts[0].Body, "DRAFT"))
}

func TestGenerateIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	seedOpportunity(t, store, "opp-a", "a1", "a2")
	seedOpportunity(t, store, "opp-b", "b1", "b2")

	stub := provider.NewStub()
	calls := 0
	stub.CompleteFunc = func(prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("request failed with status 400")
		}
		return "ok", nil
	}

	gen, err := NewJiraGenerator(store, stub, newTestRetrier(t))
	require.NoError(t, err)

	drafts, failed, err := gen.Generate(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Len(t, drafts, 1, "one bad completion never aborts the batch")
}

func TestGenerateZeroMax(t *testing.T) {
	store := newTestStore(t)
	gen, err := NewJiraGenerator(store, provider.NewStub(), newTestRetrier(t))
	require.NoError(t, err)

	drafts, failed, err := gen.Generate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Nil(t, drafts)
}
