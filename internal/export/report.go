package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// Report is the JSON document the export stage writes for downstream
// consumers. A run with zero opportunities still produces a valid,
// empty report.
type Report struct {
	RunID         string              `json:"run_id"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Corpus        CorpusSummary       `json:"corpus"`
	Stages        []StageSummary      `json:"stages"`
	Opportunities []OpportunityReport `json:"opportunities"`
	JiraDrafts    []JiraDraft         `json:"jira_drafts,omitempty"`
}

// CorpusSummary counts the signal corpus at export time
type CorpusSummary struct {
	Signals       int `json:"signals"`
	Duplicates    int `json:"duplicates"`
	Opportunities int `json:"opportunities"`
	Unclustered   int `json:"unclustered"`
}

// StageSummary is one stage's terminal outcome
type StageSummary struct {
	Name   types.StageName    `json:"name"`
	Status types.StageStatus  `json:"status"`
	Error  string             `json:"error,omitempty"`
	Result *types.StageResult `json:"result,omitempty"`
}

// OpportunityReport is one opportunity with its member signals
type OpportunityReport struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	SignalCount int             `json:"signal_count"`
	Signals     []SignalSummary `json:"signals"`
}

// SignalSummary is the slice of a signal worth putting in a report
type SignalSummary struct {
	ID        string             `json:"id"`
	Content   string             `json:"content"`
	Source    types.SignalSource `json:"source"`
	Channel   string             `json:"channel,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Quality   float64            `json:"quality"`
}

// Exporter assembles and writes the run report
type Exporter struct {
	store storage.Storage
}

// NewExporter creates an exporter backed by the given store
func NewExporter(store storage.Storage) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Exporter{store: store}, nil
}

// WriteReport builds the report from current store contents and the run
// state, then writes it to <outDir>/report-<runID>.json. Returns the
// written path.
func (e *Exporter) WriteReport(ctx context.Context, state *types.PipelineRunState, drafts []JiraDraft, outDir string) (string, error) {
	report, err := e.buildReport(ctx, state, drafts)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("report-%s.json", state.RunID))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func (e *Exporter) buildReport(ctx context.Context, state *types.PipelineRunState, drafts []JiraDraft) (*Report, error) {
	signals, err := e.store.ListSignals(ctx, types.SignalFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	opps, err := e.store.ListOpportunities(ctx, types.OpportunityActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	report := &Report{
		RunID:         state.RunID,
		GeneratedAt:   time.Now().UTC(),
		Opportunities: []OpportunityReport{},
		JiraDrafts:    drafts,
	}

	clustered := 0
	for _, opp := range opps {
		ids, err := e.store.GetOpportunitySignalIDs(ctx, opp.ID)
		if err != nil {
			return nil, err
		}
		or := OpportunityReport{
			ID:          opp.ID,
			Title:       opp.Title,
			Description: opp.Description,
			SignalCount: len(ids),
			Signals:     make([]SignalSummary, 0, len(ids)),
		}
		for _, id := range ids {
			sig, err := e.store.GetSignal(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load signal %s: %w", id, err)
			}
			or.Signals = append(or.Signals, SignalSummary{
				ID:        sig.ID,
				Content:   sig.Content,
				Source:    sig.Source,
				Channel:   sig.Channel,
				CreatedAt: sig.CreatedAt,
				Quality:   sig.QualityScore(),
			})
		}
		clustered += len(ids)
		report.Opportunities = append(report.Opportunities, or)
	}

	duplicates := 0
	for _, sig := range signals {
		if sig.IsDuplicate() {
			duplicates++
		}
	}
	report.Corpus = CorpusSummary{
		Signals:       len(signals),
		Duplicates:    duplicates,
		Opportunities: len(opps),
		Unclustered:   len(signals) - duplicates - clustered,
	}

	for _, name := range types.StageOrder {
		st := state.Stage(name)
		report.Stages = append(report.Stages, StageSummary{
			Name:   name,
			Status: st.Status,
			Error:  st.Error,
			Result: st.Result,
		})
	}
	return report, nil
}
