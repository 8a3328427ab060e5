package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// executeStage dispatches to the stage implementation. Every stage
// returns its counters plus an error that marks the stage failed without
// aborting the run.
func (o *Orchestrator) executeStage(ctx context.Context, name types.StageName) (*types.StageResult, error) {
	switch name {
	case types.StageInitialization:
		return o.stageInitialization(ctx)
	case types.StageIngestion:
		return o.stageIngestion(ctx)
	case types.StageEmbeddings:
		return o.stageEmbeddings(ctx)
	case types.StageDeduplication:
		return o.stageDeduplication(ctx)
	case types.StageClustering:
		return o.stageClustering(ctx)
	case types.StageOpportunityMerge:
		return o.stageOpportunityMerge(ctx)
	case types.StageJiraGeneration:
		return o.stageJiraGeneration(ctx)
	case types.StageExport:
		return o.stageExport(ctx)
	}
	return nil, fmt.Errorf("unknown stage: %s", name)
}

// stageInitialization prepares the output directory and sanity-checks
// the corpus is readable
func (o *Orchestrator) stageInitialization(ctx context.Context) (*types.StageResult, error) {
	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", o.cfg.OutputDir, err)
	}
	stats, err := o.store.GetCorpusStats(ctx, types.SignalSource(o.cfg.SourceFilter))
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return &types.StageResult{Processed: stats.SignalCount}, nil
}

// stageIngestion imports a JSONL batch when one was requested, then
// resolves extracted entity mentions to canonical entities for every
// signal that has extractions but no links yet
func (o *Orchestrator) stageIngestion(ctx context.Context) (*types.StageResult, error) {
	result := &types.StageResult{}

	if o.cfg.ImportPath != "" {
		imported, err := o.ingester.ImportJSONL(ctx, o.cfg.ImportPath)
		if err != nil {
			return result, fmt.Errorf("import failed: %w", err)
		}
		result.Created = imported.Imported
		result.Failed += imported.Failed
	}

	signals, err := o.store.ListSignals(ctx, types.SignalFilter{
		Source:            types.SignalSource(o.cfg.SourceFilter),
		ExcludeDuplicates: true,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list signals: %w", err)
	}

	for _, sig := range signals {
		if err := o.stopErr(ctx); err != nil {
			return result, err
		}
		if sig.Metadata == nil || sig.Metadata.Extracted.IsEmpty() {
			continue
		}
		links, err := o.store.GetSignalEntityLinks(ctx, sig.ID)
		if err != nil {
			return result, err
		}
		if len(links) > 0 {
			continue
		}
		if err := o.resolveSignalEntities(ctx, sig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: entity resolution failed for %s: %v\n", sig.ID, err)
			result.Failed++
			continue
		}
		result.Processed++
	}
	return result, nil
}

// resolveSignalEntities resolves every extracted mention on one signal
// and records the links
func (o *Orchestrator) resolveSignalEntities(ctx context.Context, sig *types.Signal) error {
	mentions := map[types.EntityType][]string{
		types.EntityCustomer: sig.Metadata.Extracted.Customers,
		types.EntityFeature:  sig.Metadata.Extracted.Features,
		types.EntityIssue:    sig.Metadata.Extracted.Issues,
		types.EntityTheme:    sig.Metadata.Extracted.Themes,
	}
	for entityType, names := range mentions {
		for _, name := range names {
			res, err := o.resolver.Resolve(ctx, name, entityType)
			if err != nil {
				return fmt.Errorf("resolving %s %q: %w", entityType, name, err)
			}
			link := &types.SignalEntityLink{
				SignalID:   sig.ID,
				EntityType: entityType,
				EntityID:   res.EntityID,
				Confidence: res.Confidence,
			}
			if err := o.store.LinkSignalEntity(ctx, link); err != nil {
				return err
			}
		}
	}
	return nil
}

// stageEmbeddings vectorizes every signal that lacks an embedding,
// batching provider calls through the retry controller. A failed batch
// is counted and the stage moves on; the stage itself fails only when
// every batch failed.
func (o *Orchestrator) stageEmbeddings(ctx context.Context) (*types.StageResult, error) {
	signals, err := o.store.ListSignals(ctx, types.SignalFilter{
		Source:            types.SignalSource(o.cfg.SourceFilter),
		ExcludeDuplicates: true,
		MissingEmbedding:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	result := &types.StageResult{}
	if len(signals) == 0 {
		return result, nil
	}

	failedBatches := 0
	totalBatches := 0
	for start := 0; start < len(signals); start += o.cfg.EmbedBatchSize {
		if err := o.stopErr(ctx); err != nil {
			return result, err
		}
		end := start + o.cfg.EmbedBatchSize
		if end > len(signals) {
			end = len(signals)
		}
		batch := signals[start:end]
		totalBatches++

		texts := make([]string, len(batch))
		for i, sig := range batch {
			text := sig.NormalizedContent
			if text == "" {
				text = sig.Content
			}
			texts[i] = text
		}

		var vectors [][]float64
		err := o.retrier.Do(ctx, "embed_batch", func(ctx context.Context) error {
			var eerr error
			vectors, eerr = o.provider.Embed(ctx, texts)
			return eerr
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: embedding batch failed: %v\n", err)
			failedBatches++
			result.Failed += len(batch)
			continue
		}
		if len(vectors) != len(batch) {
			fmt.Fprintf(os.Stderr, "Warning: provider returned %d vectors for %d texts\n",
				len(vectors), len(batch))
			failedBatches++
			result.Failed += len(batch)
			continue
		}

		for i, sig := range batch {
			if err := o.store.UpdateSignalEmbedding(ctx, sig.ID, vectors[i]); err != nil {
				return result, fmt.Errorf("failed to store embedding for %s: %w", sig.ID, err)
			}
			result.Processed++
		}
	}

	if totalBatches > 0 && failedBatches == totalBatches {
		return result, fmt.Errorf("all %d embedding batches failed", totalBatches)
	}
	return result, nil
}

func (o *Orchestrator) stageDeduplication(ctx context.Context) (*types.StageResult, error) {
	pass, err := o.dedup.RunPass(ctx)
	if err != nil {
		return nil, err
	}
	return &types.StageResult{
		Processed: pass.Examined,
		Merged:    pass.Merged,
		Failed:    pass.Failures,
	}, nil
}

func (o *Orchestrator) stageClustering(ctx context.Context) (*types.StageResult, error) {
	detect, err := o.clusterer.DetectIncremental(ctx)
	if err != nil {
		return nil, err
	}
	return &types.StageResult{
		Processed: detect.SignalsProcessed,
		Created:   detect.Created,
		Merged:    detect.Assigned,
	}, nil
}

func (o *Orchestrator) stageOpportunityMerge(ctx context.Context) (*types.StageResult, error) {
	merged, err := o.clusterer.MergeRelated(ctx, 0)
	if err != nil {
		return &types.StageResult{Merged: merged}, err
	}
	return &types.StageResult{Merged: merged}, nil
}

func (o *Orchestrator) stageJiraGeneration(ctx context.Context) (*types.StageResult, error) {
	drafts, failed, err := o.jira.Generate(ctx, o.cfg.MaxJira)
	o.drafts = drafts
	result := &types.StageResult{Created: len(drafts), Failed: failed}
	if err != nil {
		return result, err
	}
	return result, nil
}

// stageExport always runs, even after upstream failures: a degraded run
// still produces a valid report over whatever data exists
func (o *Orchestrator) stageExport(ctx context.Context) (*types.StageResult, error) {
	path, err := o.exporter.WriteReport(ctx, o.state, o.drafts, o.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Report written to %s\n", path)
	return &types.StageResult{Created: 1}, nil
}
