package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anusharmadobe/pm-intelligence-system/internal/cluster"
	"github.com/anusharmadobe/pm-intelligence-system/internal/dedup"
	"github.com/anusharmadobe/pm-intelligence-system/internal/entity"
	"github.com/anusharmadobe/pm-intelligence-system/internal/export"
	"github.com/anusharmadobe/pm-intelligence-system/internal/ingest"
	"github.com/anusharmadobe/pm-intelligence-system/internal/provider"
	"github.com/anusharmadobe/pm-intelligence-system/internal/retry"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// Orchestrator drives the pipeline stages in their fixed order. Stages
// run strictly sequentially; the checkpoint is persisted synchronously
// at every stage transition so a killed process resumes from the last
// stage boundary.
type Orchestrator struct {
	store     storage.Storage
	provider  provider.Provider
	cfg       Config
	retrier   *retry.Controller
	dedup     *dedup.Engine
	clusterer *cluster.Clusterer
	resolver  *entity.Resolver
	ingester  *ingest.Ingester
	exporter  *export.Exporter
	jira      *export.JiraGenerator

	state            *types.PipelineRunState
	signatureMatched bool
	drafts           []export.JiraDraft
	stopRequested    atomic.Bool
}

// NewOrchestrator builds an orchestrator and its stage components.
// Stage-internal configuration comes from the environment.
func NewOrchestrator(store storage.Storage, p provider.Provider, cfg Config) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	retrier, err := retry.NewController(retry.DefaultConfig())
	if err != nil {
		return nil, err
	}

	dedupCfg, err := dedup.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	engine, err := dedup.NewEngine(store, dedupCfg)
	if err != nil {
		return nil, err
	}

	clusterCfg, err := cluster.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	clusterer, err := cluster.NewClusterer(store, clusterCfg)
	if err != nil {
		return nil, err
	}

	entityCfg, err := entity.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	resolver, err := entity.NewResolver(store, nil, entityCfg)
	if err != nil {
		return nil, err
	}

	ingester, err := ingest.NewIngester(store)
	if err != nil {
		return nil, err
	}
	exporter, err := export.NewExporter(store)
	if err != nil {
		return nil, err
	}
	jira, err := export.NewJiraGenerator(store, p, retrier)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:     store,
		provider:  p,
		cfg:       cfg,
		retrier:   retrier,
		dedup:     engine,
		clusterer: clusterer,
		resolver:  resolver,
		ingester:  ingester,
		exporter:  exporter,
		jira:      jira,
	}, nil
}

// errStopRequested marks a stage that halted before finishing its work
var errStopRequested = errors.New("stop requested")

// Stop requests a cooperative shutdown. The orchestrator finishes the
// work unit in flight, persists the checkpoint, and returns; it never
// interrupts a transaction.
func (o *Orchestrator) Stop() {
	o.stopRequested.Store(true)
}

// stopErr reports why a stage must bail out of its work loop. A stage
// that stops mid-loop returns this error so it is checkpointed failed,
// not completed; a resumed run then re-executes it instead of skipping
// over the unfinished work.
func (o *Orchestrator) stopErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.stopRequested.Load() {
		return errStopRequested
	}
	return nil
}

// State returns the current run state. Nil before Run is called.
func (o *Orchestrator) State() *types.PipelineRunState {
	return o.state
}

// Run executes the pipeline. A stage failure does not abort the run:
// later stages execute against whatever data exists, and the error is
// recorded in the checkpoint. Run returns an error when at least one
// stage never reached completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	sig, err := o.computeSignature(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute run signature: %w", err)
	}
	if err := o.prepareState(ctx, sig); err != nil {
		return err
	}

	heartbeatDone := make(chan struct{})
	currentStage := &atomic.Value{}
	go o.heartbeat(heartbeatDone, currentStage)
	defer close(heartbeatDone)

	fmt.Printf("Pipeline run %s: %d signals (max created %s)\n",
		o.state.RunID, sig.SignalCount, sig.MaxSignalCreatedAt.Format(time.RFC3339))

	for _, name := range types.StageOrder {
		if o.stopRequested.Load() || ctx.Err() != nil {
			fmt.Printf("Stop requested, halting before stage %s\n", name)
			break
		}
		currentStage.Store(string(name))

		if skip, reason := o.shouldSkipStage(name); skip {
			if err := o.markSkipped(ctx, name, reason); err != nil {
				return err
			}
			continue
		}
		if err := o.runStage(ctx, name); err != nil {
			return err
		}
	}

	o.printSummary()

	if failed := o.state.FailedStages(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, n := range failed {
			names[i] = string(n)
		}
		return fmt.Errorf("pipeline run %s degraded: stages failed: %s",
			o.state.RunID, strings.Join(names, ", "))
	}
	if !o.state.Completed() {
		return fmt.Errorf("pipeline run %s incomplete", o.state.RunID)
	}
	return nil
}

// computeSignature fingerprints the corpus so a resumed run can tell
// whether its checkpoint is still valid
func (o *Orchestrator) computeSignature(ctx context.Context) (types.RunSignature, error) {
	stats, err := o.store.GetCorpusStats(ctx, types.SignalSource(o.cfg.SourceFilter))
	if err != nil {
		return types.RunSignature{}, err
	}
	return types.RunSignature{
		SignalCount:        stats.SignalCount,
		MaxSignalCreatedAt: stats.MaxSignalCreatedAt,
		ExtractionCount:    stats.ExtractionCount,
		SignalSourceFilter: o.cfg.SourceFilter,
	}, nil
}

// prepareState loads the prior checkpoint when resuming, or creates a
// fresh one. A signature mismatch on resume is a warning, not an error:
// the checkpoint's completed stages just stop being trusted.
func (o *Orchestrator) prepareState(ctx context.Context, sig types.RunSignature) error {
	if o.cfg.Resume || o.cfg.ResumeFrom != "" {
		prior, err := o.loadPriorState(ctx)
		if err != nil {
			return err
		}
		if prior != nil {
			o.signatureMatched = prior.Signature.Matches(sig)
			if !o.signatureMatched {
				fmt.Printf("Warning: corpus changed since run %s (signals %d -> %d), recomputing all stages\n",
					prior.RunID, prior.Signature.SignalCount, sig.SignalCount)
			}
			prior.Signature = sig
			prior.UpdatedAt = time.Now().UTC()
			o.state = prior
			return o.persist(ctx)
		}
		fmt.Printf("No prior run found, starting fresh\n")
	}

	runID := o.cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	o.state = types.NewPipelineRunState(runID, sig)
	o.state.Config = map[string]string{
		"output_dir":    o.cfg.OutputDir,
		"source_filter": o.cfg.SourceFilter,
	}
	return o.persist(ctx)
}

func (o *Orchestrator) loadPriorState(ctx context.Context) (*types.PipelineRunState, error) {
	if o.cfg.RunID != "" {
		return o.store.GetRunState(ctx, o.cfg.RunID)
	}
	return o.store.GetLatestRunState(ctx)
}

// shouldSkipStage decides whether a stage can be skipped, returning the
// reason for the run log
func (o *Orchestrator) shouldSkipStage(name types.StageName) (bool, string) {
	for _, skip := range o.cfg.SkipStages {
		if skip == name {
			return true, "skipped by flag"
		}
	}
	if o.cfg.ResumeFrom != "" && types.StageIndex(name) < types.StageIndex(o.cfg.ResumeFrom) {
		return true, fmt.Sprintf("before resume point %s", o.cfg.ResumeFrom)
	}
	if o.cfg.Resume && o.signatureMatched &&
		o.state.Stage(name).Status == types.StageCompleted {
		return true, "already completed"
	}
	return false, ""
}

// runStage executes one stage through its state machine, persisting the
// checkpoint at every transition
func (o *Orchestrator) runStage(ctx context.Context, name types.StageName) error {
	st := o.state.Stage(name)
	now := time.Now().UTC()
	st.Status = types.StageRunning
	st.StartTime = &now
	st.Error = ""
	if err := o.persist(ctx); err != nil {
		return err
	}

	fmt.Printf("Stage %s: running\n", name)
	result, stageErr := o.executeStage(ctx, name)

	end := time.Now().UTC()
	st.EndTime = &end
	st.Result = result
	if stageErr != nil {
		st.Status = types.StageFailed
		st.Error = stageErr.Error()
		fmt.Printf("Stage %s: failed: %v\n", name, stageErr)
	} else {
		st.Status = types.StageCompleted
		fmt.Printf("Stage %s: completed in %s\n", name, end.Sub(now).Round(time.Millisecond))
	}
	return o.persist(ctx)
}

func (o *Orchestrator) markSkipped(ctx context.Context, name types.StageName, reason string) error {
	st := o.state.Stage(name)
	// A completed stage from the resumed checkpoint keeps its status
	// and result; everything else is recorded as skipped.
	if st.Status != types.StageCompleted {
		st.Status = types.StageSkipped
	}
	fmt.Printf("Stage %s: skipped (%s)\n", name, reason)
	return o.persist(ctx)
}

// persist writes the full run state synchronously. Nothing proceeds past
// a stage boundary until the checkpoint is durable.
func (o *Orchestrator) persist(ctx context.Context) error {
	o.state.UpdatedAt = time.Now().UTC()
	if err := o.store.SaveRunState(ctx, o.state); err != nil {
		return fmt.Errorf("failed to persist run state: %w", err)
	}
	return nil
}

// heartbeat logs progress for long stages. Observability only; it never
// mutates persisted state.
func (o *Orchestrator) heartbeat(done <-chan struct{}, currentStage *atomic.Value) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stage, _ := currentStage.Load().(string)
			if stage == "" {
				stage = "starting"
			}
			fmt.Printf("Heartbeat: stage %s, elapsed %s\n",
				stage, time.Since(started).Round(time.Second))
		}
	}
}

// printSummary enumerates every stage's terminal status and first error
func (o *Orchestrator) printSummary() {
	fmt.Printf("\nRun %s summary:\n", o.state.RunID)
	for _, name := range types.StageOrder {
		st := o.state.Stage(name)
		line := fmt.Sprintf("  %-18s %s", name, st.Status)
		if st.Result != nil {
			line += fmt.Sprintf("  (processed=%d merged=%d created=%d failed=%d)",
				st.Result.Processed, st.Result.Merged, st.Result.Created, st.Result.Failed)
		}
		if st.Error != "" {
			line += "  error: " + st.Error
		}
		fmt.Println(line)
	}
}
