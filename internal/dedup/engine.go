// Package dedup finds and merges near-duplicate signals using embedding
// distance plus temporal and channel constraints.
//
// A duplicate pair must clear every constraint, not just similarity: the
// vectors are close, the signals were created within the time window of
// each other, they share a channel (when configured), and neither side is
// already merged into something else. Merging never chains: the primary
// of a merge is always an un-merged signal.
package dedup

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/anusharmadobe/pm-intelligence-system/internal/similarity"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// Candidate is one near-duplicate of a signal
type Candidate struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// PassResult summarizes one full deduplication pass
type PassResult struct {
	// Examined is how many un-merged signals the pass looked at
	Examined int `json:"examined"`

	// Merged is how many signals were marked as duplicates
	Merged int `json:"merged"`

	// Remaining is how many un-merged signals exist after the pass
	Remaining int `json:"remaining"`

	// Failures counts signals whose duplicate search failed; the pass
	// continues past them
	Failures int `json:"failures"`
}

// Engine performs duplicate detection and merging over stored signals
type Engine struct {
	store storage.Storage
	cfg   Config
}

// NewEngine creates a deduplication engine
func NewEngine(store storage.Storage, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}
	return &Engine{store: store, cfg: cfg}, nil
}

// FindDuplicates returns the near-duplicates of one signal, most similar
// first. The target signal must have an embedding; signals without one
// never match (the heuristic layers live in clustering, not dedup).
func (e *Engine) FindDuplicates(ctx context.Context, signalID string) ([]Candidate, error) {
	target, err := e.store.GetSignal(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if target.IsDuplicate() {
		return nil, fmt.Errorf("signal %s is already a duplicate of %s", signalID, target.DuplicateOf)
	}
	if len(target.Embedding) == 0 {
		return nil, nil
	}

	pool, err := e.store.ListSignals(ctx, types.SignalFilter{ExcludeDuplicates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return e.candidatesFor(target, pool), nil
}

// candidatesFor applies every constraint against an in-memory pool
func (e *Engine) candidatesFor(target *types.Signal, pool []*types.Signal) []Candidate {
	var out []Candidate
	for _, other := range pool {
		if other.ID == target.ID || other.IsDuplicate() || len(other.Embedding) == 0 {
			continue
		}
		delta := target.CreatedAt.Sub(other.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > e.cfg.TimeWindow {
			continue
		}
		if e.cfg.SameChannelOnly && other.Channel != target.Channel {
			continue
		}
		sim := similarity.Cosine(target.Embedding, other.Embedding)
		if sim < e.cfg.SimilarityThreshold {
			continue
		}
		out = append(out, Candidate{ID: other.ID, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Merge marks each duplicate as merged into the primary. The store
// enforces the no-chain invariant, re-pointing anything that had merged
// into a loser and removing the losers from any opportunity membership.
func (e *Engine) Merge(ctx context.Context, primaryID string, duplicateIDs []string) error {
	for _, dupID := range duplicateIDs {
		if err := e.store.MarkDuplicate(ctx, dupID, primaryID); err != nil {
			return fmt.Errorf("failed to merge %s into %s: %w", dupID, primaryID, err)
		}
	}
	return nil
}

// RunPass performs a full deduplication pass: un-merged signals are
// examined newest first up to the configured cap; each group of
// near-duplicates is merged into the member with the highest quality
// score. Re-running a pass over an unchanged corpus merges nothing,
// because merged signals are excluded from candidate search.
//
// A failure processing one signal is logged and counted, and the pass
// moves on to the next signal.
func (e *Engine) RunPass(ctx context.Context) (*PassResult, error) {
	signals, err := e.store.ListSignals(ctx, types.SignalFilter{
		ExcludeDuplicates: true,
		NewestFirst:       true,
		Limit:             e.cfg.MaxSignals,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}

	result := &PassResult{}
	seen := make(map[string]bool, len(signals))
	mergedAway := make(map[string]bool)
	byID := indexByID(signals)

	for _, signal := range signals {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pass canceled: %w", err)
		}
		if seen[signal.ID] || mergedAway[signal.ID] {
			continue
		}
		seen[signal.ID] = true
		result.Examined++

		if len(signal.Embedding) == 0 {
			continue
		}

		// Candidate pool excludes anything merged earlier in this pass
		pool := make([]*types.Signal, 0, len(signals))
		for _, s := range signals {
			if !mergedAway[s.ID] {
				pool = append(pool, s)
			}
		}

		candidates := e.candidatesFor(signal, pool)
		if len(candidates) == 0 {
			continue
		}

		group := []*types.Signal{signal}
		for _, c := range candidates {
			if other, ok := byID[c.ID]; ok {
				group = append(group, other)
			}
		}

		primary := selectPrimary(group)
		var losers []string
		for _, member := range group {
			if member.ID != primary.ID {
				losers = append(losers, member.ID)
			}
		}

		if err := e.Merge(ctx, primary.ID, losers); err != nil {
			fmt.Fprintf(os.Stderr, "dedup: failed to merge group for %s: %v\n", signal.ID, err)
			result.Failures++
			continue
		}

		for _, id := range losers {
			mergedAway[id] = true
			seen[id] = true
		}
		seen[primary.ID] = true
		result.Merged += len(losers)
	}

	stats, err := e.store.ListSignals(ctx, types.SignalFilter{ExcludeDuplicates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining signals: %w", err)
	}
	result.Remaining = len(stats)

	fmt.Printf("dedup pass: examined=%d merged=%d remaining=%d failures=%d\n",
		result.Examined, result.Merged, result.Remaining, result.Failures)
	return result, nil
}

// selectPrimary picks the group member that survives a merge: highest
// quality score wins; equal scores break by earliest created_at, then
// lowest id, so repeated passes pick the same primary.
func selectPrimary(group []*types.Signal) *types.Signal {
	primary := group[0]
	for _, s := range group[1:] {
		switch {
		case s.QualityScore() > primary.QualityScore():
			primary = s
		case s.QualityScore() == primary.QualityScore():
			if s.CreatedAt.Before(primary.CreatedAt) ||
				(s.CreatedAt.Equal(primary.CreatedAt) && s.ID < primary.ID) {
				primary = s
			}
		}
	}
	return primary
}

func indexByID(signals []*types.Signal) map[string]*types.Signal {
	m := make(map[string]*types.Signal, len(signals))
	for _, s := range signals {
		m[s.ID] = s
	}
	return m
}
