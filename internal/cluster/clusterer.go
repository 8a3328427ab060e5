package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anusharmadobe/pm-intelligence-system/internal/similarity"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// watermarkKey is the config row tracking the newest signal timestamp a
// successful detection run has seen. Incremental runs only look at
// signals created after it.
const watermarkKey = "clustering_watermark"

// maxTitleWords caps how much of the seed signal feeds the opportunity title
const maxTitleWords = 8

// DetectResult reports the outcome of one clustering run
type DetectResult struct {
	Created          int // opportunities created
	Assigned         int // signals added to existing opportunities
	SignalsProcessed int // new signals examined this run
	Unclustered      int // signals left without an opportunity
}

// Clusterer groups signals into opportunities. Embedding similarity is
// the primary grouping mechanism; signals without embeddings fall back
// to overlap between their extracted entities.
type Clusterer struct {
	store storage.Storage
	cfg   Config
}

// NewClusterer creates a clusterer backed by the given store
func NewClusterer(store storage.Storage, cfg Config) (*Clusterer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Clusterer{store: store, cfg: cfg}, nil
}

// DetectFull clusters every un-merged signal that is not yet a member of
// an opportunity. Signals already clustered are left alone, which makes
// re-running over an unchanged corpus a no-op.
func (c *Clusterer) DetectFull(ctx context.Context) (*DetectResult, error) {
	signals, err := c.store.ListSignals(ctx, types.SignalFilter{ExcludeDuplicates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}

	unclustered, err := c.filterUnclustered(ctx, signals)
	if err != nil {
		return nil, err
	}

	result := &DetectResult{SignalsProcessed: len(signals)}
	if err := c.clusterBatch(ctx, unclustered, result); err != nil {
		return nil, err
	}

	if err := c.advanceWatermark(ctx, signals); err != nil {
		return nil, err
	}

	fmt.Printf("Clustering: %d signals examined, %d opportunities created, %d unclustered\n",
		result.SignalsProcessed, result.Created, result.Unclustered)
	return result, nil
}

// DetectIncremental processes only signals created since the last
// successful detection run. Each new signal is compared against existing
// opportunity centroids first; leftovers are clustered pairwise together
// with any previously unclustered singletons. Falls back to a full run
// when no watermark exists yet.
func (c *Clusterer) DetectIncremental(ctx context.Context) (*DetectResult, error) {
	watermark, err := c.readWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if watermark.IsZero() {
		return c.DetectFull(ctx)
	}

	fresh, err := c.store.ListSignals(ctx, types.SignalFilter{
		ExcludeDuplicates: true,
		CreatedAfter:      watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list new signals: %w", err)
	}

	opps, err := c.store.ListOpportunities(ctx, types.OpportunityActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	result := &DetectResult{SignalsProcessed: len(fresh)}
	for _, sig := range fresh {
		if len(sig.Embedding) == 0 {
			continue
		}
		oppID := c.bestOpportunity(sig, opps)
		if oppID == "" {
			continue
		}
		if err := c.store.AddOpportunitySignals(ctx, oppID, []string{sig.ID}); err != nil {
			return nil, fmt.Errorf("failed to assign signal %s: %w", sig.ID, err)
		}
		if err := c.recomputeCentroid(ctx, oppID); err != nil {
			return nil, err
		}
		result.Assigned++
	}

	// Anything still unclustered, new or left over from earlier runs,
	// gets a pairwise pass so old singletons can pair with new arrivals.
	all, err := c.store.ListSignals(ctx, types.SignalFilter{ExcludeDuplicates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	unclustered, err := c.filterUnclustered(ctx, all)
	if err != nil {
		return nil, err
	}
	if err := c.clusterBatch(ctx, unclustered, result); err != nil {
		return nil, err
	}

	if err := c.advanceWatermark(ctx, fresh); err != nil {
		return nil, err
	}

	fmt.Printf("Incremental clustering: %d new signals, %d assigned, %d opportunities created, %d unclustered\n",
		result.SignalsProcessed, result.Assigned, result.Created, result.Unclustered)
	return result, nil
}

// MergeRelated pairwise-compares active opportunities and unions any
// pair whose similarity meets the threshold. The later opportunity is
// always folded into the earlier one so repeated passes cannot
// oscillate. Pass threshold <= 0 to use the configured default.
func (c *Clusterer) MergeRelated(ctx context.Context, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = c.cfg.MergeThreshold
	}
	if threshold > 1 {
		return 0, fmt.Errorf("merge threshold must be at most 1.0 (got %.2f)", threshold)
	}

	// Oldest first: index i always predates index j below
	opps, err := c.store.ListOpportunities(ctx, types.OpportunityActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list opportunities: %w", err)
	}

	merged := 0
	gone := make(map[string]bool)
	for i := 0; i < len(opps); i++ {
		if gone[opps[i].ID] {
			continue
		}
		for j := i + 1; j < len(opps); j++ {
			if gone[opps[j].ID] {
				continue
			}
			sim := opportunitySimilarity(opps[i], opps[j])
			if sim < threshold {
				continue
			}
			if err := c.store.MergeOpportunities(ctx, opps[i].ID, opps[j].ID); err != nil {
				return merged, fmt.Errorf("failed to merge %s into %s: %w",
					opps[j].ID, opps[i].ID, err)
			}
			gone[opps[j].ID] = true
			merged++
			if err := c.recomputeCentroid(ctx, opps[i].ID); err != nil {
				return merged, err
			}
			// Refresh the survivor so later comparisons see the
			// merged centroid
			refreshed, err := c.store.GetOpportunity(ctx, opps[i].ID)
			if err != nil {
				return merged, err
			}
			opps[i] = refreshed
		}
	}

	if merged > 0 {
		fmt.Printf("Opportunity merge: %d merged at threshold %.2f\n", merged, threshold)
	}
	return merged, nil
}

// clusterBatch greedily groups the given unclustered signals. Signals
// are visited oldest first so the same input always yields the same
// partition. Embedding clusters form first; signals without embeddings
// then group by shared extracted entities.
func (c *Clusterer) clusterBatch(ctx context.Context, signals []*types.Signal, result *DetectResult) error {
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].CreatedAt.Equal(signals[j].CreatedAt) {
			return signals[i].CreatedAt.Before(signals[j].CreatedAt)
		}
		return signals[i].ID < signals[j].ID
	})

	assigned := make(map[string]bool)

	for i, seed := range signals {
		if assigned[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}
		group := []*types.Signal{seed}
		for _, other := range signals[i+1:] {
			if assigned[other.ID] || len(other.Embedding) == 0 {
				continue
			}
			if similarity.Cosine(seed.Embedding, other.Embedding) >= c.cfg.SimilarityThreshold {
				group = append(group, other)
			}
		}
		if len(group) < c.cfg.MinClusterSize {
			continue
		}
		if err := c.createOpportunity(ctx, group); err != nil {
			return err
		}
		for _, member := range group {
			assigned[member.ID] = true
		}
		result.Created++
	}

	// Heuristic fallback for signals with no embedding
	for i, seed := range signals {
		if assigned[seed.ID] || len(seed.Embedding) != 0 {
			continue
		}
		group := []*types.Signal{seed}
		for _, other := range signals[i+1:] {
			if assigned[other.ID] || len(other.Embedding) != 0 {
				continue
			}
			if sharesEntity(seed, other) {
				group = append(group, other)
			}
		}
		if len(group) < c.cfg.MinClusterSize {
			continue
		}
		if err := c.createOpportunity(ctx, group); err != nil {
			return err
		}
		for _, member := range group {
			assigned[member.ID] = true
		}
		result.Created++
	}

	for _, sig := range signals {
		if !assigned[sig.ID] {
			result.Unclustered++
		}
	}
	return nil
}

// createOpportunity persists a new opportunity for the group, titled
// from its oldest member
func (c *Clusterer) createOpportunity(ctx context.Context, group []*types.Signal) error {
	now := time.Now().UTC()
	opp := &types.Opportunity{
		ID:        uuid.New().String(),
		Title:     titleFor(group[0]),
		Status:    types.OpportunityActive,
		CreatedAt: now,
		UpdatedAt: now,
		Centroid:  meanEmbedding(group),
	}
	ids := make([]string, len(group))
	for i, sig := range group {
		ids[i] = sig.ID
	}
	if err := c.store.CreateOpportunity(ctx, opp, ids); err != nil {
		return fmt.Errorf("failed to create opportunity: %w", err)
	}
	return nil
}

// bestOpportunity returns the ID of the most similar opportunity whose
// centroid clears the assignment threshold, or empty string
func (c *Clusterer) bestOpportunity(sig *types.Signal, opps []*types.Opportunity) string {
	bestID := ""
	bestSim := c.cfg.SimilarityThreshold
	for _, opp := range opps {
		if len(opp.Centroid) == 0 {
			continue
		}
		sim := similarity.Cosine(sig.Embedding, opp.Centroid)
		if sim >= bestSim {
			bestID = opp.ID
			bestSim = sim
		}
	}
	return bestID
}

// recomputeCentroid reloads an opportunity's members and stores the
// mean of their embeddings
func (c *Clusterer) recomputeCentroid(ctx context.Context, oppID string) error {
	ids, err := c.store.GetOpportunitySignalIDs(ctx, oppID)
	if err != nil {
		return err
	}
	members := make([]*types.Signal, 0, len(ids))
	for _, id := range ids {
		sig, err := c.store.GetSignal(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load member %s: %w", id, err)
		}
		members = append(members, sig)
	}
	centroid := meanEmbedding(members)
	if centroid == nil {
		return nil
	}
	return c.store.UpdateOpportunityCentroid(ctx, oppID, centroid)
}

// filterUnclustered drops signals already belonging to an active opportunity
func (c *Clusterer) filterUnclustered(ctx context.Context, signals []*types.Signal) ([]*types.Signal, error) {
	var out []*types.Signal
	for _, sig := range signals {
		oppID, err := c.store.GetSignalOpportunityID(ctx, sig.ID)
		if err != nil {
			return nil, err
		}
		if oppID == "" {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (c *Clusterer) readWatermark(ctx context.Context) (time.Time, error) {
	raw, err := c.store.GetConfig(ctx, watermarkKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read clustering watermark: %w", err)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed clustering watermark %q: %w", raw, err)
	}
	return t, nil
}

// advanceWatermark moves the watermark to the newest created_at among
// the processed signals. It never moves backwards.
func (c *Clusterer) advanceWatermark(ctx context.Context, signals []*types.Signal) error {
	var newest time.Time
	for _, sig := range signals {
		if sig.CreatedAt.After(newest) {
			newest = sig.CreatedAt
		}
	}
	if newest.IsZero() {
		return nil
	}
	current, err := c.readWatermark(ctx)
	if err != nil {
		return err
	}
	if !newest.After(current) {
		return nil
	}
	if err := c.store.SetConfig(ctx, watermarkKey, newest.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save clustering watermark: %w", err)
	}
	return nil
}

// opportunitySimilarity compares two opportunities by centroid cosine
// when both have one, otherwise by title string similarity
func opportunitySimilarity(a, b *types.Opportunity) float64 {
	if len(a.Centroid) > 0 && len(b.Centroid) > 0 {
		return similarity.Cosine(a.Centroid, b.Centroid)
	}
	return similarity.StringSimilarity(a.Title, b.Title)
}

// meanEmbedding averages the embeddings present in the group. Members
// without an embedding do not contribute. Nil when nobody has one.
func meanEmbedding(group []*types.Signal) []float64 {
	var sum []float64
	count := 0
	for _, sig := range group {
		if len(sig.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(sig.Embedding))
		}
		if len(sig.Embedding) != len(sum) {
			continue
		}
		for i, v := range sig.Embedding {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return sum
}

// sharesEntity reports whether two signals mention at least one common
// extracted customer, feature, issue or theme
func sharesEntity(a, b *types.Signal) bool {
	ea := extractedOf(a)
	eb := extractedOf(b)
	if ea.IsEmpty() || eb.IsEmpty() {
		return false
	}
	return overlaps(ea.Themes, eb.Themes) ||
		overlaps(ea.Customers, eb.Customers) ||
		overlaps(ea.Features, eb.Features) ||
		overlaps(ea.Issues, eb.Issues)
}

func extractedOf(sig *types.Signal) *types.ExtractedEntities {
	if sig.Metadata == nil {
		return nil
	}
	return sig.Metadata.Extracted
}

func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range b {
		if seen[strings.ToLower(strings.TrimSpace(v))] {
			return true
		}
	}
	return false
}

// titleFor derives an opportunity title from its seed signal
func titleFor(sig *types.Signal) string {
	text := sig.NormalizedContent
	if text == "" {
		text = sig.Content
	}
	words := strings.Fields(text)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.Join(words, " ")
	if title == "" {
		title = "untitled opportunity"
	}
	return title
}
