package export

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/anusharmadobe/pm-intelligence-system/internal/provider"
	"github.com/anusharmadobe/pm-intelligence-system/internal/retry"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// maxPromptSignals caps how many member signals feed one ticket prompt
const maxPromptSignals = 10

// JiraDraft is a ticket drafted from one opportunity. Drafts are written
// into the run report; filing them is up to the reader.
type JiraDraft struct {
	OpportunityID string `json:"opportunity_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	SignalCount   int    `json:"signal_count"`
}

// JiraGenerator drafts tickets for the largest opportunities using the
// completion provider. Provider calls go through the retry controller.
type JiraGenerator struct {
	store    storage.Storage
	provider provider.Provider
	retrier  *retry.Controller
}

// NewJiraGenerator creates a generator. The retry controller is required
// so provider failures stay bounded.
func NewJiraGenerator(store storage.Storage, p provider.Provider, retrier *retry.Controller) (*JiraGenerator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if retrier == nil {
		return nil, fmt.Errorf("retry controller is required")
	}
	return &JiraGenerator{store: store, provider: p, retrier: retrier}, nil
}

// Generate drafts tickets for up to max opportunities, largest first.
// An opportunity whose draft fails is logged and skipped; one bad
// completion never aborts the batch. The failed count comes back with
// the drafts.
func (g *JiraGenerator) Generate(ctx context.Context, max int) ([]JiraDraft, int, error) {
	if max <= 0 {
		return nil, 0, nil
	}

	opps, err := g.store.ListOpportunities(ctx, types.OpportunityActive)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list opportunities: %w", err)
	}
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].SignalCount > opps[j].SignalCount
	})
	if len(opps) > max {
		opps = opps[:max]
	}

	var drafts []JiraDraft
	failed := 0
	for _, opp := range opps {
		if err := ctx.Err(); err != nil {
			return drafts, failed, err
		}
		prompt, err := g.buildPrompt(ctx, opp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping ticket for %s: %v\n", opp.ID, err)
			failed++
			continue
		}

		var body string
		err = g.retrier.Do(ctx, "jira_draft", func(ctx context.Context) error {
			var cerr error
			body, cerr = g.provider.Complete(ctx, prompt)
			return cerr
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: draft failed for %s: %v\n", opp.ID, err)
			failed++
			continue
		}

		drafts = append(drafts, JiraDraft{
			OpportunityID: opp.ID,
			Title:         opp.Title,
			Body:          strings.TrimSpace(body),
			SignalCount:   opp.SignalCount,
		})
	}
	return drafts, failed, nil
}

// buildPrompt assembles the completion prompt from the opportunity and a
// sample of its member signals
func (g *JiraGenerator) buildPrompt(ctx context.Context, opp *types.Opportunity) (string, error) {
	ids, err := g.store.GetOpportunitySignalIDs(ctx, opp.ID)
	if err != nil {
		return "", err
	}
	if len(ids) > maxPromptSignals {
		ids = ids[:maxPromptSignals]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Draft a JIRA ticket for this product opportunity.\n\n")
	fmt.Fprintf(&b, "Opportunity: %s\n", opp.Title)
	if opp.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", opp.Description)
	}
	fmt.Fprintf(&b, "\nSupporting customer feedback (%d signals total):\n", opp.SignalCount)
	for _, id := range ids {
		sig, err := g.store.GetSignal(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to load signal %s: %w", id, err)
		}
		fmt.Fprintf(&b, "- [%s] %s\n", sig.Source, sig.Content)
	}
	b.WriteString("\nWrite a concise ticket with a summary line, problem statement, and acceptance criteria.")
	return b.String(), nil
}
