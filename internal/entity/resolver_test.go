package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anusharmadobe/pm-intelligence-system/internal/similarity"
	"github.com/anusharmadobe/pm-intelligence-system/internal/storage"
	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

func newTestResolver(t *testing.T) (*Resolver, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	resolver, err := NewResolver(store, NewCache(), DefaultConfig())
	require.NoError(t, err)
	return resolver, store
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"trailing period", "contoso corp.", "contoso"},
		{"legal suffix", "Contoso Corp", "Contoso"},
		{"suffix with comma", "Fabrikam, Inc.", "Fabrikam"},
		{"asterisks", "Contoso**", "Contoso"},
		{"collapse whitespace", "  Adventure   Works  ", "Adventure Works"},
		{"llc", "Tailspin Toys LLC", "Tailspin Toys"},
		{"suffix-only name untouched", "Inc", "Inc"},
		{"no suffix", "Northwind Traders", "Northwind Traders"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input))
		})
	}
}

func TestResolveVariantsCollapse(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	// All three variants resolve to one canonical entity named after the
	// first cleaned insert
	first, err := resolver.Resolve(ctx, "Contoso Corp", types.EntityCustomer)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, MatchCreated, first.MatchKind)

	second, err := resolver.Resolve(ctx, "Contoso", types.EntityCustomer)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.EntityID, second.EntityID)

	third, err := resolver.Resolve(ctx, "contoso corp.", types.EntityCustomer)
	require.NoError(t, err)
	assert.False(t, third.Created)
	assert.Equal(t, first.EntityID, third.EntityID)
}

func TestResolveIdempotent(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	a, err := resolver.Resolve(ctx, "Fabrikam", types.EntityCustomer)
	require.NoError(t, err)
	b, err := resolver.Resolve(ctx, "Fabrikam", types.EntityCustomer)
	require.NoError(t, err)

	assert.Equal(t, a.EntityID, b.EntityID, "same raw name must resolve to the same entity id")
	assert.False(t, b.Created)
}

func TestResolveSubstringContainment(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "single sign-on", types.EntityFeature)
	require.NoError(t, err)

	// Containment in either direction
	shorter, err := resolver.Resolve(ctx, "sign-on", types.EntityFeature)
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, shorter.EntityID)
	assert.Equal(t, MatchSubstring, shorter.MatchKind)

	longer, err := resolver.Resolve(ctx, "enterprise single sign-on support", types.EntityFeature)
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, longer.EntityID)
}

func TestResolveFuzzyThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Pick a pair with a known Dice score and set the threshold exactly
	// there: at the threshold resolves, just above it creates new.
	score := similarity.Dice("dashboard exports", "dashboard reports")
	require.Greater(t, score, 0.0)
	require.Less(t, score, 1.0)

	atThreshold, err := NewResolver(store, NewCache(), Config{FuzzyThreshold: score, CreatedBy: "test"})
	require.NoError(t, err)

	first, err := atThreshold.Resolve(ctx, "dashboard exports", types.EntityFeature)
	require.NoError(t, err)
	match, err := atThreshold.Resolve(ctx, "dashboard reports", types.EntityFeature)
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, match.EntityID, "score exactly at threshold must match")
	assert.Equal(t, MatchFuzzy, match.MatchKind)
	assert.InDelta(t, score, match.Confidence, 1e-9)

	// Fresh store with a stricter threshold: same pair now creates a
	// second entity
	store2, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })

	above, err := NewResolver(store2, NewCache(), Config{FuzzyThreshold: score + 1e-9, CreatedBy: "test"})
	require.NoError(t, err)

	_, err = above.Resolve(ctx, "dashboard exports", types.EntityFeature)
	require.NoError(t, err)
	miss, err := above.Resolve(ctx, "dashboard reports", types.EntityFeature)
	require.NoError(t, err)
	assert.True(t, miss.Created, "score below threshold must create a new entity")
}

func TestResolveTypesAreIndependent(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	customer, err := resolver.Resolve(ctx, "Atlas", types.EntityCustomer)
	require.NoError(t, err)
	feature, err := resolver.Resolve(ctx, "Atlas", types.EntityFeature)
	require.NoError(t, err)

	assert.NotEqual(t, customer.EntityID, feature.EntityID,
		"same name under different types is a different entity")
}

func TestResolveUsesAliases(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "Contoso Corporation", types.EntityCustomer)
	require.NoError(t, err)

	// Register an alias out of band and invalidate so the resolver sees it
	require.NoError(t, store.AddAlias(ctx, &types.EntityAlias{
		EntityID:  first.EntityID,
		AliasText: "CNTS",
		Source:    "crm-import",
	}))
	resolver.Cache().Invalidate(types.EntityCustomer)

	viaAlias, err := resolver.Resolve(ctx, "CNTS", types.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, viaAlias.EntityID)
}

func TestCacheInvalidationWithinBatch(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	// Creating an entity invalidates the cache so the immediately
	// following near-duplicate matches it instead of creating another
	first, err := resolver.Resolve(ctx, "Proseware Inc", types.EntityCustomer)
	require.NoError(t, err)
	require.True(t, first.Created)

	dup, err := resolver.Resolve(ctx, "Proseware", types.EntityCustomer)
	require.NoError(t, err)
	assert.False(t, dup.Created)
	assert.Equal(t, first.EntityID, dup.EntityID)
}

func TestResolveRejectsEmptyAndInvalid(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "***", types.EntityCustomer)
	assert.Error(t, err, "name that cleans to empty is rejected")

	_, err = resolver.Resolve(ctx, "Contoso", "planet")
	assert.Error(t, err, "unknown entity type is rejected")
}
