package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func testRanker(now time.Time) *Ranker {
	return NewRanker(DefaultDecayConfig(), fixedClock{now: now})
}

func TestMergeBoostsFreshWorkingLayerHit(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := testRanker(now)

	hits := []knowledge.VectorHit{
		{ID: "lt", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.80, Content: "long-term content"},
		{ID: "wk", ObjectID: "obj-1", Layer: knowledge.LayerWorking, Score: 0.70, LastAccessedAt: now},
	}
	results := r.MergeAndRank(hits, nil, knowledge.SearchOptions{
		LocalWeight: 1, ExternalWeight: 0, Deduplicate: true,
	})

	require.Len(t, results, 1)
	require.Equal(t, "long-term content", results[0].Content)
	require.InDelta(t, 0.96, results[0].Score, 1e-9)
}

func TestMergeFloorsStaleWorkingLayerDecay(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := testRanker(now)

	stale := now.Add(-10 * 7 * 24 * time.Hour)
	hits := []knowledge.VectorHit{
		{ID: "lt", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.80},
		{ID: "wk", ObjectID: "obj-1", Layer: knowledge.LayerWorking, Score: 0.70, LastAccessedAt: stale},
	}
	results := r.MergeAndRank(hits, nil, knowledge.SearchOptions{
		LocalWeight: 1, ExternalWeight: 0, Deduplicate: true,
	})

	require.Len(t, results, 1)
	require.InDelta(t, 0.808, results[0].Score, 1e-9)
}

func TestBoostedScoreIsClampedToOne(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := testRanker(now)

	hits := []knowledge.VectorHit{
		{ID: "lt", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.95},
		{ID: "wk", ObjectID: "obj-1", Layer: knowledge.LayerWorking, Score: 0.9, LastAccessedAt: now},
	}
	results := r.MergeAndRank(hits, nil, knowledge.SearchOptions{
		LocalWeight: 1, Deduplicate: true,
	})
	require.Len(t, results, 1)
	require.Equal(t, 1.0, results[0].Score)
}

func TestSingleLayerHitPassesThroughUnmodified(t *testing.T) {
	t.Parallel()

	r := testRanker(time.Now())
	hits := []knowledge.VectorHit{
		{ID: "lt", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.6},
		{ID: "wk", ObjectID: "obj-2", Layer: knowledge.LayerWorking, Score: 0.5},
	}
	results := r.MergeAndRank(hits, nil, knowledge.SearchOptions{
		LocalWeight: 1, Deduplicate: true,
	})

	require.Len(t, results, 2)
	require.InDelta(t, 0.6, results[0].Score, 1e-9)
	require.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestDedupFirstSeenWins(t *testing.T) {
	t.Parallel()

	r := testRanker(time.Now())
	hits := []knowledge.VectorHit{
		{ID: "a", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.9, Content: "first"},
		{ID: "b", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.8, Content: "second"},
	}
	web := []knowledge.WebResult{
		{Title: "one", URL: "https://example.com/x", Score: 0.9},
		{Title: "dup", URL: "https://example.com/x", Score: 0.7},
		{Title: "two", URL: "https://example.com/y", Score: 0.6},
	}
	results := r.MergeAndRank(hits, web, knowledge.SearchOptions{
		LocalWeight: 0.5, ExternalWeight: 0.5, Deduplicate: true,
	})

	var localCount, externalCount int
	for _, res := range results {
		switch res.Source {
		case knowledge.SourceLocal:
			localCount++
			require.Equal(t, "first", res.Content)
		case knowledge.SourceExternal:
			externalCount++
			require.NotEqual(t, "dup", res.Title)
		}
	}
	require.Equal(t, 1, localCount)
	require.Equal(t, 2, externalCount)
}

func TestWeightRenormalization(t *testing.T) {
	t.Parallel()

	local, external := normalizeWeights(0.3, 0.9)
	require.InDelta(t, 0.25, local, 1e-9)
	require.InDelta(t, 0.75, external, 1e-9)

	local, external = normalizeWeights(0, 0)
	require.Equal(t, 0.5, local)
	require.Equal(t, 0.5, external)
}

func TestRankingAppliesSourceWeights(t *testing.T) {
	t.Parallel()

	r := testRanker(time.Now())
	hits := []knowledge.VectorHit{
		{ID: "local", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.8},
	}
	web := []knowledge.WebResult{
		{Title: "web", URL: "https://example.com", Score: 0.8},
	}

	// Unnormalized weights 0.3/0.9 renormalize to 0.25/0.75, so the
	// external hit outranks the equal-scored local one.
	results := r.MergeAndRank(hits, web, knowledge.SearchOptions{
		LocalWeight: 0.3, ExternalWeight: 0.9, Deduplicate: true,
	})
	require.Len(t, results, 2)
	require.Equal(t, knowledge.SourceExternal, results[0].Source)
	require.InDelta(t, 0.6, results[0].Score, 1e-9)
	require.InDelta(t, 0.2, results[1].Score, 1e-9)
}
