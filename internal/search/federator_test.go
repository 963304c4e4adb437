package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	hits    []knowledge.VectorHit
	err     error
	lastQ   knowledge.VectorQuery
	touched []string
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, q knowledge.VectorQuery) ([]knowledge.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return f.hits, f.err
}

func (f *fakeVectorStore) TouchAccess(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, ids...)
	return nil
}

type fakeWebSearcher struct {
	results []knowledge.WebResult
	err     error
	calls   int
}

func (f *fakeWebSearcher) Search(_ context.Context, _ string, _ int) ([]knowledge.WebResult, error) {
	f.calls++
	return f.results, f.err
}

func newTestFederator(vectors *fakeVectorStore, web knowledge.WebSearcher) *Federator {
	ranker := NewRanker(DefaultDecayConfig(), fixedClock{now: time.Now()})
	return NewFederator(&fakeEmbedder{}, vectors, web, ranker, zap.NewNop(), 3)
}

func TestSearchMergesBothSources(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: []knowledge.VectorHit{
		{ID: "v1", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.9},
	}}
	web := &fakeWebSearcher{results: []knowledge.WebResult{
		{Title: "w1", URL: "https://example.com/w1", Score: 0.8},
	}}
	f := newTestFederator(vectors, web)

	results, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 10, LocalWeight: 0.5, ExternalWeight: 0.5,
		Deduplicate: true, UseExternal: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, knowledge.SourceLocal, results[0].Source)
	require.Equal(t, knowledge.SourceExternal, results[1].Source)
}

func TestSearchLocalOnlyModeSkipsExternal(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: []knowledge.VectorHit{
		{ID: "v1", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.9},
	}}
	web := &fakeWebSearcher{results: []knowledge.WebResult{
		{Title: "w1", URL: "https://example.com/w1", Score: 0.8},
	}}
	f := newTestFederator(vectors, web)

	results, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 10, LocalWeight: 1, UseExternal: false, Deduplicate: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0, web.calls)
}

func TestSearchDegradesWhenOneSourceFails(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{err: errors.New("vector store unavailable")}
	web := &fakeWebSearcher{results: []knowledge.WebResult{
		{Title: "w1", URL: "https://example.com/w1", Score: 0.8},
	}}
	f := newTestFederator(vectors, web)

	results, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 10, LocalWeight: 0.5, ExternalWeight: 0.5,
		Deduplicate: true, UseExternal: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, knowledge.SourceExternal, results[0].Source)
}

func TestSearchBothSourcesFailingYieldsEmptySet(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{err: errors.New("vector store unavailable")}
	web := &fakeWebSearcher{err: errors.New("provider down")}
	f := newTestFederator(vectors, web)

	results, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 10, UseExternal: true, Deduplicate: true,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchOverfetchesAndTruncatesAfterRanking(t *testing.T) {
	t.Parallel()

	var hits []knowledge.VectorHit
	for i := 0; i < 9; i++ {
		hits = append(hits, knowledge.VectorHit{
			ID:       fmt.Sprintf("v%d", i),
			ObjectID: fmt.Sprintf("obj-%d", i),
			Layer:    knowledge.LayerLongTerm,
			Score:    1.0 - float64(i)*0.05,
		})
	}
	vectors := &fakeVectorStore{hits: hits}
	f := newTestFederator(vectors, nil)

	results, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 3, LocalWeight: 1, Deduplicate: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Overfetch asks the store for multiplier * requested candidates.
	require.Equal(t, 9, vectors.lastQ.Limit)
	require.Equal(t, "v0", results[0].ID)
}

func TestSearchTouchesReturnedLocalRecords(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: []knowledge.VectorHit{
		{ID: "v1", ObjectID: "obj-1", Layer: knowledge.LayerLongTerm, Score: 0.9},
		{ID: "v2", ObjectID: "obj-2", Layer: knowledge.LayerLongTerm, Score: 0.8},
	}}
	f := newTestFederator(vectors, nil)

	_, err := f.Search(context.Background(), "query", knowledge.SearchOptions{
		NumResults: 1, LocalWeight: 1, Deduplicate: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, vectors.touched)
}
