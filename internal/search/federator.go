package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

const (
	defaultNumResults = 10
	// defaultOverfetch leaves enough candidates for deduplication to still
	// fill the caller's requested count.
	defaultOverfetch = 3
)

// defaultLayers are searched when the caller does not scope the query.
var defaultLayers = []knowledge.MemoryLayer{knowledge.LayerWorking, knowledge.LayerLongTerm}

// Federator queries the external web-search provider and the local vector
// store in parallel and merges their results.
type Federator struct {
	embedder  knowledge.Embedder
	vectors   knowledge.VectorStore
	web       knowledge.WebSearcher
	ranker    *Ranker
	logger    *zap.Logger
	overfetch int
}

// NewFederator builds a Federator. web may be nil when no external provider
// is configured; such deployments run local-only regardless of options.
func NewFederator(embedder knowledge.Embedder, vectors knowledge.VectorStore, web knowledge.WebSearcher, ranker *Ranker, logger *zap.Logger, overfetch int) *Federator {
	if overfetch <= 0 {
		overfetch = defaultOverfetch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Federator{
		embedder:  embedder,
		vectors:   vectors,
		web:       web,
		ranker:    ranker,
		logger:    logger,
		overfetch: overfetch,
	}
}

// Search runs both sources concurrently, merges, ranks, and truncates to the
// requested count. One source failing degrades to the surviving source's
// results; both failing yields an empty result set, not an error.
func (f *Federator) Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]knowledge.HybridSearchResult, error) {
	if opts.NumResults <= 0 {
		opts.NumResults = defaultNumResults
	}
	if len(opts.Layers) == 0 {
		opts.Layers = defaultLayers
	}
	useExternal := opts.UseExternal && f.web != nil
	fetchCount := opts.NumResults * f.overfetch

	var (
		wg         sync.WaitGroup
		localHits  []knowledge.VectorHit
		localErr   error
		webResults []knowledge.WebResult
		webErr     error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		localHits, localErr = f.searchLocal(ctx, query, opts, fetchCount)
	}()

	if useExternal {
		wg.Add(1)
		go func() {
			defer wg.Done()
			webResults, webErr = f.web.Search(ctx, query, fetchCount)
		}()
	}
	wg.Wait()

	if localErr != nil {
		f.logger.Warn("local search failed", zap.String("query", query), zap.Error(localErr))
		localHits = nil
	}
	if webErr != nil {
		f.logger.Warn("external search failed", zap.String("query", query), zap.Error(webErr))
		webResults = nil
	}
	if localErr != nil && (!useExternal || webErr != nil) && len(webResults) == 0 {
		// Total source failure degrades to an empty result set.
		return []knowledge.HybridSearchResult{}, nil
	}

	results := f.ranker.MergeAndRank(localHits, webResults, opts)
	if len(results) > opts.NumResults {
		results = results[:opts.NumResults]
	}

	f.touchAccessed(ctx, results)
	return results, nil
}

func (f *Federator) searchLocal(ctx context.Context, query string, opts knowledge.SearchOptions, fetchCount int) ([]knowledge.VectorHit, error) {
	embedding, err := f.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return f.vectors.Search(ctx, embedding, knowledge.VectorQuery{
		Layers:    opts.Layers,
		Limit:     fetchCount,
		Threshold: opts.SimilarityThreshold,
	})
}

// touchAccessed bumps last_accessed_at on the local records that made the
// final cut. Failures are telemetry, not correctness.
func (f *Federator) touchAccessed(ctx context.Context, results []knowledge.HybridSearchResult) {
	var ids []string
	for _, res := range results {
		if res.Source == knowledge.SourceLocal {
			ids = append(ids, res.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := f.vectors.TouchAccess(ctx, ids); err != nil {
		f.logger.Warn("touch access failed", zap.Int("records", len(ids)), zap.Error(err))
	}
}
