// Package search implements the hybrid search federator and the layer-aware
// deduplicating ranker.
package search

import (
	"math"
	"sort"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

const hoursPerWeek = 168

// DecayConfig controls the recency boost applied when an object has hits in
// both the working and long-term layers.
type DecayConfig struct {
	// Rate is the exponential decay rate per week since last access.
	Rate float64
	// Floor is the minimum decay value; stale hits never boost below it.
	Floor float64
	// BoostFactor scales the decayed boost applied to the base score.
	BoostFactor float64
}

// DefaultDecayConfig returns the standard decay parameters.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{Rate: 0.3, Floor: 0.05, BoostFactor: 0.2}
}

// Ranker merges hits across memory layers, deduplicates, and ranks.
type Ranker struct {
	decay DecayConfig
	clock knowledge.Clock
}

// NewRanker builds a Ranker.
func NewRanker(decay DecayConfig, clock knowledge.Clock) *Ranker {
	if decay.Rate <= 0 {
		decay = DefaultDecayConfig()
	}
	return &Ranker{decay: decay, clock: clock}
}

// MergeAndRank collapses duplicate hits, applies the recency boost, weights
// each source, and sorts descending. Weights may arrive unnormalized; they
// are renormalized proportionally before ranking.
func (r *Ranker) MergeAndRank(localHits []knowledge.VectorHit, webResults []knowledge.WebResult, opts knowledge.SearchOptions) []knowledge.HybridSearchResult {
	localWeight, externalWeight := normalizeWeights(opts.LocalWeight, opts.ExternalWeight)

	var results []knowledge.HybridSearchResult
	if opts.Deduplicate {
		results = r.mergeLocalLayers(localHits)
	} else {
		results = passThroughLocal(localHits)
	}
	results = append(results, r.dedupeExternal(webResults, opts.Deduplicate)...)

	for i := range results {
		switch results[i].Source {
		case knowledge.SourceLocal:
			results[i].Score *= localWeight
		case knowledge.SourceExternal:
			results[i].Score *= externalWeight
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// mergeLocalLayers groups local hits by object id, first-seen-wins. When an
// object has hits in both the working and long-term layers, the long-term
// hit's content is kept and its score is boosted by the working-layer hit's
// recency. Ties on identical timestamps resolve in favor of the long-term
// layer.
func (r *Ranker) mergeLocalLayers(hits []knowledge.VectorHit) []knowledge.HybridSearchResult {
	type group struct {
		order    int
		longTerm *knowledge.VectorHit
		working  *knowledge.VectorHit
		first    knowledge.VectorHit
	}

	groups := make(map[string]*group)
	var order []string
	for _, hit := range hits {
		key := hit.ObjectID
		if key == "" {
			key = hit.ID
		}
		g, ok := groups[key]
		if !ok {
			g = &group{order: len(order), first: hit}
			groups[key] = g
			order = append(order, key)
		}
		h := hit
		switch hit.Layer {
		case knowledge.LayerLongTerm:
			if g.longTerm == nil {
				g.longTerm = &h
			}
		case knowledge.LayerWorking:
			if g.working == nil {
				g.working = &h
			}
		}
	}

	results := make([]knowledge.HybridSearchResult, 0, len(order))
	for _, key := range order {
		g := groups[key]
		switch {
		case g.longTerm != nil && g.working != nil:
			merged := hitToResult(*g.longTerm)
			merged.Score = r.boostScore(g.longTerm.Score, g.working.LastAccessedAt)
			results = append(results, merged)
		case g.longTerm != nil:
			results = append(results, hitToResult(*g.longTerm))
		case g.working != nil:
			results = append(results, hitToResult(*g.working))
		default:
			results = append(results, hitToResult(g.first))
		}
	}
	return results
}

// boostScore applies the recency-decay boost, clamping to a valid similarity.
func (r *Ranker) boostScore(base float64, lastAccessed time.Time) float64 {
	weeks := r.clock.Now().Sub(lastAccessed).Hours() / hoursPerWeek
	if weeks < 0 {
		weeks = 0
	}
	decay := math.Exp(-r.decay.Rate * weeks)
	if decay < r.decay.Floor {
		decay = r.decay.Floor
	}
	return math.Min(base*(1+decay*r.decay.BoostFactor), 1.0)
}

func (r *Ranker) dedupeExternal(webResults []knowledge.WebResult, deduplicate bool) []knowledge.HybridSearchResult {
	seen := make(map[string]bool, len(webResults))
	results := make([]knowledge.HybridSearchResult, 0, len(webResults))
	for _, w := range webResults {
		if deduplicate {
			if seen[w.URL] {
				continue
			}
			seen[w.URL] = true
		}
		results = append(results, knowledge.HybridSearchResult{
			ID:      w.URL,
			Title:   w.Title,
			URL:     w.URL,
			Content: w.Snippet,
			Score:   w.Score,
			Source:  knowledge.SourceExternal,
		})
	}
	return results
}

func passThroughLocal(hits []knowledge.VectorHit) []knowledge.HybridSearchResult {
	results := make([]knowledge.HybridSearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hitToResult(hit))
	}
	return results
}

func hitToResult(hit knowledge.VectorHit) knowledge.HybridSearchResult {
	return knowledge.HybridSearchResult{
		ID:       hit.ID,
		Title:    hit.Title,
		URL:      hit.SourceURI,
		Content:  hit.Content,
		Score:    hit.Score,
		Source:   knowledge.SourceLocal,
		ObjectID: hit.ObjectID,
		ChunkID:  hit.ChunkID,
		Layer:    hit.Layer,
		Claims:   hit.Claims,
	}
}

// normalizeWeights renormalizes caller-supplied weights proportionally so
// they sum to 1.0. Zero weights fall back to an even split.
func normalizeWeights(local, external float64) (float64, float64) {
	if local < 0 {
		local = 0
	}
	if external < 0 {
		external = 0
	}
	sum := local + external
	if sum == 0 {
		return 0.5, 0.5
	}
	return local / sum, external / sum
}
