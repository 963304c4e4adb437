// Package memory provides an in-memory vector store for development and
// testing.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// record pairs a VectorRecord with its denormalized display fields.
type record struct {
	rec       knowledge.VectorRecord
	title     string
	sourceURI string
}

// Store keeps memory records in a map and scores queries with cosine
// similarity.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
}

// New constructs a Store.
func New() *Store {
	return &Store{records: make(map[string]record)}
}

// Put inserts or replaces a record.
func (s *Store) Put(rec knowledge.VectorRecord, title, sourceURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = record{rec: rec, title: title, sourceURI: sourceURI}
}

// Search scores all records in the requested layers against the embedding and
// returns up to q.Limit hits at or above the threshold, best first.
func (s *Store) Search(_ context.Context, embedding []float32, q knowledge.VectorQuery) ([]knowledge.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layerSet := make(map[knowledge.MemoryLayer]bool, len(q.Layers))
	for _, l := range q.Layers {
		layerSet[l] = true
	}

	var hits []knowledge.VectorHit
	for _, r := range s.records {
		if len(layerSet) > 0 && !layerSet[r.rec.Layer] {
			continue
		}
		if len(r.rec.Vector) == 0 {
			continue
		}
		score := cosine(embedding, r.rec.Vector)
		if q.Threshold > 0 && score < q.Threshold {
			continue
		}
		hits = append(hits, knowledge.VectorHit{
			ID:             r.rec.ID,
			ObjectID:       r.rec.ObjectID,
			ChunkID:        r.rec.ChunkID,
			Title:          r.title,
			SourceURI:      r.sourceURI,
			Content:        r.rec.Content,
			Score:          score,
			Layer:          r.rec.Layer,
			LastAccessedAt: r.rec.LastAccessedAt,
			Claims:         r.rec.Claims,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// TouchAccess bumps last_accessed_at on the given records.
func (s *Store) TouchAccess(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			r.rec.LastAccessedAt = now
			s.records[id] = r
		}
	}
	return nil
}

// Get returns the stored record for inspection in tests.
func (s *Store) Get(id string) (knowledge.VectorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r.rec, ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
