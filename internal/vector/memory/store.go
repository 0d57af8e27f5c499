// Package memory implements the in-process vector index. Each collection is
// published as an immutable generation behind an atomic pointer: writers build
// a new generation off to the side and swap it in, readers keep whatever
// generation they loaded for the whole search. No read-path locking.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector"
	"github.com/tour-agent/backend/pkg/logger"
)

type entry struct {
	id     string
	vec    []float32
	norm   float64
	entity *models.CanonicalEntity
}

type generation struct {
	version uint64
	entries []entry // sorted by id
}

type Store struct {
	dim     int
	version atomic.Uint64
	mu      sync.Mutex // serializes writers; readers never take it
	gens    map[string]*atomic.Pointer[generation]
}

func NewStore(dim int) *Store {
	s := &Store{
		dim:  dim,
		gens: make(map[string]*atomic.Pointer[generation], len(models.Collections)),
	}
	for _, c := range models.Collections {
		s.gens[c] = &atomic.Pointer[generation]{}
	}
	return s
}

func (s *Store) Upsert(ctx context.Context, collection string, entity *models.CanonicalEntity, vec []float32) (uint64, error) {
	ptr, ok := s.gens[collection]
	if !ok {
		return 0, vector.ErrUnknownCollection
	}
	if len(vec) != s.dim {
		return 0, &vector.DimensionMismatchError{Collection: collection, Want: s.dim, Got: len(vec)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := ptr.Load()
	var entries []entry
	if cur != nil {
		entries = cur.entries
	}

	e := entry{id: entity.ID, vec: vec, norm: norm(vec), entity: entity}

	next := make([]entry, 0, len(entries)+1)
	i := sort.Search(len(entries), func(i int) bool { return entries[i].id >= entity.ID })
	next = append(next, entries[:i]...)
	next = append(next, e)
	if i < len(entries) && entries[i].id == entity.ID {
		next = append(next, entries[i+1:]...) // replace, not mutate
	} else {
		next = append(next, entries[i:]...)
	}

	v := s.version.Add(1)
	ptr.Store(&generation{version: v, entries: next})

	logger.Debug("Vector upserted",
		zap.String("collection", collection),
		zap.String("entity_id", entity.ID),
		zap.Uint64("index_version", v),
	)

	return v, nil
}

func (s *Store) Delete(ctx context.Context, collection, entityID string) (uint64, error) {
	ptr, ok := s.gens[collection]
	if !ok {
		return 0, vector.ErrUnknownCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := ptr.Load()
	if cur == nil {
		return s.version.Load(), nil
	}

	i := sort.Search(len(cur.entries), func(i int) bool { return cur.entries[i].id >= entityID })
	if i >= len(cur.entries) || cur.entries[i].id != entityID {
		return s.version.Load(), nil
	}

	next := make([]entry, 0, len(cur.entries)-1)
	next = append(next, cur.entries[:i]...)
	next = append(next, cur.entries[i+1:]...)

	v := s.version.Add(1)
	ptr.Store(&generation{version: v, entries: next})

	return v, nil
}

// ReplaceAll swaps in a freshly built generation for the collection in one
// step. Used by bulk refresh so live queries never see a half-built index.
func (s *Store) ReplaceAll(ctx context.Context, collection string, entities []*models.CanonicalEntity, vecs [][]float32) (uint64, error) {
	ptr, ok := s.gens[collection]
	if !ok {
		return 0, vector.ErrUnknownCollection
	}
	if len(entities) != len(vecs) {
		return 0, fmt.Errorf("entities and vectors length mismatch: %d vs %d", len(entities), len(vecs))
	}
	for _, v := range vecs {
		if len(v) != s.dim {
			return 0, &vector.DimensionMismatchError{Collection: collection, Want: s.dim, Got: len(v)}
		}
	}

	entries := make([]entry, len(entities))
	for i, e := range entities {
		entries[i] = entry{id: e.ID, vec: vecs[i], norm: norm(vecs[i]), entity: e}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.version.Add(1)
	ptr.Store(&generation{version: v, entries: entries})

	logger.Info("Collection generation replaced",
		zap.String("collection", collection),
		zap.Int("entities", len(entries)),
		zap.Uint64("index_version", v),
	)

	return v, nil
}

// Search returns min(k, collection size) hits sorted by descending cosine
// similarity, ties broken by ascending entity id. A collection with no
// published generation yields an empty result: cold start is valid state.
func (s *Store) Search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, uint64, error) {
	ptr, ok := s.gens[collection]
	if !ok {
		return nil, 0, vector.ErrUnknownCollection
	}
	if len(vec) != s.dim {
		return nil, 0, &vector.DimensionMismatchError{Collection: collection, Want: s.dim, Got: len(vec)}
	}

	gen := ptr.Load()
	if gen == nil || len(gen.entries) == 0 {
		return []vector.Hit{}, s.version.Load(), nil
	}

	qn := norm(vec)
	hits := make([]vector.Hit, 0, len(gen.entries))
	for _, e := range gen.entries {
		hits = append(hits, vector.Hit{
			EntityID:   e.id,
			Similarity: cosine(vec, qn, e.vec, e.norm),
			Entity:     e.entity,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntityID < hits[j].EntityID
	})

	if k > len(hits) {
		k = len(hits)
	}
	if k < 0 {
		k = 0
	}

	return hits[:k], gen.version, nil
}

func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) Count(collection string) int {
	ptr, ok := s.gens[collection]
	if !ok {
		return 0
	}
	gen := ptr.Load()
	if gen == nil {
		return 0
	}
	return len(gen.entries)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine similarity clamped to [0,1]; zero vectors score zero.
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (an * bn)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
