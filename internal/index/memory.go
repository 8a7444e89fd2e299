// Package index provides the per-(user, category) vector indexes.
package index

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/timmy/wardrobe/internal/domain"
)

type bucket struct {
	ids     map[string]struct{}
	records []domain.VectorRecord
}

// MemoryIndex keeps one brute-force bucket per (user, category) handle.
// Search is an exact linear scan with a min-heap for top-k.
type MemoryIndex struct {
	mu         sync.RWMutex
	buckets    map[domain.IndexHandle]*bucket
	dimensions int
}

// NewMemoryIndex creates an empty index. dimensions <= 0 disables the length check.
func NewMemoryIndex(dimensions int) *MemoryIndex {
	return &MemoryIndex{
		buckets:    make(map[domain.IndexHandle]*bucket),
		dimensions: dimensions,
	}
}

// Ensure creates the bucket for (username, category) if needed.
func (m *MemoryIndex) Ensure(_ context.Context, username string, category domain.ApparelType) (domain.IndexHandle, error) {
	h := domain.IndexHandle{Username: username, Category: category}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[h]; !ok {
		m.buckets[h] = &bucket{ids: make(map[string]struct{})}
	}
	return h, nil
}

// Insert adds a record. Returns domain.ErrDuplicateID if the id exists.
func (m *MemoryIndex) Insert(_ context.Context, h domain.IndexHandle, record domain.VectorRecord) error {
	if m.dimensions > 0 && len(record.Vector) != m.dimensions {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(record.Vector), m.dimensions)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[h]
	if !ok {
		return fmt.Errorf("index %s not ensured", h.Name())
	}
	if _, dup := b.ids[record.ID]; dup {
		return domain.ErrDuplicateID
	}

	stored := record
	stored.Vector = append([]float32(nil), record.Vector...)
	b.ids[record.ID] = struct{}{}
	b.records = append(b.records, stored)
	return nil
}

// Query returns the k most similar records, best first.
// An unknown or empty handle yields an empty slice.
func (m *MemoryIndex) Query(_ context.Context, h domain.IndexHandle, vector []float32, k int) ([]domain.VectorMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[h]
	if !ok || len(b.records) == 0 || k <= 0 {
		return []domain.VectorMatch{}, nil
	}

	rh := &matchHeap{}
	for _, rec := range b.records {
		score := dot(vector, rec.Vector)
		if rh.Len() < k {
			heap.Push(rh, matchFrom(rec, score))
		} else if score > (*rh)[0].Score {
			heap.Pop(rh)
			heap.Push(rh, matchFrom(rec, score))
		}
	}

	results := make([]domain.VectorMatch, rh.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(rh).(domain.VectorMatch)
	}
	return results, nil
}

// Delete removes one record from h. Missing ids are ignored.
func (m *MemoryIndex) Delete(_ context.Context, h domain.IndexHandle, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[h]
	if !ok {
		return nil
	}
	if _, ok := b.ids[id]; !ok {
		return nil
	}
	delete(b.ids, id)
	for i, rec := range b.records {
		if rec.ID == id {
			b.records = append(b.records[:i], b.records[i+1:]...)
			break
		}
	}
	return nil
}

// Drop removes the bucket for h.
func (m *MemoryIndex) Drop(_ context.Context, h domain.IndexHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, h)
	return nil
}

// Len reports how many records the handle holds.
func (m *MemoryIndex) Len(h domain.IndexHandle) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.buckets[h]; ok {
		return len(b.records)
	}
	return 0
}

// Records returns a copy of the handle's records in insertion order.
func (m *MemoryIndex) Records(h domain.IndexHandle) []domain.VectorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[h]
	if !ok {
		return nil
	}
	return append([]domain.VectorRecord(nil), b.records...)
}

func matchFrom(rec domain.VectorRecord, score float32) domain.VectorMatch {
	return domain.VectorMatch{
		ID:       rec.ID,
		Score:    score,
		Document: rec.Document,
		Metadata: rec.Metadata,
	}
}

// dot is cosine similarity for unit vectors.
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// matchHeap is a min-heap on Score.
type matchHeap []domain.VectorMatch

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x interface{}) {
	*h = append(*h, x.(domain.VectorMatch))
}

func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
