package store

import (
	"context"
	"slices"
	"sync"

	"github.com/atmx/price-tracker/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[int64]model.Sample
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples: make(map[int64]model.Sample),
	}
}

func (s *MemoryStore) Insert(_ context.Context, sample model.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[sample.Timestamp] = sample
	return nil
}

func (s *MemoryStore) FetchAll(_ context.Context) []model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		out = append(out, sample)
	}
	slices.SortFunc(out, compareTimestamp)
	return out
}

func (s *MemoryStore) DeleteByTimestamp(_ context.Context, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.samples, ts)
	return nil
}

// Len reports the number of stored samples.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

func compareTimestamp(a, b model.Sample) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return 0
}
