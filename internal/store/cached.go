package store

import (
	"context"
	"slices"
	"sync"

	"github.com/atmx/price-tracker/internal/metrics"
	"github.com/atmx/price-tracker/internal/model"
)

// CachedStore wraps an inner Store with an in-memory snapshot of every
// sample. The snapshot is cold (nil) until the first FetchAll, then mirrors
// the inner store: writes go to the inner store first and are applied to the
// snapshot only when they succeed.
//
// The lock guards the snapshot only and is never held across inner I/O.
// Two concurrent cold FetchAll calls may both read the inner store; the last
// one to install its result wins.
type CachedStore struct {
	inner Store

	mu       sync.RWMutex
	snapshot []model.Sample // ascending, unique timestamps; nil when cold
}

// NewCachedStore creates a snapshot cache around inner.
func NewCachedStore(inner Store) *CachedStore {
	return &CachedStore{inner: inner}
}

// --- Write-through (inner first, then snapshot) ---

func (s *CachedStore) Insert(ctx context.Context, sample model.Sample) error {
	if err := s.inner.Insert(ctx, sample); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		s.snapshot = upsert(s.snapshot, sample)
		metrics.CacheSamples.Set(float64(len(s.snapshot)))
	}
	return nil
}

func (s *CachedStore) DeleteByTimestamp(ctx context.Context, ts int64) error {
	if err := s.inner.DeleteByTimestamp(ctx, ts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		if i, found := search(s.snapshot, ts); found {
			s.snapshot = slices.Delete(s.snapshot, i, i+1)
			metrics.CacheSamples.Set(float64(len(s.snapshot)))
		}
	}
	return nil
}

// --- Read-through ---

// FetchAll serves a copy of the snapshot when warm. When cold it reads the
// inner store, installs the result as the snapshot and returns it. A read
// whose ctx was cancelled is returned but never installed.
func (s *CachedStore) FetchAll(ctx context.Context) []model.Sample {
	s.mu.RLock()
	if s.snapshot != nil {
		out := slices.Clone(s.snapshot)
		s.mu.RUnlock()
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return out
	}
	s.mu.RUnlock()
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	data := s.inner.FetchAll(ctx)
	// An aborted read may have come back short; stay cold and let the
	// next caller fill the snapshot.
	if ctx.Err() != nil {
		return data
	}
	snap := make([]model.Sample, 0, len(data))
	for _, sample := range data {
		snap = upsert(snap, sample)
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	metrics.CacheSamples.Set(float64(len(snap)))

	return data
}

// Latest returns the newest sample, warming the snapshot if needed.
func (s *CachedStore) Latest(ctx context.Context) (model.Sample, bool) {
	s.mu.RLock()
	if s.snapshot != nil {
		defer s.mu.RUnlock()
		if len(s.snapshot) == 0 {
			return model.Sample{}, false
		}
		return s.snapshot[len(s.snapshot)-1], true
	}
	s.mu.RUnlock()

	all := s.FetchAll(ctx)
	if len(all) == 0 {
		return model.Sample{}, false
	}
	return all[len(all)-1], true
}

// Warm reports whether the snapshot is populated.
func (s *CachedStore) Warm() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot != nil
}

// Len returns the snapshot size, or zero when cold.
func (s *CachedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot)
}

// Invalidate drops the snapshot; the next FetchAll rehydrates it in full.
func (s *CachedStore) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
	metrics.CacheSamples.Set(0)
}

// --- Snapshot helpers ---

func search(snap []model.Sample, ts int64) (int, bool) {
	return slices.BinarySearchFunc(snap, ts, func(e model.Sample, target int64) int {
		switch {
		case e.Timestamp < target:
			return -1
		case e.Timestamp > target:
			return 1
		}
		return 0
	})
}

// upsert inserts or replaces sample keeping snap ordered. Appends at the
// tail, the common case for a live feed, without shifting.
func upsert(snap []model.Sample, sample model.Sample) []model.Sample {
	if n := len(snap); n == 0 || snap[n-1].Timestamp < sample.Timestamp {
		return append(snap, sample)
	}
	i, found := search(snap, sample.Timestamp)
	if found {
		snap[i] = sample
		return snap
	}
	return slices.Insert(snap, i, sample)
}
