package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/metrics"
	"github.com/atmx/price-tracker/internal/model"
	"github.com/atmx/price-tracker/internal/store"
)

// Store wraps an inner store.Store and compacts it after every successful
// insert. Reads and deletes pass straight through.
type Store struct {
	inner  store.Store
	policy Policy
	now    func() time.Time
	logger zerolog.Logger
}

// Option customises a retention Store.
type Option func(*Store)

// WithClock overrides the wall clock used to age samples.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a retention decorator around inner.
func NewStore(inner store.Store, policy Policy, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		inner:  inner,
		policy: policy,
		now:    time.Now,
		logger: logger.With().Str("component", "retention").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarises one compaction pass.
type Result struct {
	Scanned int
	Kept    int
	Deleted int
}

// Insert delegates to the inner store and, on success, compacts before
// returning. A compaction failure is logged and never reported to the caller.
func (s *Store) Insert(ctx context.Context, sample model.Sample) error {
	if err := s.inner.Insert(ctx, sample); err != nil {
		return err
	}

	if _, err := s.Compact(ctx); err != nil {
		s.logger.Warn().Err(err).Int64("timestamp", sample.Timestamp).Msg("compaction failed")
	}
	return nil
}

func (s *Store) FetchAll(ctx context.Context) []model.Sample {
	return s.inner.FetchAll(ctx)
}

func (s *Store) DeleteByTimestamp(ctx context.Context, ts int64) error {
	return s.inner.DeleteByTimestamp(ctx, ts)
}

// Latest returns the newest sample, from the inner store's snapshot when it
// keeps one.
func (s *Store) Latest(ctx context.Context) (model.Sample, bool) {
	if lr, ok := s.inner.(interface {
		Latest(context.Context) (model.Sample, bool)
	}); ok {
		return lr.Latest(ctx)
	}
	all := s.inner.FetchAll(ctx)
	if len(all) == 0 {
		return model.Sample{}, false
	}
	return all[len(all)-1], true
}

// Compact runs one pass: read all samples, decide what to keep, read again,
// then delete superseded samples one at a time.
//
// The second read narrows, but does not close, the window in which a
// concurrent write can interleave: every sample of the second read outside
// the keep set is deleted, including one that arrived after the plan was
// made. The pass stops at the first failed delete.
func (s *Store) Compact(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := s.compact(ctx)
	metrics.CompactionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CompactionRuns.WithLabelValues("failed").Inc()
		return res, err
	}
	metrics.CompactionRuns.WithLabelValues("ok").Inc()
	if res.Deleted > 0 {
		s.logger.Debug().
			Int("scanned", res.Scanned).
			Int("kept", res.Kept).
			Int("deleted", res.Deleted).
			Msg("compaction pass")
	}
	return res, nil
}

func (s *Store) compact(ctx context.Context) (Result, error) {
	now := s.now()

	evaluated := s.inner.FetchAll(ctx)
	keep := s.policy.Keep(evaluated, now)

	res := Result{Scanned: len(evaluated), Kept: len(keep)}

	current := s.inner.FetchAll(ctx)
	for _, sample := range current {
		if _, ok := keep[sample.Timestamp]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("compaction interrupted: %w", err)
		}
		if err := s.inner.DeleteByTimestamp(ctx, sample.Timestamp); err != nil {
			metrics.StoreFailures.WithLabelValues("delete").Inc()
			return res, fmt.Errorf("compaction delete %d: %w", sample.Timestamp, err)
		}
		res.Deleted++
		metrics.CompactionDeleted.Inc()
	}
	return res, nil
}
