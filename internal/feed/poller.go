package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/metrics"
	"github.com/atmx/price-tracker/internal/model"
	"github.com/atmx/price-tracker/internal/source"
	"github.com/atmx/price-tracker/internal/store"
)

// Publisher receives every successfully stored sample.
type Publisher interface {
	Publish(s model.Sample)
}

// PollerOptions tune the ingestion loop.
type PollerOptions struct {
	// Interval is the pause between the end of one tick and the start of
	// the next.
	Interval time.Duration
	// Timeout bounds a single upstream poll.
	Timeout time.Duration
}

// Poller is the single-writer ingestion loop.
type Poller struct {
	src    source.Source
	store  store.Store
	pub    Publisher
	opts   PollerOptions
	logger zerolog.Logger
}

// NewPoller constructs a Poller writing src samples into st and publishing
// them to pub.
func NewPoller(src source.Source, st store.Store, pub Publisher, opts PollerOptions, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Poller{
		src:    src,
		store:  st,
		pub:    pub,
		opts:   opts,
		logger: logger.With().Str("component", "poller").Logger(),
	}
}

// Run ticks until ctx is cancelled. Ticks never overlap: the next one starts
// Interval after the previous one finished. A failed tick is logged and the
// loop carries on.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.opts.Interval).Msg("ingestion loop started")

	for {
		if err := p.Tick(ctx); err != nil {
			p.logger.Error().Err(err).Msg("tick failed")
		}

		timer := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info().Msg("ingestion loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick polls the source once, stores the sample and publishes it. The
// sample is published only if the insert succeeded.
func (p *Poller) Tick(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	sample, err := p.src.Fetch(pollCtx)
	cancel()
	if err != nil {
		metrics.SourceFailures.Inc()
		return fmt.Errorf("poll source: %w", err)
	}

	if err := p.store.Insert(ctx, sample); err != nil {
		metrics.StoreFailures.WithLabelValues("insert").Inc()
		return fmt.Errorf("insert sample %d: %w", sample.Timestamp, err)
	}

	p.pub.Publish(sample)

	metrics.SamplesIngested.Inc()
	metrics.LatestPrice.Set(sample.Price)
	p.logger.Info().
		Str("price", sample.PriceDecimal().StringFixed(2)).
		Int64("timestamp", sample.Timestamp).
		Msg("price ingested")
	return nil
}
