package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atmx/price-tracker/internal/chart"
	"github.com/atmx/price-tracker/internal/retention"
	"github.com/atmx/price-tracker/internal/store"
)

// Compact runs a single compaction pass against the durable store.
func (a *App) Compact(ctx context.Context) (retention.Result, error) {
	durable, closeStore, err := a.openStore(ctx)
	if err != nil {
		return retention.Result{}, err
	}
	defer closeStore()

	return a.compact(ctx, durable, time.Now)
}

func (a *App) compact(ctx context.Context, st store.Store, now func() time.Time) (retention.Result, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return retention.Result{}, err
	}

	rs := retention.NewStore(st, retention.DefaultPolicy(loc), a.Logger, retention.WithClock(now))
	res, err := rs.Compact(ctx)
	if err != nil {
		return res, err
	}
	a.Logger.Info().
		Int("scanned", res.Scanned).
		Int("kept", res.Kept).
		Int("deleted", res.Deleted).
		Msg("compaction finished")
	return res, nil
}

// ExportOptions hold parameters for exporting the stored history.
type ExportOptions struct {
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// Export writes the stored history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	durable, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.export(ctx, durable, opts)
}

func (a *App) export(ctx context.Context, st store.Store, opts ExportOptions) error {
	samples := st.FetchAll(ctx)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples to export")
		return nil
	}
	a.Logger.Info().Int("total", len(samples)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(f *os.File) error {
			return chart.WriteCSV(f, chart.Downsample(samples, opts.MaxPoints))
		}); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}

	if opts.PNGPath != "" {
		chartOpts := chart.Options{
			Width:     a.Config.Export.ChartWidth,
			Height:    a.Config.Export.ChartHeight,
			MaxPoints: opts.MaxPoints,
		}
		if err := writeFile(opts.PNGPath, func(f *os.File) error {
			return chart.RenderPNG(f, samples, chartOpts)
		}); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}
	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
