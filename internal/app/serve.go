package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/price-tracker/internal/chart"
	"github.com/atmx/price-tracker/internal/feed"
	"github.com/atmx/price-tracker/internal/server"
)

// Serve runs the ingestion loop and the HTTP server until SIGINT/SIGTERM
// or until either of them fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	durable, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stack, err := a.buildStack(durable)
	if err != nil {
		return err
	}

	hub := feed.NewHub(stack.Store, a.Config.Broadcast.Buffer, a.Logger)
	poller := feed.NewPoller(a.newSource(), stack.Store, hub, feed.PollerOptions{
		Interval: a.Config.Ingest.Interval,
		Timeout:  a.Config.Ingest.Timeout,
	}, a.Logger)

	httpCfg := a.Config.HTTP
	handler := server.New(stack.Store, hub, server.Options{
		StaticDir:    httpCfg.StaticDir,
		PingInterval: a.Config.WS.PingInterval,
		PongWait:     a.Config.WS.PongWait,
		WriteWait:    a.Config.WS.WriteWait,
		Chart: chart.Options{
			Width:  a.Config.Export.ChartWidth,
			Height: a.Config.Export.ChartHeight,
		},
	}, a.Logger).Routes()

	srv := &http.Server{
		Addr:         httpCfg.Addr,
		Handler:      handler,
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
		IdleTimeout:  httpCfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := poller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")

		// Hijacked WebSocket connections are not tracked by Shutdown.
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("service stopped")
	return nil
}
