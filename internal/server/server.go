// Package server exposes the price history and live feed over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/chart"
	"github.com/atmx/price-tracker/internal/feed"
	"github.com/atmx/price-tracker/internal/metrics"
	"github.com/atmx/price-tracker/internal/model"
	"github.com/atmx/price-tracker/internal/store"
)

// Options configure the HTTP surface.
type Options struct {
	// StaticDir is served at / when non-empty.
	StaticDir    string
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Chart        chart.Options
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// latestReader is implemented by stores that can answer "newest sample"
// without copying the whole history.
type latestReader interface {
	Latest(ctx context.Context) (model.Sample, bool)
}

// Server holds the handlers. It reads history from store and streams
// live samples from hub.
type Server struct {
	store    store.Store
	hub      *feed.Hub
	opts     Options
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(st store.Store, hub *feed.Hub, opts Options, logger zerolog.Logger) *Server {
	return &Server{
		store:  st,
		hub:    hub,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // the feed is public and read-only
			},
		},
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.handleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/prices", s.handlePrices)
		r.Get("/prices/latest", s.handleLatest)
		r.Get("/chart.png", s.handleChart)
	})

	if s.opts.StaticDir != "" {
		r.Handle("/*", noCache(http.FileServer(http.Dir(s.opts.StaticDir))))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "price-tracker",
		"subscribers": s.hub.Len(),
	})
}

// handlePrices handles GET /api/v1/prices[?since=unix]
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	samples := s.store.FetchAll(r.Context())
	if since > 0 {
		samples = after(samples, since)
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleLatest handles GET /api/v1/prices/latest
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.latest(r.Context())
	if !ok {
		writeError(w, "no price recorded yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// handleChart handles GET /api/v1/chart.png[?since=unix&points=n]
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := s.opts.Chart
	if raw := r.URL.Query().Get("points"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "points must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.MaxPoints = n
	}

	samples := s.store.FetchAll(r.Context())
	if since > 0 {
		samples = after(samples, since)
	}

	var buf bytes.Buffer
	if err := chart.RenderPNG(&buf, samples, opts); err != nil {
		if errors.Is(err, chart.ErrNoSamples) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Msg("chart render failed")
		writeError(w, "chart render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = buf.WriteTo(w)
}

func (s *Server) latest(ctx context.Context) (model.Sample, bool) {
	if lr, ok := s.store.(latestReader); ok {
		return lr.Latest(ctx)
	}
	all := s.store.FetchAll(ctx)
	if len(all) == 0 {
		return model.Sample{}, false
	}
	return all[len(all)-1], true
}

func parseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, errors.New("since must be a unix timestamp")
	}
	return since, nil
}

// after returns the samples stamped at or after ts. samples is sorted.
func after(samples []model.Sample, ts int64) []model.Sample {
	for i, s := range samples {
		if s.Timestamp >= ts {
			return samples[i:]
		}
	}
	return []model.Sample{}
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
