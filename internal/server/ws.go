package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/price-tracker/internal/feed"
	"github.com/atmx/price-tracker/internal/model"
)

// handleWS handles GET /ws. The client first receives the full history,
// one JSON sample per text frame, then every newly stored sample.
//
// Live samples queue in the subscription while the replay is written. A
// replay that takes longer than the backlog can absorb therefore starts the
// live phase with a lag report, and the newest samples follow it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, replay, err := s.hub.Subscribe(ctx)
	if err != nil {
		s.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer sub.Close()
	logger := s.logger.With().Str("subscriber", sub.ID()).Str("remote", r.RemoteAddr).Logger()

	go s.readPump(conn, cancel)
	go s.pingLoop(ctx, conn)

	for _, sample := range replay {
		if err := s.writeSample(conn, sample); err != nil {
			logger.Warn().Err(err).Msg("replay write failed")
			return
		}
	}
	logger.Debug().Int("replayed", len(replay)).Msg("replay sent")

	for {
		sample, err := sub.Recv(ctx)
		var lagged *feed.LaggedError
		switch {
		case errors.As(err, &lagged):
			logger.Warn().Uint64("skipped", lagged.Skipped).Msg("subscriber lagged")
			continue
		case errors.Is(err, feed.ErrClosed):
			s.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case err != nil:
			return
		}

		if err := s.writeSample(conn, sample); err != nil {
			logger.Warn().Err(err).Msg("live write failed")
			return
		}
	}
}

func (s *Server) writeSample(conn *websocket.Conn, sample model.Sample) error {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	return conn.WriteJSON(sample)
}

// readPump discards client frames and cancels the session when the peer
// goes away or stops answering pings.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive through proxies. WriteControl may
// run concurrently with the data writer.
func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
}
