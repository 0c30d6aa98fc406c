package main

import (
	"context"
	"net/http"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/metrics"
	"whatslog/internal/models"
	"whatslog/internal/privacy"
	"whatslog/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const streamWriteTimeout = 5 * time.Second

// handleInstanceStream pushes the caller's instance state over a websocket:
// the current state first, then every state the reconciler writes.
func (s *Server) handleInstanceStream() http.HandlerFunc {
	pingInterval := time.Duration(s.config.Server.StreamPingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = time.Duration(constants.DefaultStreamPingIntervalSec) * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		accountID := accountIDFrom(r.Context())
		account, err := s.deps.Instances.Get(r.Context(), accountID)
		if err != nil {
			s.writeError(w, r, err, 0)
			return
		}

		updates, unsubscribe := s.deps.Status.Subscribe(accountID)
		defer unsubscribe()

		// The server's read and write timeouts would otherwise cut the stream.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept instance stream")
			return
		}
		defer conn.CloseNow()

		logger := s.logger.WithField(service.LogFieldAccountID, privacy.MaskAccountID(accountID))
		logger.Debug("Instance stream opened")
		metrics.IncrementCounter("instance_stream_connections_total", nil, "Instance status stream connections")

		ctx := conn.CloseRead(r.Context())
		if err := writeState(ctx, conn, account.Instance); err != nil {
			return
		}

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("Instance stream closed by client")
				return
			case state, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "stream closed")
					return
				}
				if err := writeState(ctx, conn, state); err != nil {
					logger.WithError(err).Debug("Failed to push instance state")
					return
				}
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					logger.WithError(err).Debug("Instance stream ping failed")
					return
				}
			}
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, state models.InstanceState) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, state.Normalized())
}
