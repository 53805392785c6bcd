package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/pkg/utils"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

// Stream upgrades to a websocket and pushes a snapshot on every session change.
// The first message is the current snapshot. Client messages are discarded.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) error {
	l := GetLogger(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		l.Warn("websocket upgrade failed", utils.ErrAttr(err))
		return nil
	}
	defer utils.LogOnError(l, conn.Close, "failed to close websocket")

	l.Info("websocket client connected", slog.String("remote", conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go readPump(conn, cancel)

	updates := h.session.Watch(ctx)
	if err := writeSnapshot(conn, h.session.Snapshot()); err != nil {
		l.Debug("websocket write failed", utils.ErrAttr(err))
		return nil
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("websocket client disconnected")
			return nil

		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeSnapshot(conn, snap); err != nil {
				l.Debug("websocket write failed", utils.ErrAttr(err))
				return nil
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				l.Debug("websocket ping failed", utils.ErrAttr(err))
				return nil
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap device.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(snap)
}

// readPump keeps control frames flowing and cancels the stream once the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
