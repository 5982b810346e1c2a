package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler upgrades HTTP requests to WebSocket connections that stream one
// room's entries. Authorization happens before Serve is called.
type Handler struct {
	subs     Subscriber
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler builds a Handler. checkOrigin may be nil to accept only
// same-origin requests.
func NewHandler(subs Subscriber, checkOrigin func(*http.Request) bool, logger *zap.Logger) *Handler {
	return &Handler{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Serve streams roomID's entries as JSON text frames until the client goes
// away or the request context ends.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	entries, err := h.subs.Subscribe(ctx, roomID)
	if err != nil {
		h.logger.Error("feed subscribe failed", zap.String("room_id", roomID.String()), zap.Error(err))
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Info("feed upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("feed subscriber connected", zap.String("room_id", roomID.String()))

	// The read side only handles control frames; any read error means the
	// client is gone.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(entry); err != nil {
				h.logger.Info("feed write failed", zap.String("room_id", roomID.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
