package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// CommodityStream upgrades to a websocket and pushes the commodity payload
// immediately and then once per cache TTL. Query parameters are the same as
// for /api/commodity. Pushes are served through the commodity cache, so a
// stream never resolves more often than plain requests would.
func (h *Handler) CommodityStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	// the hijacked conn keeps the server's read deadline
	_ = conn.SetReadDeadline(time.Time{})

	req := CommodityRequest(r.URL.Query())
	log := h.log.With(zap.String("remote", r.RemoteAddr))
	log.Debug("stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client frames are ignored; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.commodity.slot.TTL()
	if interval <= 0 {
		interval = defaultTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.commodityPayload(ctx, req)); err != nil {
			log.Debug("stream write failed", zap.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			log.Debug("stream closed by peer")
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}
