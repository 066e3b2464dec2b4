package feed

import (
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

var upgrader = websocket.FastHTTPUpgrader{
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleFastHTTP upgrades the connection and attaches the monitor to the
// hub. An uploadId query argument subscribes immediately, sparing the
// monitor a subscribe round-trip mid-upload.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	initialUploadID := string(ctx.QueryArgs().Peek("uploadId"))

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn)
		h.hub.Register(client)

		client.trySend(&OutgoingMessage{Type: MessageTypeConnected})
		if initialUploadID != "" {
			client.Subscribe(initialUploadID)
		}

		go client.WritePump()
		client.ReadPump() // Blocks until disconnect
	})
	if err != nil {
		log.Error().Err(err).Msg("[FEED] Failed to upgrade connection")
	}
}
