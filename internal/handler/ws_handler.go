package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/hub"
	"github.com/driftlabs/chatrelay/internal/service"
	"github.com/driftlabs/chatrelay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades connections and binds each one to a room for its
// lifetime.
type WSHandler struct {
	service service.RelayService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(svc service.RelayService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		service: svc,
		wsCfg:   wsCfg,
	}
}

// HandleWebSocket serves GET /ws?room_id=<id>.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID == "" {
		roomID = "lobby"
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctxLogger := log.Ctx(c.Request.Context())
		ctxLogger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := log.L().With().Str(log.FieldRoomID, roomID).Logger()
	client := hub.NewClient(uuid.NewString(), conn, h.wsCfg, logger)

	// Join is processed on the room goroutine before any frame this
	// connection sends afterwards, so the snapshot is always first.
	if err := h.service.Join(c.Request.Context(), client, roomID); err != nil {
		logger.Error().Err(err).Msg("failed to join room")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"))
		conn.Close()
		return
	}

	// The request context dies with this handler; pump callbacks need
	// a context that lives as long as the connection.
	connCtx := context.Background()

	go client.WritePump()
	go client.ReadPump(
		func(cl *hub.Client, frame []byte) {
			h.service.HandleFrame(connCtx, cl, roomID, frame)
		},
		func(cl *hub.Client) {
			h.service.Leave(cl, roomID)
			cl.Close()
		},
	)
}
