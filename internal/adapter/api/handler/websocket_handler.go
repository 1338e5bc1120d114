package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/pkg/logger"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	messageHandler *ws.MessageHandler
	sendBuffer     int
	upgrader       gorillaws.Upgrader
}

func NewWebSocketHandler(wsManager *ws.Manager, messageHandler *ws.MessageHandler, sendBuffer int, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:      wsManager,
		messageHandler: messageHandler,
		sendBuffer:     sendBuffer,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose origin is listed. "*" allows any origin.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || lo.Contains(allowed, "*") {
			return true
		}
		return lo.Contains(allowed, origin)
	}
}

// HandleWebSocket upgrades an authenticated request into a live connection.
// The auth middleware has already resolved "uid".
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID := c.Get("uid").(string)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logger.Warn("WebSocket upgrade failed for user %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(conn, userID, h.sendBuffer)
	h.wsManager.Register(client)
	logger.Debug("WebSocket connection %s opened for user %s", client.ID(), userID)

	go client.WritePump()
	go client.ReadPump(h.wsManager, h.messageHandler)

	return nil
}
