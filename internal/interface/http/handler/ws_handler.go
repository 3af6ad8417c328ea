package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ignatzorin/carpool-escrow/internal/http/middleware"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
	"github.com/ignatzorin/carpool-escrow/internal/ws"
)

// WSHandler открывает WebSocket-канал уведомлений о бронях и платежах.
type WSHandler struct {
	hub      *ws.Hub
	tokens   middleware.ActorParser
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *ws.Hub, tokens middleware.ActorParser, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Handle обслуживает GET /api/ws?token=... Браузер не умеет слать заголовок
// Authorization при апгрейде, поэтому токен передаётся в query.
func (h *WSHandler) Handle(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		response.Unauthorized(c, "access токен обязателен")
		return
	}
	actor, err := h.tokens.ParseActor(raw)
	if err != nil {
		response.Unauthorized(c, "невалидный access токен")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже записал ответ клиенту.
		_ = c.Error(err)
		return
	}

	ws.NewClient(conn, h.hub, actor.ID).Run(c.Request.Context())
}
