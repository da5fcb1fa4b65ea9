package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mathduel/mathduel-backend/internal/websocket"
	"github.com/mathduel/mathduel-backend/pkg/ratelimit"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket 연결 처리
type WebSocketHandler struct {
	hub     *websocket.Hub
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewWebSocketHandler WebSocketHandler 생성
func NewWebSocketHandler(hub *websocket.Hub, limiter *ratelimit.Limiter, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		limiter: limiter,
		logger:  logger,
	}
}

// HandleWebSocket WebSocket 연결 엔드포인트
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWs(h.hub, h.limiter, h.logger, c.Writer, c.Request)
}
