package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mathduel/mathduel-backend/internal/game"
	"github.com/mathduel/mathduel-backend/internal/matchmaking"
	"github.com/mathduel/mathduel-backend/internal/player"
	"github.com/mathduel/mathduel-backend/internal/question"
)

// StatsHandler 운영 지표 조회
type StatsHandler struct {
	registry    *player.Registry
	coordinator *matchmaking.Coordinator
	rooms       *game.Manager
	selector    *question.Selector
}

// NewStatsHandler StatsHandler 생성
func NewStatsHandler(
	registry *player.Registry,
	coordinator *matchmaking.Coordinator,
	rooms *game.Manager,
	selector *question.Selector,
) *StatsHandler {
	return &StatsHandler{
		registry:    registry,
		coordinator: coordinator,
		rooms:       rooms,
		selector:    selector,
	}
}

// GetStats 서버 전체 현황
func (h *StatsHandler) GetStats(c *gin.Context) {
	queueStatus, err := h.coordinator.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"players": h.registry.Statistics(),
		"queue":   queueStatus,
		"rooms":   h.rooms.Statistics(),
	})
}

// GetQueueStatus 대기열 현황
func (h *StatsHandler) GetQueueStatus(c *gin.Context) {
	status, err := h.coordinator.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetQuestionPools 문제 풀 현황
func (h *StatsHandler) GetQuestionPools(c *gin.Context) {
	c.JSON(http.StatusOK, h.selector.Stats())
}
