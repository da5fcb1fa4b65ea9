package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mathduel/mathduel-backend/internal/repository"
)

// MatchHandler 매치 기록 조회
type MatchHandler struct {
	matches *repository.MatchRepository
	players *repository.PlayerRepository
}

// NewMatchHandler MatchHandler 생성
func NewMatchHandler(matches *repository.MatchRepository, players *repository.PlayerRepository) *MatchHandler {
	return &MatchHandler{matches: matches, players: players}
}

// GetMatch ID로 매치 조회
func (h *MatchHandler) GetMatch(c *gin.Context) {
	record, err := h.matches.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find match"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListMatchesByPlayer 플레이어의 최근 매치 목록
func (h *MatchHandler) ListMatchesByPlayer(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := h.matches.FindByPlayerID(c.Request.Context(), c.Param("playerId"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query matches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matches": records})
}

// GetLeaderboard 난이도별 레이팅 상위 목록
func (h *MatchHandler) GetLeaderboard(c *gin.Context) {
	difficulty := c.DefaultQuery("difficulty", "medium")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	entries, err := h.players.TopRatings(c.Request.Context(), difficulty, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query leaderboard"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"difficulty":  difficulty,
		"leaderboard": entries,
	})
}
