package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	jwtutil "github.com/mathduel/mathduel-backend/pkg/jwt"
)

// AuthHandler 게임 접속 토큰 발급.
// 계정 관리는 별도 인증 서비스 몫이고 여기서는 게스트 세션만 발급한다.
type AuthHandler struct {
	jwtManager *jwtutil.JWTManager
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(jwtManager *jwtutil.JWTManager) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager}
}

type guestRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
}

// GuestSession 게스트 플레이어 ID와 접속 토큰 발급
func (h *AuthHandler) GuestSession(c *gin.Context) {
	var req guestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	playerID := "guest-" + uuid.New().String()

	token, err := h.jwtManager.Generate(playerID, req.Username, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"playerId": playerID,
		"username": req.Username,
		"token":    token,
	})
}
