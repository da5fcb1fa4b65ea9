package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier 외부 푸시 서비스 HTTP 클라이언트.
// 게임 결과 알림은 전달 실패가 게임 흐름을 막지 않도록 비동기로 보낸다.
type Notifier struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewNotifier(baseURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Enabled 푸시 서비스 설정 여부
func (n *Notifier) Enabled() bool {
	return n.baseURL != ""
}

// MatchResultNotification 푸시 서비스에 보낼 결과 알림
type MatchResultNotification struct {
	PlayerID   string `json:"playerId"`
	OpponentID string `json:"opponentId"`
	Won        bool   `json:"won"`
	Score      int    `json:"score"`
	GameID     string `json:"gameId"`
}

// SendMatchResult 결과 알림 전송. fire-and-forget이므로 호출자를 막지 않는다.
func (n *Notifier) SendMatchResult(notification MatchResultNotification) {
	if !n.Enabled() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := n.post(ctx, "/notify/match-result", notification); err != nil {
			n.logger.Warn("Failed to deliver match result notification",
				zap.String("playerId", notification.PlayerID),
				zap.Error(err))
		}
	}()
}

// MatchFoundNotification 매칭 성사 알림
type MatchFoundNotification struct {
	PlayerID   string `json:"playerId"`
	OpponentID string `json:"opponentId"`
	GameID     string `json:"gameId"`
	Difficulty string `json:"difficulty"`
}

// SendMatchFound 매칭 성사 알림 전송
func (n *Notifier) SendMatchFound(notification MatchFoundNotification) {
	if !n.Enabled() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := n.post(ctx, "/notify/match-found", notification); err != nil {
			n.logger.Warn("Failed to deliver match found notification",
				zap.String("playerId", notification.PlayerID),
				zap.Error(err))
		}
	}()
}

// OpponentDisconnectedNotification 상대 이탈 알림
type OpponentDisconnectedNotification struct {
	PlayerID   string `json:"playerId"`
	OpponentID string `json:"opponentId"`
	GameID     string `json:"gameId"`
}

// SendOpponentDisconnected 상대 이탈 알림 전송
func (n *Notifier) SendOpponentDisconnected(notification OpponentDisconnectedNotification) {
	if !n.Enabled() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := n.post(ctx, "/notify/opponent-disconnected", notification); err != nil {
			n.logger.Warn("Failed to deliver opponent disconnected notification",
				zap.String("playerId", notification.PlayerID),
				zap.Error(err))
		}
	}()
}

func (n *Notifier) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}

	return nil
}
