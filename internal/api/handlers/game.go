package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mathduel/mathduel-backend/internal/game"
	"github.com/mathduel/mathduel-backend/internal/matchmaking"
	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/internal/notify"
	"github.com/mathduel/mathduel-backend/internal/player"
	"github.com/mathduel/mathduel-backend/internal/websocket"
	"go.uber.org/zap"
)

// EventSender 아웃바운드 이벤트 전송 경로. Hub가 구현한다.
type EventSender interface {
	SendToConn(connID string, msgType string, payload interface{})
}

// GameHandler WebSocket 게임 이벤트 처리기.
// 레지스트리, 매치메이킹, 게임 방을 잇고 아웃바운드 이벤트를 내보낸다.
type GameHandler struct {
	registry       *player.Registry
	coordinator    *matchmaking.Coordinator
	rooms          *game.Manager
	notifier       *notify.Notifier
	hub            EventSender
	startDelay     time.Duration
	reconnectGrace time.Duration
	logger         *zap.Logger
}

// NewGameHandler GameHandler 생성. Hub는 순환 참조 때문에 SetHub로 따로 주입한다.
func NewGameHandler(
	registry *player.Registry,
	coordinator *matchmaking.Coordinator,
	rooms *game.Manager,
	notifier *notify.Notifier,
	startDelay time.Duration,
	reconnectGrace time.Duration,
	logger *zap.Logger,
) *GameHandler {
	return &GameHandler{
		registry:       registry,
		coordinator:    coordinator,
		rooms:          rooms,
		notifier:       notifier,
		startDelay:     startDelay,
		reconnectGrace: reconnectGrace,
		logger:         logger,
	}
}

// SetHub Hub 주입
func (h *GameHandler) SetHub(hub EventSender) {
	h.hub = hub
}

// connFor 전송 시점의 연결 핸들. 재접속했다면 최신 연결을 따른다.
func (h *GameHandler) connFor(p *models.OnlinePlayer) string {
	if connID, err := h.registry.ConnIDFor(p.ID); err == nil {
		return connID
	}
	return p.ConnID
}

// HandleEvent 인바운드 이벤트 디스패치
func (h *GameHandler) HandleEvent(client *websocket.Client, event websocket.Event) {
	h.registry.Touch(client.ConnID())

	switch event.Type {
	case "register-player":
		h.handleRegister(client, event.Payload)
	case "join-queue":
		h.handleJoinQueue(client)
	case "cancel-search":
		h.handleCancelSearch(client)
	case "submit-answer":
		h.handleSubmitAnswer(client, event.Payload)
	case "request-current-state":
		h.handleCurrentState(client)
	case "game-ended":
		h.handleGameEnded(client)
	default:
		h.logger.Warn("Unknown event type",
			zap.String("connId", client.ConnID()),
			zap.String("type", event.Type))
		client.Send("error", map[string]string{"message": "unknown event type: " + event.Type})
	}
}

type registerPayload struct {
	PlayerID   string   `json:"playerId"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Rating     int      `json:"rating"`
	Difficulty string   `json:"difficulty"`
	TimeLimit  int      `json:"timeLimit"`
	Tags       []string `json:"tags"`
}

// handleRegister 로비 진입. 같은 ID의 재접속은 기존 연결을 대체한다.
func (h *GameHandler) handleRegister(client *websocket.Client, payload json.RawMessage) {
	var req registerPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.PlayerID == "" {
		client.Send("error", map[string]string{"message": "invalid register-player payload"})
		return
	}

	p := h.registry.Register(client.ConnID(), models.OnlinePlayer{
		ID:         req.PlayerID,
		Username:   req.Username,
		Email:      req.Email,
		Rating:     req.Rating,
		Difficulty: models.Difficulty(req.Difficulty),
		TimeLimit:  req.TimeLimit,
		Tags:       req.Tags,
	})

	stats := h.registry.Statistics()

	client.Send("lobby-joined", map[string]interface{}{
		"player":      p.Summary(),
		"onlineCount": stats.Online,
	})

	// 진행 중이던 게임이 있으면 재접속으로 복귀시킨다
	if room, err := h.rooms.RoomFor(p.ID); err == nil && room.State() == models.GameStateActive {
		client.Send("game-rejoined", room.Snapshot())
	}
}

// handleJoinQueue 대기열 진입
func (h *GameHandler) handleJoinQueue(client *websocket.Client) {
	p, err := h.registry.ByConn(client.ConnID())
	if err != nil {
		client.Send("error", map[string]string{"message": "register before joining the queue"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mf, ch, err := h.coordinator.Enqueue(ctx, p)
	if err != nil {
		h.logger.Warn("Failed to enqueue player",
			zap.String("playerId", p.ID),
			zap.Error(err))
		client.Send("error", map[string]string{"message": err.Error()})
		return
	}

	if mf != nil {
		// 즉시 매칭: 반대편은 자기 대기 채널로 통지받는다
		h.onMatchFound(p.ID, mf)
		return
	}

	client.Send("searching", map[string]interface{}{
		"difficulty": p.Difficulty,
		"timeLimit":  p.TimeLimit,
	})

	go func() {
		mf, ok := <-ch
		if !ok || mf == nil {
			return // 취소됨
		}
		h.onMatchFound(p.ID, mf)
	}()
}

// onMatchFound 매치 성사 통지와 게임 시작 스케줄링.
// 양쪽 대기자가 거의 동시에 호출하므로 시작 작업은 Start 전이를
// 따낸 타이머 하나만 수행한다.
func (h *GameHandler) onMatchFound(playerID string, mf *matchmaking.MatchFound) {
	room := mf.Room

	p := room.Players()[0]
	if p.ID != playerID {
		p = room.Players()[1]
	}

	opp := room.Opponent(p.ID)
	pub := room.Public()

	h.hub.SendToConn(h.connFor(p), "match-found", map[string]interface{}{
		"room":       pub,
		"opponent":   opp.Summary(),
		"startDelay": h.startDelay.Milliseconds(),
	})

	h.notifier.SendMatchFound(notify.MatchFoundNotification{
		PlayerID:   p.ID,
		OpponentID: opp.ID,
		GameID:     room.ID,
		Difficulty: string(pub.Difficulty),
	})

	room.SetExpireCallback(h.onGameOver)

	time.AfterFunc(h.startDelay, func() {
		if !room.Start() {
			return // 반대편 타이머가 이미 시작했거나 대기 중 종료됨
		}

		for _, member := range room.Players() {
			h.hub.SendToConn(h.connFor(member), "game-started", room.Public())

			q, ok, err := room.NextQuestion(member.ID)
			if err != nil || !ok {
				continue
			}
			h.hub.SendToConn(h.connFor(member), "next-question", q)
		}
	})
}

// handleCancelSearch 탐색 취소
func (h *GameHandler) handleCancelSearch(client *websocket.Client) {
	p, err := h.registry.ByConn(client.ConnID())
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.coordinator.Cancel(ctx, p.ID); err != nil {
		h.logger.Error("Failed to cancel search",
			zap.String("playerId", p.ID),
			zap.Error(err))
	}

	client.Send("search-cancelled", nil)
}

type answerPayload struct {
	Answer    string `json:"answer"`
	TimeSpent int64  `json:"timeSpent"`
}

// handleSubmitAnswer 답안 처리, 상대 점수 통지, 다음 문제 전달
func (h *GameHandler) handleSubmitAnswer(client *websocket.Client, payload json.RawMessage) {
	p, err := h.registry.ByConn(client.ConnID())
	if err != nil {
		client.Send("error", map[string]string{"message": "player not registered"})
		return
	}

	room, err := h.rooms.RoomFor(p.ID)
	if err != nil {
		client.Send("error", map[string]string{"message": "no active game"})
		return
	}

	var req answerPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		client.Send("error", map[string]string{"message": "invalid submit-answer payload"})
		return
	}

	result, err := room.SubmitAnswer(p.ID, req.Answer, req.TimeSpent)
	if err != nil {
		client.Send("error", map[string]string{"message": err.Error()})
		return
	}

	client.Send("answer-result", result)

	if opp := room.Opponent(p.ID); opp != nil {
		h.hub.SendToConn(h.connFor(opp), "opponent-score-update", map[string]interface{}{
			"playerId":      p.ID,
			"score":         result.Score,
			"questionMeter": result.QuestionMeter,
		})
	}

	q, ok, err := room.NextQuestion(p.ID)
	if err != nil {
		client.Send("error", map[string]string{"message": err.Error()})
		return
	}
	if ok {
		client.Send("next-question", q)
		return
	}

	// 이 플레이어는 소진. 양쪽 모두 소진하면 정상 종료.
	client.Send("questions-exhausted", nil)
	if room.Exhausted() {
		if results, err := room.EndGame(models.EndReasonNormal); err == nil {
			h.onGameOver(room, results)
		}
	}
}

// handleCurrentState 현재 게임 상태 재전송 (재접속 복구용)
func (h *GameHandler) handleCurrentState(client *websocket.Client) {
	p, err := h.registry.ByConn(client.ConnID())
	if err != nil {
		client.Send("error", map[string]string{"message": "player not registered"})
		return
	}

	room, err := h.rooms.RoomFor(p.ID)
	if err != nil {
		client.Send("current-state", map[string]interface{}{"inGame": false})
		return
	}

	client.Send("current-state", room.Snapshot())
}

// handleGameEnded 클라이언트 측 종료 요청. 서버 타이머가 권위지만
// 먼저 도착하면 정상 종료로 처리한다.
func (h *GameHandler) handleGameEnded(client *websocket.Client) {
	p, err := h.registry.ByConn(client.ConnID())
	if err != nil {
		return
	}

	room, err := h.rooms.RoomFor(p.ID)
	if err != nil {
		return
	}

	if results, err := room.EndGame(models.EndReasonNormal); err == nil {
		h.onGameOver(room, results)
	}
}

// onGameOver 결과 통지, busy 해제, 방 해체, 푸시 알림
func (h *GameHandler) onGameOver(room *game.Room, results *models.GameResults) {
	for _, member := range room.Players() {
		h.hub.SendToConn(h.connFor(member), "game-ended", results)
		h.registry.SetInGame(member.ID, false)
	}

	h.rooms.RemoveRoom(room.ID)

	for _, pr := range results.Players {
		opp := room.Opponent(pr.PlayerID)
		oppID := ""
		if opp != nil {
			oppID = opp.ID
		}
		h.notifier.SendMatchResult(notify.MatchResultNotification{
			PlayerID:   pr.PlayerID,
			OpponentID: oppID,
			Won:        pr.Won,
			Score:      pr.FinalScore,
			GameID:     results.GameID,
		})
	}
}

// HandleRoomClosed 매니저가 오래된 방을 강제 종료했을 때의 통지 경로
func (h *GameHandler) HandleRoomClosed(room *game.Room, results *models.GameResults) {
	h.onGameOver(room, results)
}

// HandleDisconnect 연결 종료 처리. 대기열은 즉시 정리하고,
// 진행 중인 게임은 짧은 재접속 유예 후에 몰수 처리한다.
func (h *GameHandler) HandleDisconnect(connID string) {
	p, err := h.registry.ByConn(connID)
	if err != nil {
		return
	}
	playerID := p.ID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.coordinator.OnDisconnect(ctx, playerID)

	room, roomErr := h.rooms.RoomFor(playerID)
	if roomErr == nil && room.State() != models.GameStateCompleted {
		time.AfterFunc(h.reconnectGrace, func() {
			// 유예 내 재접속이면 같은 ID가 새 연결로 등록돼 있다
			if curConn, err := h.registry.ConnIDFor(playerID); err == nil && curConn != connID {
				return
			}

			results, err := room.HandleDisconnect(playerID)
			if err != nil {
				return // 이미 종료됨
			}

			if opp := room.Opponent(playerID); opp != nil {
				h.notifier.SendOpponentDisconnected(notify.OpponentDisconnectedNotification{
					PlayerID:   opp.ID,
					OpponentID: playerID,
					GameID:     room.ID,
				})
			}

			h.onGameOver(room, results)
		})
	}

	h.registry.Remove(connID)
}
