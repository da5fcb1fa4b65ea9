package handlers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mathduel/mathduel-backend/internal/game"
	"github.com/mathduel/mathduel-backend/internal/matchmaking"
	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/internal/notify"
	"github.com/mathduel/mathduel-backend/internal/player"
	"github.com/mathduel/mathduel-backend/internal/question"
	"github.com/mathduel/mathduel-backend/pkg/distributed"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSender 아웃바운드 이벤트 기록용 EventSender
type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string // connID -> 이벤트 타입 목록
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]string)}
}

func (s *recordingSender) SendToConn(connID string, msgType string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[connID] = append(s.sent[connID], msgType)
}

func (s *recordingSender) count(connID, msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, typ := range s.sent[connID] {
		if typ == msgType {
			n++
		}
	}
	return n
}

func handlerSelector() *question.Selector {
	s := question.NewSelector(zap.NewNop())
	var qs []models.Question
	for _, d := range []string{"easy", "medium", "hard"} {
		for lvl := 1; lvl <= 10; lvl++ {
			qs = append(qs, models.Question{
				Prompt:     fmt.Sprintf("%d + %d", lvl, lvl),
				Answer:     fmt.Sprintf("%d", lvl+lvl),
				Difficulty: models.Difficulty(d),
				Level:      lvl,
			})
		}
	}
	s.Load(qs)
	return s
}

type handlerFixture struct {
	handler  *GameHandler
	sender   *recordingSender
	registry *player.Registry
	rooms    *game.Manager
	selector *question.Selector
}

func setupGameHandler(t *testing.T, startDelay time.Duration) *handlerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	registry := player.NewRegistry(time.Second, 10*time.Minute, logger)
	rooms := game.NewManager(15*time.Minute, logger)
	selector := handlerSelector()

	cfg := matchmaking.DefaultConfig()
	coord := matchmaking.NewCoordinator(
		distributed.NewMatchQueue(client, cfg.QueueEntryTTL),
		distributed.NewLockManager(client),
		registry, rooms, selector, nil, cfg, logger,
	)

	h := NewGameHandler(
		registry,
		coord,
		rooms,
		notify.NewNotifier("", logger),
		startDelay,
		50*time.Millisecond,
		logger,
	)
	sender := newRecordingSender()
	h.SetHub(sender)

	return &handlerFixture{
		handler:  h,
		sender:   sender,
		registry: registry,
		rooms:    rooms,
		selector: selector,
	}
}

func (f *handlerFixture) matchedRoom(t *testing.T) *game.Room {
	t.Helper()

	p1 := f.registry.Register("conn-alice", models.OnlinePlayer{
		ID: "alice", Username: "alice", Rating: 1000,
		Difficulty: models.DifficultyMedium, TimeLimit: 60,
	})
	p2 := f.registry.Register("conn-bob", models.OnlinePlayer{
		ID: "bob", Username: "bob", Rating: 1040,
		Difficulty: models.DifficultyMedium, TimeLimit: 60,
	})

	room := game.NewRoom(p1, p2, f.selector, nil,
		game.Settings{QuestionsPerGame: 3}, zap.NewNop())
	require.NoError(t, f.rooms.CreateRoom(room))
	return room
}

func TestGameHandler_MatchFoundStartsGameOnce(t *testing.T) {
	f := setupGameHandler(t, 30*time.Millisecond)
	room := f.matchedRoom(t)
	mf := &matchmaking.MatchFound{Room: room}

	// 양쪽 대기자의 통지 경로가 거의 동시에 호출된다
	f.handler.onMatchFound("alice", mf)
	f.handler.onMatchFound("bob", mf)

	assert.Equal(t, 1, f.sender.count("conn-alice", "match-found"))
	assert.Equal(t, 1, f.sender.count("conn-bob", "match-found"))

	require.Eventually(t, func() bool {
		return f.sender.count("conn-alice", "game-started") >= 1 &&
			f.sender.count("conn-bob", "game-started") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// 늦게 깨어난 타이머까지 소진된 뒤에도 시작 통지는 한 번씩이어야 한다
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.sender.count("conn-alice", "game-started"))
	assert.Equal(t, 1, f.sender.count("conn-bob", "game-started"))
	assert.Equal(t, 1, f.sender.count("conn-alice", "next-question"))
	assert.Equal(t, 1, f.sender.count("conn-bob", "next-question"))

	// 첫 문제 하나씩만 배부된 상태여야 한다
	snap := room.Snapshot()
	assert.Equal(t, models.GameStateActive, snap.State)
	assert.Equal(t, 1, snap.Progress["alice"])
	assert.Equal(t, 1, snap.Progress["bob"])
}

func TestGameHandler_GameStartFollowsReconnectedConn(t *testing.T) {
	f := setupGameHandler(t, 30*time.Millisecond)
	room := f.matchedRoom(t)
	mf := &matchmaking.MatchFound{Room: room}

	f.handler.onMatchFound("alice", mf)
	f.handler.onMatchFound("bob", mf)

	// 시작 지연 중 alice가 새 연결로 재접속한다
	f.registry.Register("conn-alice-2", models.OnlinePlayer{ID: "alice"})

	require.Eventually(t, func() bool {
		return f.sender.count("conn-alice-2", "game-started") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 시작 통지는 최신 연결로만 나간다
	assert.Equal(t, 0, f.sender.count("conn-alice", "game-started"))
	assert.Equal(t, 1, f.sender.count("conn-bob", "game-started"))
	assert.Equal(t, 1, f.sender.count("conn-alice-2", "next-question"))
}
