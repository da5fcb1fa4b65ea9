package game

import (
	"sync"
	"time"

	"github.com/mathduel/mathduel-backend/internal/models"
	"go.uber.org/zap"
)

// Manager 활성 GameRoom 레지스트리.
// 플레이어가 동시에 둘 이상의 방에 속하지 않음을 보장하고 좀비 방을 회수한다.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room // roomID -> room
	byPlayer map[string]*Room // playerID -> room
	maxAge   time.Duration
	logger   *zap.Logger
	onStale  func(*Room, *models.GameResults)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager Manager 생성. maxAge를 넘긴 방은 상태와 무관하게 강제 종료된다.
func NewManager(maxAge time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		byPlayer: make(map[string]*Room),
		maxAge:   maxAge,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// SetStaleCallback 강제 회수 시 호출될 훅 등록
func (m *Manager) SetStaleCallback(fn func(*Room, *models.GameResults)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStale = fn
}

// CreateRoom 방 생성 및 등록.
// 기존 매핑이 완료 상태 방을 가리키면 정리 후 진행하고, 살아있으면 실패한다.
func (m *Manager) CreateRoom(room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range room.Players() {
		if existing, ok := m.byPlayer[p.ID]; ok {
			if existing.State() != models.GameStateCompleted {
				return ErrAlreadyInGame
			}
			// 완료됐지만 아직 제거되지 않은 방은 stale로 간주하고 정리
			m.purgeLocked(existing)
			m.logger.Warn("Purged stale room mapping",
				zap.String("roomId", existing.ID),
				zap.String("playerId", p.ID))
		}
	}

	m.rooms[room.ID] = room
	for _, p := range room.Players() {
		m.byPlayer[p.ID] = room
	}

	m.logger.Info("Game room created",
		zap.String("roomId", room.ID),
		zap.Int("activeRooms", len(m.rooms)))
	return nil
}

// RoomFor 플레이어가 속한 방 조회
func (m *Manager) RoomFor(playerID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.byPlayer[playerID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Room ID로 방 조회
func (m *Manager) Room(roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RemoveRoom 방 제거
func (m *Manager) RemoveRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		m.purgeLocked(room)
		m.logger.Info("Game room removed",
			zap.String("roomId", roomID),
			zap.Int("activeRooms", len(m.rooms)))
	}
}

func (m *Manager) purgeLocked(room *Room) {
	delete(m.rooms, room.ID)
	for _, p := range room.Players() {
		if m.byPlayer[p.ID] == room {
			delete(m.byPlayer, p.ID)
		}
	}
}

// StartSweep 주기적 좀비 방 회수 시작
func (m *Manager) StartSweep(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepStale()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop 회수 루프 중지
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// sweepStale 상한 초과 방 강제 종료 및 제거
func (m *Manager) sweepStale() {
	m.mu.RLock()
	var stale []*Room
	for _, room := range m.rooms {
		if room.Age() > m.maxAge {
			stale = append(stale, room)
		}
	}
	onStale := m.onStale
	m.mu.RUnlock()

	for _, room := range stale {
		results, err := room.EndGame(models.EndReasonStale)
		if err == nil && onStale != nil {
			onStale(room, results)
		}

		m.RemoveRoom(room.ID)
		m.logger.Warn("Force-ended stale room",
			zap.String("roomId", room.ID),
			zap.Duration("age", room.Age()))
	}
}

// ManagerStats 방 레지스트리 통계
type ManagerStats struct {
	ActiveRooms    int `json:"activeRooms"`
	PlayersInRooms int `json:"playersInRooms"`
	WaitingRooms   int `json:"waitingRooms"`
	RunningRooms   int `json:"runningRooms"`
}

// Statistics 통계 스냅샷
func (m *Manager) Statistics() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		ActiveRooms:    len(m.rooms),
		PlayersInRooms: len(m.byPlayer),
	}
	for _, room := range m.rooms {
		switch room.State() {
		case models.GameStateWaiting:
			stats.WaitingRooms++
		case models.GameStateActive:
			stats.RunningRooms++
		}
	}
	return stats
}
