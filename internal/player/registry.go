package player

import (
	"errors"
	"sync"
	"time"

	"github.com/mathduel/mathduel-backend/internal/models"
	"go.uber.org/zap"
)

var ErrPlayerNotFound = errors.New("player not found")

// Registry 연결 단위 온라인 플레이어 상태.
// 동일 ID 재등록 시 기존 레코드에 새 연결 핸들을 덮어쓴다.
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]*models.OnlinePlayer
	byID      map[string]*models.OnlinePlayer
	grace     time.Duration
	inactive  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRegistry Registry 생성. grace는 재접속 유예, inactive는 방치 플레이어 정리 기준.
func NewRegistry(grace, inactive time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		byConn:   make(map[string]*models.OnlinePlayer),
		byID:     make(map[string]*models.OnlinePlayer),
		grace:    grace,
		inactive: inactive,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Register 신규 등록 또는 재접속 처리. 기존 ID면 연결 핸들만 교체한다.
// 재접속은 기존 레코드를 제자리 수정하지 않고 갱신된 사본으로 교체한다.
// 밖에 나가 있는 기존 포인터의 식별/선호 필드는 등록 이후 불변이다.
func (r *Registry) Register(connID string, p models.OnlinePlayer) *models.OnlinePlayer {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if existing, ok := r.byID[p.ID]; ok {
		// 재접속: 이전 연결 매핑 제거 후 사본으로 교체
		delete(r.byConn, existing.ConnID)

		replaced := *existing
		replaced.ConnID = connID
		replaced.JoinedAt = now
		replaced.LastActivity = now
		if p.Rating > 0 {
			replaced.Rating = p.Rating
		}
		if p.Difficulty != "" {
			replaced.Difficulty = p.Difficulty
		}
		if p.TimeLimit > 0 {
			replaced.TimeLimit = p.TimeLimit
		}
		if p.Tags != nil {
			replaced.Tags = p.Tags
		}
		r.byConn[connID] = &replaced
		r.byID[p.ID] = &replaced

		r.logger.Info("Player reconnected",
			zap.String("playerId", p.ID),
			zap.String("connId", connID))
		return &replaced
	}

	np := p
	np.ConnID = connID
	if np.Rating == 0 {
		np.Rating = 1200
	}
	if np.Difficulty == "" {
		np.Difficulty = models.DifficultyMedium
	}
	if np.TimeLimit == 0 {
		np.TimeLimit = 60
	}
	np.JoinedAt = now
	np.LastActivity = now

	r.byConn[connID] = &np
	r.byID[np.ID] = &np

	r.logger.Info("Player registered",
		zap.String("playerId", np.ID),
		zap.String("username", np.Username),
		zap.Int("rating", np.Rating))
	return &np
}

// Remove 연결 종료 처리. 유예 시간 내 재접속이 없으면 레코드를 삭제한다.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	p, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	r.mu.Unlock()

	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// 다른 연결로 재등록되지 않은 경우에만 제거
		if cur, ok := r.byID[p.ID]; ok && cur.ConnID == connID {
			delete(r.byID, p.ID)
			r.logger.Info("Player removed after grace period",
				zap.String("playerId", p.ID))
		}
	})
}

// ByConn 연결 핸들로 조회
func (r *Registry) ByConn(connID string) (*models.OnlinePlayer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[connID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

// ByID 플레이어 ID로 조회
func (r *Registry) ByID(playerID string) (*models.OnlinePlayer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

// ConnIDFor 현재 연결 핸들 조회. 전송 시점의 최신 연결을 얻을 때 쓴다.
func (r *Registry) ConnIDFor(playerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[playerID]
	if !ok {
		return "", ErrPlayerNotFound
	}
	return p.ConnID, nil
}

// IsInGame busy 플래그 조회
func (r *Registry) IsInGame(playerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[playerID]
	if !ok {
		return false, ErrPlayerNotFound
	}
	return p.InGame, nil
}

// SetInGame busy 플래그 갱신
func (r *Registry) SetInGame(playerID string, inGame bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[playerID]; ok {
		p.InGame = inGame
		p.LastActivity = time.Now()
	}
}

// Touch 활동 시각 갱신
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byConn[connID]; ok {
		p.LastActivity = time.Now()
	}
}

// StartSweep 방치 플레이어 정리 루프 시작
func (r *Registry) StartSweep(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepInactive()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop 정리 루프 중지
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

func (r *Registry) sweepInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for connID, p := range r.byConn {
		if !p.InGame && now.Sub(p.LastActivity) > r.inactive {
			delete(r.byConn, connID)
			delete(r.byID, p.ID)
			r.logger.Info("Removed inactive player",
				zap.String("playerId", p.ID),
				zap.Duration("idle", now.Sub(p.LastActivity)))
		}
	}
}

// Stats 접속 통계
type Stats struct {
	Online       int            `json:"totalOnline"`
	InGame       int            `json:"inGame"`
	Searching    int            `json:"searching"`
	ByDifficulty map[string]int `json:"byDifficulty"`
	ByTimeLimit  map[int]int    `json:"byTimeLimit"`
}

// Statistics 현재 접속 통계 스냅샷
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Online:       len(r.byConn),
		ByDifficulty: make(map[string]int),
		ByTimeLimit:  make(map[int]int),
	}

	for _, p := range r.byConn {
		if p.InGame {
			stats.InGame++
		} else {
			stats.Searching++
		}
		stats.ByDifficulty[string(p.Difficulty)]++
		stats.ByTimeLimit[p.TimeLimit]++
	}

	return stats
}
