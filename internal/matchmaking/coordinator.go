package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mathduel/mathduel-backend/internal/game"
	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/internal/player"
	"github.com/mathduel/mathduel-backend/internal/question"
	"github.com/mathduel/mathduel-backend/pkg/distributed"
	"go.uber.org/zap"
)

var (
	ErrDuplicateMatchAttempt = errors.New("duplicate match attempt")
	ErrAlreadyQueued         = errors.New("player is already in queue")
)

// MatchFound 페어링 결과. 대기자당 정확히 한 번 전달된다.
type MatchFound struct {
	Room *game.Room
}

// Config 코디네이터 정책 값
type Config struct {
	QueueEntryTTL    time.Duration
	FirstRetryDelay  time.Duration // 인접 버킷 확장
	SecondRetryDelay time.Duration // 전체 버킷 확장
	SweepInterval    time.Duration
	QuestionsPerGame int
	Difficulties     []string
	TimeLimits       []int
}

// DefaultConfig 기본 정책
func DefaultConfig() Config {
	return Config{
		QueueEntryTTL:    3 * time.Minute,
		FirstRetryDelay:  5 * time.Second,
		SecondRetryDelay: 20 * time.Second,
		SweepInterval:    30 * time.Second,
		QuestionsPerGame: 10,
		Difficulties:     []string{"easy", "medium", "hard"},
		TimeLimits:       []int{30, 60, 90},
	}
}

// pendingSearch 대기 중인 탐색. 결과 채널은 용량 1로 정확히 한 번만 쓰인다.
type pendingSearch struct {
	ch     chan *MatchFound
	timers []*time.Timer
}

// Coordinator 대기열 진입, 즉시 매칭, 단계적 탐색 확장, 매치 생성을 총괄한다.
// 프로세스 간 경합은 공유 스토어의 쌍 락과 제거-후-통지 순서로 해소한다.
type Coordinator struct {
	queue      *distributed.MatchQueue
	locks      *distributed.LockManager
	registry   *player.Registry
	rooms      *game.Manager
	selector   *question.Selector
	recorder   game.Recorder
	cfg        Config
	instanceID string
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingSearch

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  bool
	runMu    sync.Mutex
}

// NewCoordinator Coordinator 생성
func NewCoordinator(
	queue *distributed.MatchQueue,
	locks *distributed.LockManager,
	registry *player.Registry,
	rooms *game.Manager,
	selector *question.Selector,
	recorder game.Recorder,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		queue:      queue,
		locks:      locks,
		registry:   registry,
		rooms:      rooms,
		selector:   selector,
		recorder:   recorder,
		cfg:        cfg,
		instanceID: uuid.New().String(),
		logger:     logger,
		pending:    make(map[string]*pendingSearch),
		stopChan:   make(chan struct{}),
	}
}

// Start 만료 엔트리 청소 루프 시작
func (c *Coordinator) Start() {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.runMu.Unlock()

	c.logger.Info("Starting matchmaking coordinator",
		zap.String("instanceId", c.instanceID),
		zap.Duration("sweepInterval", c.cfg.SweepInterval))

	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop 루프 중지
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	c.runMu.Unlock()

	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	c.logger.Info("Matchmaking coordinator stopped")
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			removed, err := c.queue.SweepExpired(ctx, c.cfg.Difficulties, c.cfg.TimeLimits)
			cancel()
			if err != nil {
				c.logger.Error("Queue sweep failed", zap.Error(err))
			} else if removed > 0 {
				c.logger.Info("Swept expired queue entries", zap.Int("removed", removed))
			}
		case <-c.stopChan:
			return
		}
	}
}

// Enqueue 대기열 진입. 즉시 매칭되면 MatchFound를 바로 반환하고,
// 아니면 대기열에 넣고 결과 채널을 반환한다.
func (c *Coordinator) Enqueue(ctx context.Context, p *models.OnlinePlayer) (*MatchFound, <-chan *MatchFound, error) {
	if room, err := c.rooms.RoomFor(p.ID); err == nil && room.State() != models.GameStateCompleted {
		return nil, nil, game.ErrAlreadyInGame
	}

	c.mu.Lock()
	if _, exists := c.pending[p.ID]; exists {
		c.mu.Unlock()
		return nil, nil, ErrAlreadyQueued
	}
	c.mu.Unlock()

	ticket := &distributed.Ticket{
		TicketID:   uuid.New().String(),
		PlayerID:   p.ID,
		Rating:     p.Rating,
		Difficulty: string(p.Difficulty),
		TimeLimit:  p.TimeLimit,
		EnqueuedAt: time.Now(),
	}

	bucket := distributed.BucketFor(p.Rating)

	// 즉시 매칭: 자기 버킷만 탐색하고, 성공 시 자신은 대기열에 들어가지 않는다
	if opp := c.findOpponent(ctx, ticket, []int{bucket}); opp != nil {
		mf, err := c.createMatch(ctx, ticket, opp, false)
		if err == nil {
			return mf, nil, nil
		}
		c.logger.Debug("Immediate match attempt aborted, falling back to queue",
			zap.String("playerId", p.ID),
			zap.Error(err))
	}

	// 대기열 등록 + 결과 채널
	search := &pendingSearch{ch: make(chan *MatchFound, 1)}

	c.mu.Lock()
	c.pending[p.ID] = search
	c.mu.Unlock()

	if err := c.queue.Add(ctx, ticket); err != nil {
		c.mu.Lock()
		delete(c.pending, p.ID)
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to enqueue player: %w", err)
	}

	// 단계적 확장: 짧은 지연 후 인접 버킷, 긴 지연 후 전체 버킷
	search.timers = []*time.Timer{
		time.AfterFunc(c.cfg.FirstRetryDelay, func() {
			c.retrySearch(p.ID, distributed.AdjacentBuckets(bucket))
		}),
		time.AfterFunc(c.cfg.SecondRetryDelay, func() {
			c.retrySearch(p.ID, distributed.AllBuckets())
		}),
	}

	c.logger.Info("Player queued for matchmaking",
		zap.String("playerId", p.ID),
		zap.Int("rating", p.Rating),
		zap.Int("bucket", bucket))

	return nil, search.ch, nil
}

// retrySearch 지연 재시도. 여전히 대기 중일 때만 확장 탐색한다.
func (c *Coordinator) retrySearch(playerID string, buckets []int) {
	c.mu.Lock()
	_, waiting := c.pending[playerID]
	c.mu.Unlock()
	if !waiting {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ticket, err := c.queue.Ticket(ctx, playerID)
	if err != nil || ticket == nil {
		return // 만료 또는 이미 제거됨
	}

	opp := c.findOpponent(ctx, ticket, buckets)
	if opp == nil {
		return
	}

	if _, err := c.createMatch(ctx, ticket, opp, true); err != nil {
		c.logger.Debug("Staged match attempt aborted",
			zap.String("playerId", playerID),
			zap.Error(err))
	}
}

// findOpponent 버킷들에서 호환 가능한 최적 상대 선택.
// 레이팅 차 최소, 동률이면 먼저 줄 선 쪽.
func (c *Coordinator) findOpponent(ctx context.Context, self *distributed.Ticket, buckets []int) *distributed.Ticket {
	candidates, err := c.queue.Candidates(ctx, self.Difficulty, self.TimeLimit, buckets, self.PlayerID)
	if err != nil {
		c.logger.Error("Failed to scan queue candidates", zap.Error(err))
		return nil
	}

	var best *distributed.Ticket
	for i := range candidates {
		cand := &candidates[i]

		// 이 인스턴스에서 유효한 상대만 (접속 중이고 게임 중이 아님)
		inGame, err := c.registry.IsInGame(cand.PlayerID)
		if err != nil || inGame {
			continue
		}

		if best == nil {
			best = cand
			continue
		}

		bd := absDiff(best.Rating, self.Rating)
		cd := absDiff(cand.Rating, self.Rating)
		if cd < bd || (cd == bd && cand.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = cand
		}
	}

	return best
}

// createMatch 검증된 쌍에 대해 정확히 한 번 매치 생성.
// 쌍 락 획득 -> 재검증 -> busy 표시 -> 대기열/메타데이터 제거 -> 방 생성 -> 통지 순서.
func (c *Coordinator) createMatch(ctx context.Context, self, opp *distributed.Ticket, selfQueued bool) (*MatchFound, error) {
	lockKey := pairLockKey(self.PlayerID, opp.PlayerID)

	lock, err := c.locks.Acquire(ctx, lockKey, c.instanceID, 5*time.Second)
	if err == distributed.ErrLockNotAcquired {
		// 반대편 탐색이 이미 같은 쌍을 처리 중
		return nil, ErrDuplicateMatchAttempt
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pair lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && err != distributed.ErrLockNotHeld {
			c.logger.Error("Failed to release pair lock", zap.Error(err))
		}
	}()

	// 락 획득 후 상대가 여전히 유효한지 재검증
	cur, err := c.queue.Ticket(ctx, opp.PlayerID)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.TicketID != opp.TicketID {
		return nil, ErrDuplicateMatchAttempt
	}

	p1, err := c.registry.ByID(self.PlayerID)
	if err != nil {
		return nil, ErrDuplicateMatchAttempt
	}
	inGame, err := c.registry.IsInGame(opp.PlayerID)
	if err != nil || inGame {
		return nil, ErrDuplicateMatchAttempt
	}
	p2, err := c.registry.ByID(opp.PlayerID)
	if err != nil {
		return nil, ErrDuplicateMatchAttempt
	}

	// busy 표시 후 통지 이전에 모든 대기열 흔적 제거
	c.registry.SetInGame(p1.ID, true)
	c.registry.SetInGame(p2.ID, true)

	if selfQueued {
		if err := c.queue.Remove(ctx, self.PlayerID, self.Difficulty, self.TimeLimit); err != nil {
			c.logger.Error("Failed to remove player from queue", zap.Error(err))
		}
	}
	if err := c.queue.Remove(ctx, opp.PlayerID, opp.Difficulty, opp.TimeLimit); err != nil {
		c.logger.Error("Failed to remove opponent from queue", zap.Error(err))
	}

	room := game.NewRoom(p1, p2, c.selector, c.recorder, game.Settings{
		QuestionsPerGame: c.cfg.QuestionsPerGame,
	}, c.logger)

	if err := c.rooms.CreateRoom(room); err != nil {
		c.registry.SetInGame(p1.ID, false)
		c.registry.SetInGame(p2.ID, false)
		// 이미 제거한 대기열 엔트리를 복원해 탐색이 이어지게 한다
		c.requeue(ctx, cur)
		if selfQueued {
			c.requeue(ctx, self)
		}
		return nil, err
	}

	c.logger.Info("Match created",
		zap.String("roomId", room.ID),
		zap.String("player1", p1.ID),
		zap.String("player2", p2.ID),
		zap.Int("ratingDiff", absDiff(p1.Rating, p2.Rating)))

	mf := &MatchFound{Room: room}

	// 각 대기자의 채널로 정확히 한 번 전달하고 엔트리를 폐기한다
	c.deliver(self.PlayerID, mf)
	c.deliver(opp.PlayerID, mf)

	return mf, nil
}

// requeue 매치 생성 실패 시 대기열 엔트리 복원.
// 복원마저 실패하면 대기 채널을 닫아 클라이언트가 고아 대기에 빠지지 않게 한다.
func (c *Coordinator) requeue(ctx context.Context, t *distributed.Ticket) {
	if err := c.queue.Add(ctx, t); err != nil {
		c.logger.Error("Failed to restore queue entry",
			zap.String("playerId", t.PlayerID),
			zap.Error(err))
		c.abandon(t.PlayerID)
	}
}

// abandon 대기 탐색 폐기. 타이머를 멈추고 채널을 닫는다.
func (c *Coordinator) abandon(playerID string) {
	c.mu.Lock()
	search, ok := c.pending[playerID]
	if ok {
		delete(c.pending, playerID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	for _, t := range search.timers {
		t.Stop()
	}
	close(search.ch)
}

// deliver 대기 채널로 결과 전달 (등록돼 있을 때만)
func (c *Coordinator) deliver(playerID string, mf *MatchFound) {
	c.mu.Lock()
	search, ok := c.pending[playerID]
	if ok {
		delete(c.pending, playerID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	for _, t := range search.timers {
		t.Stop()
	}
	search.ch <- mf
	close(search.ch)
}

// Cancel 탐색 취소. 대기 중이 아니면 아무 일도 하지 않는다.
func (c *Coordinator) Cancel(ctx context.Context, playerID string) error {
	c.abandon(playerID)

	ticket, err := c.queue.Ticket(ctx, playerID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return nil
	}

	if err := c.queue.Remove(ctx, playerID, ticket.Difficulty, ticket.TimeLimit); err != nil {
		return fmt.Errorf("failed to cancel search: %w", err)
	}

	c.logger.Info("Search cancelled", zap.String("playerId", playerID))
	return nil
}

// OnDisconnect 연결 종료 시 대기열 정리. Cancel과 동일하게 멱등하다.
func (c *Coordinator) OnDisconnect(ctx context.Context, playerID string) {
	if err := c.Cancel(ctx, playerID); err != nil {
		c.logger.Error("Failed to clean up queue on disconnect",
			zap.String("playerId", playerID),
			zap.Error(err))
	}
}

// QueueStatus 대기열 현황
type QueueStatus struct {
	TotalInQueue    int     `json:"totalInQueue"`
	AverageWaitSecs float64 `json:"averageWaitTime"`
}

// Status 전체 조합의 대기 현황과 평균 대기 시간
func (c *Coordinator) Status(ctx context.Context) (*QueueStatus, error) {
	status := &QueueStatus{}
	now := time.Now()
	var totalWait time.Duration

	for _, d := range c.cfg.Difficulties {
		for _, tl := range c.cfg.TimeLimits {
			tickets, err := c.queue.Candidates(ctx, d, tl, distributed.AllBuckets(), "")
			if err != nil {
				return nil, err
			}
			status.TotalInQueue += len(tickets)
			for _, t := range tickets {
				totalWait += now.Sub(t.EnqueuedAt)
			}
		}
	}

	if status.TotalInQueue > 0 {
		status.AverageWaitSecs = totalWait.Seconds() / float64(status.TotalInQueue)
	}
	return status, nil
}

func pairLockKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return fmt.Sprintf("mm:pairlock:%s:%s", ids[0], ids[1])
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
