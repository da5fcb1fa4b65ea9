package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/internal/question"
	"go.uber.org/zap"
)

// Recorder 완료 매치 영속화와 레이팅 반영을 맡는 외부 협력자.
// 실패는 기록만 하고 방 해체를 막지 않는다.
type Recorder interface {
	SaveMatch(ctx context.Context, record *models.MatchRecord) error
	ApplyRatingDelta(ctx context.Context, playerID string, difficulty models.Difficulty, delta int) error
}

// Settings 방 단위 게임 설정
type Settings struct {
	QuestionsPerGame int
}

// AnswerResult submitAnswer 결과
type AnswerResult struct {
	Correct       bool               `json:"correct"`
	TimeSpent     int64              `json:"timeSpent"`
	Score         models.ScoreRecord `json:"score"`
	FirstToAnswer bool               `json:"firstToAnswer"`
	QuestionMeter int                `json:"questionMeter"`
}

// StateSnapshot request-current-state 응답용 상태
type StateSnapshot struct {
	GameID        string                        `json:"gameId"`
	State         models.GameState              `json:"state"`
	Progress      map[string]int                `json:"playerProgress"`
	Scores        map[string]models.ScoreRecord `json:"playerScores"`
	QuestionMeter int                           `json:"questionMeter"`
	TimeRemaining int64                         `json:"timeRemainingMs"`
}

// Room 2인 매치의 상태 기계. waiting -> active -> completed.
// 모든 변경은 자체 뮤텍스 아래에서만 일어난다.
type Room struct {
	ID string

	mu        sync.Mutex
	players   [2]*models.OnlinePlayer
	selector  *question.Selector
	recorder  Recorder
	logger    *zap.Logger
	settings  Settings

	state      models.GameState
	createdAt  time.Time
	startedAt  time.Time
	difficulty models.Difficulty
	timeLimit  int // 총 게임 시간 (초)
	tags       []string

	questions     []models.Question // 양쪽이 공유하는 append-only 목록
	progress      map[string]int    // playerID -> 다음 문제 인덱스
	answered      map[int]map[string]bool
	meterMoved    map[int]bool // 인덱스별 미터 반영 여부 (최초 응답만)
	scores        map[string]*models.ScoreRecord
	meter         int

	disconnectedID string
	disconnectedAt time.Time

	gameTimer *time.Timer
	onExpire  func(*Room, *models.GameResults)
	results   *models.GameResults
}

// NewRoom 방 생성. ID는 참가자 ID와 생성 시각에서 파생된다.
// 참가자 레코드는 생성 시점 값의 사본으로 고정된다. 레지스트리가 재접속으로
// 원본을 교체해도 진행 중인 게임의 레이팅/난이도는 변하지 않는다.
func NewRoom(p1, p2 *models.OnlinePlayer, selector *question.Selector, recorder Recorder, settings Settings, logger *zap.Logger) *Room {
	now := time.Now()

	c1, c2 := *p1, *p2
	p1, p2 = &c1, &c2

	// 높은 쪽 레이팅 플레이어의 난이도 대신 낮은 쪽 선호를 따른다
	difficulty := p1.Difficulty
	if p1.Rating > p2.Rating {
		difficulty = p2.Difficulty
	}

	var tags []string
	if len(p1.Tags) > 0 {
		tags = p1.Tags
	} else {
		tags = p2.Tags
	}

	r := &Room{
		ID:         fmt.Sprintf("%s_%s_%d", p1.ID, p2.ID, now.UnixMilli()),
		players:    [2]*models.OnlinePlayer{p1, p2},
		selector:   selector,
		recorder:   recorder,
		logger:     logger,
		settings:   settings,
		state:      models.GameStateWaiting,
		createdAt:  now,
		difficulty: difficulty,
		timeLimit:  p1.TimeLimit,
		tags:       tags,
		progress:   map[string]int{p1.ID: 0, p2.ID: 0},
		answered:   make(map[int]map[string]bool),
		meterMoved: make(map[int]bool),
		scores: map[string]*models.ScoreRecord{
			p1.ID: {},
			p2.ID: {},
		},
		meter: question.InitialMeter(p1.Rating, p2.Rating),
	}

	return r
}

// SetExpireCallback 총 시간 만료로 자체 종료될 때 호출될 훅 등록
func (r *Room) SetExpireCallback(fn func(*Room, *models.GameResults)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// Start waiting -> active 전이. 총 시간 타이머를 건다.
// 이 호출이 실제로 전이를 수행했을 때만 true를 반환한다.
func (r *Room) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != models.GameStateWaiting {
		return false
	}

	r.state = models.GameStateActive
	r.startedAt = time.Now()

	duration := time.Duration(r.timeLimit) * time.Second
	r.gameTimer = time.AfterFunc(duration, r.expire)

	r.logger.Info("Game started",
		zap.String("roomId", r.ID),
		zap.Int("timeLimit", r.timeLimit),
		zap.Int("initialMeter", r.meter))
	return true
}

// expire 총 시간 만료 처리
func (r *Room) expire() {
	results, err := r.EndGame(models.EndReasonNormal)
	if err != nil {
		return // 이미 종료됨
	}

	r.mu.Lock()
	fn := r.onExpire
	r.mu.Unlock()

	if fn != nil {
		fn(r, results)
	}
}

// NextQuestion 해당 플레이어의 다음 문제 반환.
// 인덱스 k의 문제는 먼저 도달한 쪽이 생성하며 이후 양쪽 모두 같은 문제를 본다.
// 문제 수를 소진했으면 ok=false.
func (r *Room) NextQuestion(playerID string) (models.Question, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != models.GameStateActive {
		return models.Question{}, false, ErrGameNotActive
	}

	idx, ok := r.progress[playerID]
	if !ok {
		return models.Question{}, false, ErrRoomNotFound
	}
	if idx >= r.settings.QuestionsPerGame {
		return models.Question{}, false, nil
	}

	if len(r.questions) <= idx {
		lower := r.players[0].Rating
		if r.players[1].Rating < lower {
			lower = r.players[1].Rating
		}

		level := r.selector.ResolveLevel(lower, r.difficulty, r.meter)
		q, err := r.selector.Draw(r.difficulty, level, r.tags)
		if err != nil {
			return models.Question{}, false, err
		}

		r.questions = append(r.questions, q)
		r.answered[idx] = make(map[string]bool)

		r.logger.Debug("Question generated",
			zap.String("roomId", r.ID),
			zap.Int("index", idx),
			zap.Int("meter", r.meter),
			zap.Int("level", q.Level))
	}

	r.progress[playerID] = idx + 1
	return r.questions[idx], true, nil
}

// SubmitAnswer 현재 인덱스의 답안 처리. 연속 정답 보너스와
// (전체 첫 응답인 경우) 미터 갱신까지 수행한다.
func (r *Room) SubmitAnswer(playerID, answer string, timeSpent int64) (*AnswerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != models.GameStateActive {
		return nil, ErrGameNotActive
	}

	idx := r.progress[playerID] - 1
	if idx < 0 || idx >= len(r.questions) {
		return nil, ErrNoQuestionDrawn
	}

	answers := r.answered[idx]
	if answers[playerID] {
		return nil, ErrAlreadyAnswered
	}
	answers[playerID] = true

	q := r.questions[idx]
	correct := question.CheckAnswer(q, answer)

	score := r.scores[playerID]
	score.QuestionsAnswered++
	score.TotalTime += timeSpent

	if correct {
		score.CorrectAnswers++
		score.Streak++
		if score.Streak > score.MaxStreak {
			score.MaxStreak = score.Streak
		}
		score.Score += question.ScoreIncrement(score.Streak)
	} else {
		score.Streak = 0
	}

	// 해당 인덱스 전체 첫 응답만 미터를 움직인다
	first := !r.meterMoved[idx]
	if first {
		r.meterMoved[idx] = true

		var rating int
		for _, p := range r.players {
			if p.ID == playerID {
				rating = p.Rating
			}
		}

		delta := question.MeterDelta(correct, rating, q.Level)
		r.meter += delta
		if r.meter < 0 {
			r.meter = 0
		}
	}

	return &AnswerResult{
		Correct:       correct,
		TimeSpent:     timeSpent,
		Score:         *score,
		FirstToAnswer: first,
		QuestionMeter: r.meter,
	}, nil
}

// Exhausted 양쪽 모두 문제 수를 소진했는지
func (r *Room) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.players {
		if r.progress[p.ID] < r.settings.QuestionsPerGame {
			return false
		}
	}
	return true
}

// HandleDisconnect 이탈 처리. 이탈자는 패배하고 게임이 종료된다.
func (r *Room) HandleDisconnect(playerID string) (*models.GameResults, error) {
	r.mu.Lock()
	if r.state != models.GameStateCompleted {
		r.disconnectedID = playerID
		r.disconnectedAt = time.Now()
	}
	r.mu.Unlock()

	return r.EndGame(models.EndReasonDisconnect)
}

// EndGame 게임 종료와 결과 산출. completed 상태 재진입은 무시된다 (정확히 한 번 영속화).
func (r *Room) EndGame(reason models.EndReason) (*models.GameResults, error) {
	r.mu.Lock()

	if r.state == models.GameStateCompleted {
		results := r.results
		r.mu.Unlock()
		if results != nil {
			return results, fmt.Errorf("game already completed")
		}
		return nil, fmt.Errorf("game already completed")
	}

	r.state = models.GameStateCompleted
	if r.gameTimer != nil {
		r.gameTimer.Stop()
	}

	results := r.buildResults(reason)
	r.results = results
	r.mu.Unlock()

	r.persist(results)
	return results, nil
}

// buildResults 승자 결정과 레이팅 변동 계산 (뮤텍스 보유 상태에서 호출)
func (r *Room) buildResults(reason models.EndReason) *models.GameResults {
	p1, p2 := r.players[0], r.players[1]
	s1, s2 := r.scores[p1.ID], r.scores[p2.ID]

	var winnerID string
	switch {
	case reason == models.EndReasonDisconnect && r.disconnectedID != "":
		// 이탈자는 항상 패배
		if r.disconnectedID == p1.ID {
			winnerID = p2.ID
		} else {
			winnerID = p1.ID
		}
	case s1.Score != s2.Score:
		if s1.Score > s2.Score {
			winnerID = p1.ID
		} else {
			winnerID = p2.ID
		}
	case s1.TotalTime != s2.TotalTime:
		// 동점은 소요 시간이 적은 쪽이 승리
		if s1.TotalTime < s2.TotalTime {
			winnerID = p1.ID
		} else {
			winnerID = p2.ID
		}
	}

	results := &models.GameResults{
		GameID:     r.ID,
		WinnerID:   winnerID,
		Duration:   time.Since(r.createdAt),
		EndReason:  reason,
		FinalMeter: r.meter,
	}

	for _, p := range r.players {
		s := r.scores[p.ID]
		delta := r.ratingDelta(p.ID, winnerID, reason)

		results.Players = append(results.Players, models.PlayerResult{
			PlayerID:      p.ID,
			Username:      p.Username,
			CurrentRating: p.Rating,
			FinalScore:    s.Score,
			TotalTime:     s.TotalTime,
			MaxStreak:     s.MaxStreak,
			Won:           p.ID == winnerID,
			RatingChange:  delta,
			NewRating:     p.Rating + delta,
		})
	}

	return results
}

// ratingDelta 종료 사유별 고정 레이팅 변동.
// 정상 종료는 ±5, 이탈 종료는 이탈자 -10 / 잔류자 +5.
func (r *Room) ratingDelta(playerID, winnerID string, reason models.EndReason) int {
	if reason == models.EndReasonDisconnect && r.disconnectedID != "" {
		if playerID == r.disconnectedID {
			return -10
		}
		return 5
	}

	if winnerID == "" {
		return 0 // 완전 동률
	}
	if playerID == winnerID {
		return 5
	}
	return -5
}

// persist 결과 영속화. 실패해도 방 해체를 막지 않는다.
func (r *Room) persist(results *models.GameResults) {
	if r.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p1, p2 := results.Players[0], results.Players[1]

	record := &models.MatchRecord{
		ID:           r.ID,
		Player1ID:    p1.PlayerID,
		Player2ID:    p2.PlayerID,
		Player1Score: p1.FinalScore,
		Player2Score: p2.FinalScore,
		Difficulty:   r.difficulty,
		EndReason:    results.EndReason,
		Duration:     int64(results.Duration.Seconds()),
		PlayedAt:     time.Now(),
	}
	if results.WinnerID != "" {
		w := results.WinnerID
		record.WinnerID = &w
	}

	if err := r.recorder.SaveMatch(ctx, record); err != nil {
		r.logger.Error("Failed to persist match record",
			zap.String("roomId", r.ID),
			zap.Error(err))
	}

	for _, p := range results.Players {
		if p.RatingChange == 0 {
			continue
		}
		if err := r.recorder.ApplyRatingDelta(ctx, p.PlayerID, r.difficulty, p.RatingChange); err != nil {
			r.logger.Error("Failed to apply rating delta",
				zap.String("playerId", p.PlayerID),
				zap.Int("delta", p.RatingChange),
				zap.Error(err))
		}
	}
}

// State 현재 수명주기 상태
func (r *Room) State() models.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Meter 현재 문제 미터
func (r *Room) Meter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meter
}

// Age 생성 이후 경과 시간
func (r *Room) Age() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.createdAt)
}

// Players 참가자 목록
func (r *Room) Players() []*models.OnlinePlayer {
	return []*models.OnlinePlayer{r.players[0], r.players[1]}
}

// Opponent 상대 플레이어. 없으면 nil.
func (r *Room) Opponent(playerID string) *models.OnlinePlayer {
	for _, p := range r.players {
		if p.ID != playerID {
			return p
		}
	}
	return nil
}

// Results 종료 후 결과 (종료 전이면 nil)
func (r *Room) Results() *models.GameResults {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results
}

// Score 플레이어 득점 기록 사본
func (r *Room) Score(playerID string) (models.ScoreRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scores[playerID]
	if !ok {
		return models.ScoreRecord{}, false
	}
	return *s, true
}

// Snapshot 현재 상태 스냅샷
func (r *Room) Snapshot() StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := StateSnapshot{
		GameID:        r.ID,
		State:         r.state,
		Progress:      make(map[string]int, len(r.progress)),
		Scores:        make(map[string]models.ScoreRecord, len(r.scores)),
		QuestionMeter: r.meter,
	}
	for id, idx := range r.progress {
		snap.Progress[id] = idx
	}
	for id, s := range r.scores {
		snap.Scores[id] = *s
	}

	if r.state == models.GameStateActive {
		remaining := time.Duration(r.timeLimit)*time.Second - time.Since(r.startedAt)
		if remaining > 0 {
			snap.TimeRemaining = remaining.Milliseconds()
		}
	}

	return snap
}

// PublicData match-found 이벤트에 실리는 방 요약
type PublicData struct {
	ID            string                 `json:"id"`
	Players       []models.PlayerSummary `json:"players"`
	State         models.GameState       `json:"gameState"`
	QuestionMeter int                    `json:"questionMeter"`
	Difficulty    models.Difficulty      `json:"difficulty"`
	TimeLimit     int                    `json:"timeLimit"`
}

// Public 공개 요약 생성
func (r *Room) Public() PublicData {
	r.mu.Lock()
	defer r.mu.Unlock()

	return PublicData{
		ID:            r.ID,
		Players:       []models.PlayerSummary{r.players[0].Summary(), r.players[1].Summary()},
		State:         r.state,
		QuestionMeter: r.meter,
		Difficulty:    r.difficulty,
		TimeLimit:     r.timeLimit,
	}
}
