package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/internal/question"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingRecorder 영속화 호출 횟수 추적용
type recordingRecorder struct {
	mu      sync.Mutex
	saved   []*models.MatchRecord
	deltas  map[string]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{deltas: make(map[string]int)}
}

func (r *recordingRecorder) SaveMatch(ctx context.Context, record *models.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, record)
	return nil
}

func (r *recordingRecorder) ApplyRatingDelta(ctx context.Context, playerID string, difficulty models.Difficulty, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas[playerID] += delta
	return nil
}

func roomSelector() *question.Selector {
	s := question.NewSelector(zap.NewNop())
	var qs []models.Question
	for _, d := range []string{"easy", "medium", "hard"} {
		for lvl := 1; lvl <= 10; lvl++ {
			for i := 0; i < 3; i++ {
				qs = append(qs, models.Question{
					Prompt:     fmt.Sprintf("%d + %d", lvl, i),
					Answer:     fmt.Sprintf("%d", lvl+i),
					Difficulty: models.Difficulty(d),
					Level:      lvl,
				})
			}
		}
	}
	s.Load(qs)
	return s
}

func testPlayers() (*models.OnlinePlayer, *models.OnlinePlayer) {
	p1 := &models.OnlinePlayer{
		ID: "alice", ConnID: "conn-alice", Username: "alice",
		Rating: 1000, Difficulty: models.DifficultyMedium, TimeLimit: 60,
	}
	p2 := &models.OnlinePlayer{
		ID: "bob", ConnID: "conn-bob", Username: "bob",
		Rating: 1300, Difficulty: models.DifficultyHard, TimeLimit: 60,
	}
	return p1, p2
}

func startedRoom(t *testing.T, recorder Recorder) *Room {
	t.Helper()
	p1, p2 := testPlayers()
	room := NewRoom(p1, p2, roomSelector(), recorder, Settings{QuestionsPerGame: 3}, zap.NewNop())
	room.Start()
	require.Equal(t, models.GameStateActive, room.State())
	return room
}

func TestNewRoom_DifficultyFollowsLowerRated(t *testing.T) {
	p1, p2 := testPlayers()

	// alice(1000, medium)가 낮은 쪽이므로 방 난이도는 medium
	room := NewRoom(p1, p2, roomSelector(), nil, Settings{QuestionsPerGame: 3}, zap.NewNop())
	assert.Equal(t, models.DifficultyMedium, room.Public().Difficulty)

	// 초기 미터는 낮은 레이팅(1000) 기준 5
	assert.Equal(t, 5, room.Meter())
}

func TestRoom_QuestionSharedPerIndex(t *testing.T) {
	room := startedRoom(t, nil)

	// 같은 인덱스에서는 먼저 도달한 쪽이 생성한 문제를 양쪽이 공유한다
	q1, ok, err := room.NextQuestion("alice")
	require.NoError(t, err)
	require.True(t, ok)

	q2, ok, err := room.NextQuestion("bob")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, q1, q2)
}

func TestRoom_NextQuestionBeforeStart(t *testing.T) {
	p1, p2 := testPlayers()
	room := NewRoom(p1, p2, roomSelector(), nil, Settings{QuestionsPerGame: 3}, zap.NewNop())

	_, _, err := room.NextQuestion("alice")
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestRoom_QuestionsExhausted(t *testing.T) {
	room := startedRoom(t, nil)

	for i := 0; i < 3; i++ {
		_, ok, err := room.NextQuestion("alice")
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, ok, err := room.NextQuestion("alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// bob은 아직 소진하지 않았다
	assert.False(t, room.Exhausted())
}

func TestRoom_SubmitAnswer_StreakScoring(t *testing.T) {
	room := startedRoom(t, nil)
	room.settings.QuestionsPerGame = 10

	// 연속 정답 5번: 가산점 1,1,3,1,5 -> 누적 11
	expected := []int{1, 2, 5, 6, 11}
	for i := 0; i < 5; i++ {
		q, ok, err := room.NextQuestion("alice")
		require.NoError(t, err)
		require.True(t, ok)

		res, err := room.SubmitAnswer("alice", q.Answer, 1000)
		require.NoError(t, err)
		assert.True(t, res.Correct)
		assert.Equal(t, expected[i], res.Score.Score, "question %d", i)
		assert.Equal(t, i+1, res.Score.Streak)
	}
}

func TestRoom_SubmitAnswer_WrongResetsStreak(t *testing.T) {
	room := startedRoom(t, nil)

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)

	res, err := room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)
	require.Equal(t, 1, res.Score.Streak)

	_, _, err = room.NextQuestion("alice")
	require.NoError(t, err)

	res, err = room.SubmitAnswer("alice", "definitely wrong", 500)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, 0, res.Score.Streak)
	assert.Equal(t, 1, res.Score.MaxStreak)
	assert.Equal(t, 1, res.Score.Score)
}

func TestRoom_SubmitAnswer_DuplicateRejected(t *testing.T) {
	room := startedRoom(t, nil)

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)

	_, err = room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)

	_, err = room.SubmitAnswer("alice", q.Answer, 500)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
}

func TestRoom_SubmitAnswer_WithoutQuestion(t *testing.T) {
	room := startedRoom(t, nil)

	_, err := room.SubmitAnswer("alice", "4", 500)
	assert.ErrorIs(t, err, ErrNoQuestionDrawn)
}

func TestRoom_MeterMovesOnFirstAnswerOnly(t *testing.T) {
	room := startedRoom(t, nil)
	before := room.Meter()

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)
	_, _, err = room.NextQuestion("bob")
	require.NoError(t, err)

	res1, err := room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)
	assert.True(t, res1.FirstToAnswer)
	afterFirst := room.Meter()
	assert.NotEqual(t, before, afterFirst)

	// 같은 인덱스의 두 번째 응답은 미터를 움직이지 않는다
	res2, err := room.SubmitAnswer("bob", "wrong", 700)
	require.NoError(t, err)
	assert.False(t, res2.FirstToAnswer)
	assert.Equal(t, afterFirst, room.Meter())
}

func TestRoom_MeterFloorsAtZero(t *testing.T) {
	room := startedRoom(t, nil)
	room.settings.QuestionsPerGame = 20

	// 오답을 반복해도 미터는 0 아래로 내려가지 않는다
	for i := 0; i < 10; i++ {
		_, ok, err := room.NextQuestion("alice")
		require.NoError(t, err)
		require.True(t, ok)

		_, err = room.SubmitAnswer("alice", "wrong", 100)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, room.Meter(), 0)
}

func TestRoom_EndGame_WinnerByScore(t *testing.T) {
	rec := newRecordingRecorder()
	room := startedRoom(t, rec)

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)
	_, _, err = room.NextQuestion("bob")
	require.NoError(t, err)

	_, err = room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)
	_, err = room.SubmitAnswer("bob", "wrong", 700)
	require.NoError(t, err)

	results, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)

	assert.Equal(t, "alice", results.WinnerID)
	assert.Equal(t, models.EndReasonNormal, results.EndReason)

	for _, pr := range results.Players {
		if pr.PlayerID == "alice" {
			assert.True(t, pr.Won)
			assert.Equal(t, 5, pr.RatingChange)
		} else {
			assert.False(t, pr.Won)
			assert.Equal(t, -5, pr.RatingChange)
		}
	}

	// 영속화는 정확히 한 번
	require.Len(t, rec.saved, 1)
	assert.Equal(t, 5, rec.deltas["alice"])
	assert.Equal(t, -5, rec.deltas["bob"])
}

func TestRoom_EndGame_TieBrokenByTime(t *testing.T) {
	room := startedRoom(t, nil)

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)
	_, _, err = room.NextQuestion("bob")
	require.NoError(t, err)

	// 동점이지만 alice가 더 빨랐다
	_, err = room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)
	_, err = room.SubmitAnswer("bob", q.Answer, 900)
	require.NoError(t, err)

	results, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)
	assert.Equal(t, "alice", results.WinnerID)
}

func TestRoom_EndGame_CompleteTieIsDraw(t *testing.T) {
	rec := newRecordingRecorder()
	room := startedRoom(t, rec)

	results, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)

	assert.Empty(t, results.WinnerID)
	for _, pr := range results.Players {
		assert.False(t, pr.Won)
		assert.Equal(t, 0, pr.RatingChange)
	}

	// 무승부는 레이팅 변동이 없다
	assert.Empty(t, rec.deltas)
}

func TestRoom_EndGame_Idempotent(t *testing.T) {
	rec := newRecordingRecorder()
	room := startedRoom(t, rec)

	_, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)

	_, err = room.EndGame(models.EndReasonNormal)
	assert.Error(t, err)

	require.Len(t, rec.saved, 1)
}

func TestRoom_Disconnect(t *testing.T) {
	rec := newRecordingRecorder()
	room := startedRoom(t, rec)

	results, err := room.HandleDisconnect("alice")
	require.NoError(t, err)

	// 이탈자는 항상 패배: -10, 잔류자 +5
	assert.Equal(t, "bob", results.WinnerID)
	assert.Equal(t, models.EndReasonDisconnect, results.EndReason)

	for _, pr := range results.Players {
		if pr.PlayerID == "alice" {
			assert.Equal(t, -10, pr.RatingChange)
		} else {
			assert.Equal(t, 5, pr.RatingChange)
		}
	}
}

func TestRoom_DisconnectAfterCompletionIgnored(t *testing.T) {
	rec := newRecordingRecorder()
	room := startedRoom(t, rec)

	_, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)

	_, err = room.HandleDisconnect("alice")
	assert.Error(t, err)
	require.Len(t, rec.saved, 1)
}

func TestRoom_ExpireCallback(t *testing.T) {
	p1, p2 := testPlayers()
	p1.TimeLimit = 1 // 1초 게임

	room := NewRoom(p1, p2, roomSelector(), nil, Settings{QuestionsPerGame: 3}, zap.NewNop())

	done := make(chan *models.GameResults, 1)
	room.SetExpireCallback(func(_ *Room, results *models.GameResults) {
		done <- results
	})
	room.Start()

	select {
	case results := <-done:
		assert.Equal(t, models.EndReasonNormal, results.EndReason)
		assert.Equal(t, models.GameStateCompleted, room.State())
	case <-time.After(3 * time.Second):
		t.Fatal("expected game timer to expire the room")
	}
}

func TestRoom_Snapshot(t *testing.T) {
	room := startedRoom(t, nil)

	q, _, err := room.NextQuestion("alice")
	require.NoError(t, err)
	_, err = room.SubmitAnswer("alice", q.Answer, 500)
	require.NoError(t, err)

	snap := room.Snapshot()
	assert.Equal(t, models.GameStateActive, snap.State)
	assert.Equal(t, 1, snap.Progress["alice"])
	assert.Equal(t, 0, snap.Progress["bob"])
	assert.Equal(t, 1, snap.Scores["alice"].CorrectAnswers)
	assert.Greater(t, snap.TimeRemaining, int64(0))
}

func TestRoom_StartTransitionsExactlyOnce(t *testing.T) {
	p1, p2 := testPlayers()
	room := NewRoom(p1, p2, roomSelector(), nil, Settings{QuestionsPerGame: 3}, zap.NewNop())

	// 양쪽 매치 통지 경로가 각자 시작을 시도해도 전이는 한 번만 일어난다
	assert.True(t, room.Start())
	assert.False(t, room.Start())
	assert.Equal(t, models.GameStateActive, room.State())

	_, err := room.EndGame(models.EndReasonNormal)
	require.NoError(t, err)
	assert.False(t, room.Start())
}

func TestRoom_PlayersSnapshottedAtCreation(t *testing.T) {
	p1, p2 := testPlayers()
	room := NewRoom(p1, p2, roomSelector(), nil, Settings{QuestionsPerGame: 3}, zap.NewNop())

	// 재접속 등으로 원본 레코드가 바뀌어도 방이 보는 값은 생성 시점에 고정된다
	p1.ConnID = "conn-alice-2"
	p1.Rating = 2500
	p1.Difficulty = models.DifficultyHard

	got := room.Players()[0]
	assert.Equal(t, "conn-alice", got.ConnID)
	assert.Equal(t, 1000, got.Rating)
	assert.Equal(t, models.DifficultyMedium, got.Difficulty)
}
