package models

import "time"

// GameState GameRoom 수명주기 상태
type GameState string

const (
	GameStateWaiting   GameState = "waiting"
	GameStateActive    GameState = "active"
	GameStateCompleted GameState = "completed"
)

// EndReason 게임 종료 사유
type EndReason string

const (
	EndReasonNormal     EndReason = "normal"
	EndReasonDisconnect EndReason = "opponent-disconnect"
	EndReasonStale      EndReason = "stale"
)

// ScoreRecord 플레이어별 득점 기록
type ScoreRecord struct {
	Score             int   `json:"score"`
	CorrectAnswers    int   `json:"correctAnswers"`
	TotalTime         int64 `json:"totalTime"` // 답변에 소모한 누적 밀리초
	Streak            int   `json:"streak"`
	MaxStreak         int   `json:"maxStreak"`
	QuestionsAnswered int   `json:"questionsAnswered"`
}

// PlayerResult 종료 시 플레이어별 결과
type PlayerResult struct {
	PlayerID      string `json:"playerId"`
	Username      string `json:"username"`
	CurrentRating int    `json:"currentRating"`
	FinalScore    int    `json:"finalScore"`
	TotalTime     int64  `json:"totalTime"`
	MaxStreak     int    `json:"maxStreak"`
	Won           bool   `json:"won"`
	RatingChange  int    `json:"ratingChange"`
	NewRating     int    `json:"newRating"`
}

// GameResults 게임 최종 결과
type GameResults struct {
	GameID     string         `json:"gameId"`
	WinnerID   string         `json:"winnerId"`
	Players    []PlayerResult `json:"players"`
	Duration   time.Duration  `json:"duration"`
	EndReason  EndReason      `json:"endReason"`
	FinalMeter int            `json:"finalQuestionMeter"`
}

// MatchRecord 영속화되는 완료 매치 레코드
type MatchRecord struct {
	ID           string     `db:"id" json:"id"`
	Player1ID    string     `db:"player1_id" json:"player1Id"`
	Player2ID    string     `db:"player2_id" json:"player2Id"`
	Player1Score int        `db:"player1_score" json:"player1Score"`
	Player2Score int        `db:"player2_score" json:"player2Score"`
	WinnerID     *string    `db:"winner_id" json:"winnerId,omitempty"`
	Difficulty   Difficulty `db:"difficulty" json:"difficulty"`
	EndReason    EndReason  `db:"end_reason" json:"endReason"`
	Duration     int64      `db:"duration_seconds" json:"durationSeconds"`
	PlayedAt     time.Time  `db:"played_at" json:"playedAt"`
}
