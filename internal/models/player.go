package models

import "time"

// Difficulty 문제 난이도 티어
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// OnlinePlayer 접속 중인 플레이어의 휘발성 상태
type OnlinePlayer struct {
	ID           string     `json:"id"`
	ConnID       string     `json:"-"` // 현재 연결 핸들
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	Rating       int        `json:"rating"`
	Difficulty   Difficulty `json:"difficulty"`
	TimeLimit    int        `json:"timeLimit"` // 초 단위
	Tags         []string   `json:"tags,omitempty"`
	InGame       bool       `json:"inGame"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LastActivity time.Time  `json:"-"`
}

// PlayerSummary match-found 등 이벤트에 실리는 공개 정보
type PlayerSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

// Summary 공개 정보 추출
func (p *OnlinePlayer) Summary() PlayerSummary {
	return PlayerSummary{
		ID:       p.ID,
		Username: p.Username,
		Rating:   p.Rating,
	}
}
