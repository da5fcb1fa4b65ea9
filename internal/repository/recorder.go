package repository

import (
	"context"

	"github.com/mathduel/mathduel-backend/internal/models"
)

// Recorder 매치 결과 영속화 어댑터. 게임 룸이 종료 시점에 호출한다.
type Recorder struct {
	matches *MatchRepository
	players *PlayerRepository
}

func NewRecorder(matches *MatchRepository, players *PlayerRepository) *Recorder {
	return &Recorder{matches: matches, players: players}
}

func (r *Recorder) SaveMatch(ctx context.Context, record *models.MatchRecord) error {
	return r.matches.Save(ctx, record)
}

func (r *Recorder) ApplyRatingDelta(ctx context.Context, playerID string, difficulty models.Difficulty, delta int) error {
	return r.players.ApplyRatingDelta(ctx, playerID, string(difficulty), delta)
}
