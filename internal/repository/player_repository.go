package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mathduel/mathduel-backend/pkg/database"
)

const defaultRating = 1200

type PlayerRepository struct {
	db *database.DB
}

func NewPlayerRepository(db *database.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// GetRating 난이도별 레이팅 조회. 기록이 없으면 기본값을 반환한다.
func (r *PlayerRepository) GetRating(ctx context.Context, playerID, difficulty string) (int, error) {
	query := `
		SELECT rating
		FROM player_ratings
		WHERE player_id = $1 AND difficulty = $2
	`

	var rating int
	err := r.db.QueryRowContext(ctx, query, playerID, difficulty).Scan(&rating)

	if err == sql.ErrNoRows {
		return defaultRating, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to get rating: %w", err)
	}

	return rating, nil
}

// ApplyRatingDelta 난이도별 레이팅 증감. 기록이 없으면 기본값에서 시작한다.
func (r *PlayerRepository) ApplyRatingDelta(ctx context.Context, playerID, difficulty string, delta int) error {
	query := `
		INSERT INTO player_ratings (player_id, difficulty, rating, updated_at)
		VALUES ($1, $2, $3 + $4, NOW())
		ON CONFLICT (player_id, difficulty)
		DO UPDATE SET rating = GREATEST(0, player_ratings.rating + $4),
		              updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, playerID, difficulty, defaultRating, delta)
	if err != nil {
		return fmt.Errorf("failed to apply rating delta: %w", err)
	}

	return nil
}

// Leaderboard 난이도별 상위 레이팅 목록
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Rating   int    `json:"rating"`
}

// TopRatings 난이도별 상위 N명
func (r *PlayerRepository) TopRatings(ctx context.Context, difficulty string, limit int) ([]LeaderboardEntry, error) {
	query := `
		SELECT player_id, rating
		FROM player_ratings
		WHERE difficulty = $1
		ORDER BY rating DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, difficulty, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}
