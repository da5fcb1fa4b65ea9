package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/mathduel/mathduel-backend/pkg/database"
)

type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Save 완료된 매치 기록 저장
func (r *MatchRepository) Save(ctx context.Context, record *models.MatchRecord) error {
	query := `
		INSERT INTO matches (id, player1_id, player2_id, player1_score, player2_score,
		                     winner_id, difficulty, end_reason, duration_seconds, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Player1ID,
		record.Player2ID,
		record.Player1Score,
		record.Player2Score,
		record.WinnerID,
		record.Difficulty,
		record.EndReason,
		record.Duration,
		record.PlayedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}

	return nil
}

// FindByID ID로 매치 찾기
func (r *MatchRepository) FindByID(ctx context.Context, id string) (*models.MatchRecord, error) {
	query := `
		SELECT id, player1_id, player2_id, player1_score, player2_score,
		       winner_id, difficulty, end_reason, duration_seconds, played_at
		FROM matches
		WHERE id = $1
	`

	record := &models.MatchRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.Player1ID,
		&record.Player2ID,
		&record.Player1Score,
		&record.Player2Score,
		&record.WinnerID,
		&record.Difficulty,
		&record.EndReason,
		&record.Duration,
		&record.PlayedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}

	return record, nil
}

// FindByPlayerID 플레이어의 최근 매치 목록
func (r *MatchRepository) FindByPlayerID(ctx context.Context, playerID string, limit, offset int) ([]*models.MatchRecord, error) {
	query := `
		SELECT id, player1_id, player2_id, player1_score, player2_score,
		       winner_id, difficulty, end_reason, duration_seconds, played_at
		FROM matches
		WHERE player1_id = $1 OR player2_id = $1
		ORDER BY played_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, playerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var records []*models.MatchRecord
	for rows.Next() {
		record := &models.MatchRecord{}
		err := rows.Scan(
			&record.ID,
			&record.Player1ID,
			&record.Player2ID,
			&record.Player1Score,
			&record.Player2Score,
			&record.WinnerID,
			&record.Difficulty,
			&record.EndReason,
			&record.Duration,
			&record.PlayedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}
