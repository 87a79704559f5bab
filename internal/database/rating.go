package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flotilla-gg/flotilla/internal/models"
	"github.com/flotilla-gg/flotilla/internal/rating"
)

// GetOrCreateRating loads a user's ladder row, seeding a fresh one at base
// elo for first-time players.
func GetOrCreateRating(ctx context.Context, userID uuid.UUID) (*models.RatingRecord, error) {
	var rec models.RatingRecord
	q := `
	SELECT user_id, elo, streak, highest_streak, games_played, wins, losses
	FROM ratings
	WHERE user_id = $1
	`
	err := DB.QueryRow(ctx, q, userID).Scan(
		&rec.UserID, &rec.Elo, &rec.Streak, &rec.HighestStreak,
		&rec.GamesPlayed, &rec.Wins, &rec.Losses,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rating.NewRecord(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rating for %s: %w", userID, err)
	}
	return &rec, nil
}

// UpsertRating writes the full ladder row after a settled match.
func UpsertRating(ctx context.Context, rec *models.RatingRecord) error {
	q := `
	INSERT INTO ratings (user_id, elo, streak, highest_streak, games_played, wins, losses)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		elo = EXCLUDED.elo,
		streak = EXCLUDED.streak,
		highest_streak = EXCLUDED.highest_streak,
		games_played = EXCLUDED.games_played,
		wins = EXCLUDED.wins,
		losses = EXCLUDED.losses
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			rec.UserID, rec.Elo, rec.Streak, rec.HighestStreak,
			rec.GamesPlayed, rec.Wins, rec.Losses,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to upsert rating for %s: %w", rec.UserID, err)
	}
	return nil
}

// InsertRatingHistory appends one elo movement row for a settled match.
func InsertRatingHistory(ctx context.Context, entry models.RatingHistoryEntry) error {
	q := `
	INSERT INTO rating_history (user_id, game_id, elo_before, elo_after)
	VALUES ($1, $2, $3, $4)
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, entry.UserID, entry.GameID, entry.EloBefore, entry.EloAfter)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert rating history for %s: %w", entry.UserID, err)
	}
	return nil
}

// HighestEloEver derives the user's all-time peak as the best post-match
// elo in the history table. A player who only ever lost still peaks at their
// best elo_after, not at the pre-loss value. Players with no settled matches
// fall back to their current elo, then base elo.
func HighestEloEver(ctx context.Context, userID uuid.UUID) (int, error) {
	var peak int
	q := `
	SELECT COALESCE(
		(SELECT MAX(elo_after) FROM rating_history WHERE user_id = $1),
		(SELECT elo FROM ratings WHERE user_id = $1),
		1000
	)
	`
	if err := DB.QueryRow(ctx, q, userID).Scan(&peak); err != nil {
		return 0, fmt.Errorf("failed to compute peak elo for %s: %w", userID, err)
	}
	return peak, nil
}

// GetLeaderboard returns one page of the ladder ordered by elo descending,
// with 1-based global ranks.
func GetLeaderboard(ctx context.Context, page, limit int) ([]models.LeaderboardEntry, models.PageMeta, error) {
	meta := models.PageMeta{Page: page, Limit: limit}

	if err := DB.QueryRow(ctx, `SELECT COUNT(*) FROM ratings`).Scan(&meta.Total); err != nil {
		return nil, meta, fmt.Errorf("failed to count ladder rows: %w", err)
	}
	meta.TotalPages = (meta.Total + limit - 1) / limit

	q := `
	SELECT u.id, u.username, r.elo, r.games_played, r.wins, r.losses, r.streak, r.highest_streak,
	       ROW_NUMBER() OVER (ORDER BY r.elo DESC, u.username ASC) AS idx
	FROM ratings r
	JOIN users u ON u.id = r.user_id
	ORDER BY r.elo DESC, u.username ASC
	LIMIT $1 OFFSET $2
	`
	rows, err := DB.Query(ctx, q, limit, (page-1)*limit)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(
			&e.UserID, &e.Username, &e.Elo, &e.GamesPlayed,
			&e.Wins, &e.Losses, &e.Streak, &e.HighestStreak, &e.Index,
		); err != nil {
			return nil, meta, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, meta, rows.Err()
}

// Ratings adapts the ladder queries to the game registry's store interface.
type Ratings struct{}

func (Ratings) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.RatingRecord, error) {
	return GetOrCreateRating(ctx, userID)
}

func (Ratings) ApplyResult(ctx context.Context, rec *models.RatingRecord) error {
	return UpsertRating(ctx, rec)
}

func (Ratings) RecordHistory(ctx context.Context, entry models.RatingHistoryEntry) error {
	return InsertRatingHistory(ctx, entry)
}
