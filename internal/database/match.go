package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flotilla-gg/flotilla/internal/models"
)

// InsertMatch creates the match row and one seat row per player in a single
// transaction. Seats start with no verdict; MarkMatchOutcome fills it in.
func InsertMatch(ctx context.Context, gameID uuid.UUID, playerIDs []uuid.UUID) error {
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, e := tx.Exec(ctx, `INSERT INTO games (id, status) VALUES ($1, 'created')`, gameID); e != nil {
			return e
		}
		for _, pid := range playerIDs {
			if _, e := tx.Exec(ctx,
				`INSERT INTO game_players (game_id, user_id) VALUES ($1, $2)`,
				gameID, pid,
			); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert match %s: %w", gameID, err)
	}
	return nil
}

// MarkMatchOutcome records one player's verdict and flips the match row to
// ended.
func MarkMatchOutcome(ctx context.Context, outcome models.MatchOutcome) error {
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, e := tx.Exec(ctx,
			`UPDATE game_players SET is_winner = $1, elo_change = $2 WHERE game_id = $3 AND user_id = $4`,
			outcome.IsWinner, outcome.EloChange, outcome.GameID, outcome.UserID,
		); e != nil {
			return e
		}
		_, e := tx.Exec(ctx, `UPDATE games SET status = 'ended' WHERE id = $1`, outcome.GameID)
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to mark outcome for %s in %s: %w", outcome.UserID, outcome.GameID, err)
	}
	return nil
}

// GetMatchOutcome returns one player's verdict for a concluded match.
func GetMatchOutcome(ctx context.Context, gameID, userID uuid.UUID) (*models.MatchOutcome, error) {
	var o models.MatchOutcome
	q := `
	SELECT game_id, user_id, COALESCE(is_winner, false), COALESCE(elo_change, 0)
	FROM game_players
	WHERE game_id = $1 AND user_id = $2
	`
	err := DB.QueryRow(ctx, q, gameID, userID).Scan(&o.GameID, &o.UserID, &o.IsWinner, &o.EloChange)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome for %s in %s: %w", userID, gameID, err)
	}
	return &o, nil
}

// ListMatchHistory returns one page of the user's concluded matches, newest
// first. Matches still being played or abandoned mid-placement never show up
// in history.
func ListMatchHistory(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.MatchSummary, models.PageMeta, error) {
	meta := models.PageMeta{Page: page, Limit: limit}

	countQ := `
	SELECT COUNT(*)
	FROM game_players gp
	JOIN games g ON g.id = gp.game_id
	WHERE gp.user_id = $1 AND g.status = 'ended'
	`
	if err := DB.QueryRow(ctx, countQ, userID).Scan(&meta.Total); err != nil {
		return nil, meta, fmt.Errorf("failed to count matches for %s: %w", userID, err)
	}
	meta.TotalPages = (meta.Total + limit - 1) / limit

	q := `
	SELECT g.id, g.created_at, g.status, COALESCE(gp.is_winner, false), COALESCE(gp.elo_change, 0)
	FROM game_players gp
	JOIN games g ON g.id = gp.game_id
	WHERE gp.user_id = $1 AND g.status = 'ended'
	ORDER BY g.created_at DESC
	LIMIT $2 OFFSET $3
	`
	rows, err := DB.Query(ctx, q, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to query match history for %s: %w", userID, err)
	}
	defer rows.Close()

	var summaries []models.MatchSummary
	for rows.Next() {
		var s models.MatchSummary
		if err := rows.Scan(&s.GameID, &s.CreatedAt, &s.Status, &s.IsWinner, &s.EloChange); err != nil {
			return nil, meta, fmt.Errorf("failed to scan match row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, meta, rows.Err()
}

// Results adapts the match queries to the game registry's store interface.
type Results struct{}

func (Results) CreateMatch(ctx context.Context, gameID uuid.UUID, playerIDs []uuid.UUID) error {
	return InsertMatch(ctx, gameID, playerIDs)
}

func (Results) MarkOutcome(ctx context.Context, outcome models.MatchOutcome) error {
	return MarkMatchOutcome(ctx, outcome)
}
