package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flotilla-gg/flotilla/internal/models"
)

// GetIdentity loads the slim user view the registries work with: display
// name plus current elo. Users without a rating row read as base elo.
func GetIdentity(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	var ident models.Identity
	q := `
	SELECT u.id, u.username, COALESCE(r.elo, 1000)
	FROM users u
	LEFT JOIN ratings r ON r.user_id = u.id
	WHERE u.id = $1
	`
	err := DB.QueryRow(ctx, q, userID).Scan(&ident.UserID, &ident.DisplayName, &ident.Elo)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity %s: %w", userID, err)
	}
	return &ident, nil
}

// Identities adapts the user queries to the room registry's lookup
// interface.
type Identities struct{}

func (Identities) Resolve(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	return GetIdentity(ctx, userID)
}
