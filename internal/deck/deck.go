// Package deck builds the ordered list of quests a user has not decided yet.
package deck

import (
	"context"
	"fmt"

	"sidequest/internal/domain"
)

// Store is the subset of the item store the supplier reads from.
type Store interface {
	ListUndecidedQuests(ctx context.Context, userID string, limit int) ([]domain.Quest, error)
}

type Supplier struct {
	Store Store
	// Limit caps the deck size; zero means every undecided quest.
	Limit int
}

// Next returns the user's deck, newest quests first. An empty deck is not an error.
func (s Supplier) Next(ctx context.Context, userID string) ([]domain.Quest, error) {
	if userID == "" {
		return nil, fmt.Errorf("deck: user id required")
	}
	quests, err := s.Store.ListUndecidedQuests(ctx, userID, s.Limit)
	if err != nil {
		return nil, fmt.Errorf("deck for %s: %w", userID, err)
	}
	if quests == nil {
		quests = []domain.Quest{}
	}
	return quests, nil
}
