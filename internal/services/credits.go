package services

import (
	"context"
	"errors"
	"fmt"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/internal/repositories"
)

// adjustCredits adds delta to the user's balance with a conditional write,
// re-reading up to maxAttempts times on a version conflict. A debit fails
// with ErrInsufficientCredits once the balance is exhausted.
func adjustCredits(ctx context.Context, repo repositories.UserRepository, userID string, delta, maxAttempts int) (*models.User, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		user, err := repo.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		balance := user.CreditBalance()
		if delta < 0 && balance+delta < 0 {
			return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrInsufficientCredits)
		}
		next := balance + delta
		user.Credits = &next

		err = repo.Update(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("credit balance of %s is being written concurrently: %w", userID, apperr.ErrConflict)
}
