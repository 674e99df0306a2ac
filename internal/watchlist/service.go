package watchlist

import (
	"context"
	"log/slog"
	"time"

	"cointrack/internal/database"
	"cointrack/internal/model"
)

// Service manages per-user coin watchlists.
type Service struct {
	logger *slog.Logger
	repo   database.WatchlistRepository
}

func NewService(logger *slog.Logger, repo database.WatchlistRepository) *Service {
	return &Service{logger: logger, repo: repo}
}

// Add pins a coin to the user's watchlist. Adding a coin twice is a no-op.
func (s *Service) Add(ctx context.Context, userID, coinID string) error {
	if err := s.repo.Add(ctx, userID, coinID, time.Now()); err != nil {
		return err
	}
	s.logger.Debug("coin added to watchlist", "user", userID, "coin", coinID)
	return nil
}

// Remove unpins a coin from the user's watchlist.
func (s *Service) Remove(ctx context.Context, userID, coinID string) error {
	return s.repo.Remove(ctx, userID, coinID)
}

// List returns the user's watchlist, most recently added first.
func (s *Service) List(ctx context.Context, userID string) ([]model.WatchlistItem, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Contains reports whether the coin is on the user's watchlist.
func (s *Service) Contains(ctx context.Context, userID, coinID string) (bool, error) {
	return s.repo.Contains(ctx, userID, coinID)
}
