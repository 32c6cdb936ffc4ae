package service

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/pricing"
	"github.com/coverloop/api/internal/repository"
)

// HistoryService serves the read-only generation and claim history of a
// playlist.
type HistoryService struct {
	store *repository.Store
	log   *log.Logger
}

func NewHistoryService(store *repository.Store, logger *log.Logger) *HistoryService {
	return &HistoryService{store: store, log: logger}
}

func (s *HistoryService) Generations(ctx context.Context, userID, playlistID string, limit int) ([]model.GenerationView, error) {
	if err := s.authorize(ctx, userID, playlistID); err != nil {
		return nil, err
	}
	generations, err := s.store.Generations.ListByPlaylist(ctx, playlistID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]model.GenerationView, len(generations))
	for i, g := range generations {
		views[i] = model.GenerationView{
			Generation:    g,
			CostBreakdown: pricing.ParseCostBreakdown(g.CostBreakdown, s.log.With("generation", g.ID)),
		}
	}
	return views, nil
}

func (s *HistoryService) Claims(ctx context.Context, userID, playlistID string) ([]*model.ClaimedObject, error) {
	if err := s.authorize(ctx, userID, playlistID); err != nil {
		return nil, err
	}
	return s.store.Claims.ListByPlaylist(ctx, playlistID)
}

func (s *HistoryService) authorize(ctx context.Context, userID, playlistID string) error {
	playlist, err := s.store.Playlists.GetByID(ctx, playlistID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPlaylistNotFound
		}
		return err
	}
	if playlist.UserID != userID {
		return ErrPlaylistNotFound
	}
	return nil
}
