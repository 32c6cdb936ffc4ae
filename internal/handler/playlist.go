package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/coverloop/api/internal/middleware"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/service"
	"github.com/coverloop/api/pkg/response"
)

const maxHistory = 100

type History interface {
	Generations(ctx context.Context, userID, playlistID string, limit int) ([]model.GenerationView, error)
	Claims(ctx context.Context, userID, playlistID string) ([]*model.ClaimedObject, error)
}

type IntegrityChecker interface {
	Check(ctx context.Context, userID, playlistID string) (*model.IntegrityResult, error)
}

type PlaylistHandler struct {
	history   History
	integrity IntegrityChecker
}

func NewPlaylistHandler(history History, integrity IntegrityChecker) *PlaylistHandler {
	return &PlaylistHandler{
		history:   history,
		integrity: integrity,
	}
}

// Generations handles GET /api/playlists/:playlistId/generations
func (h *PlaylistHandler) Generations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}

	result, err := h.history.Generations(c.Context(), middleware.GetUserID(c), c.Params("playlistId"), limit)
	if err != nil {
		return playlistError(c, err)
	}

	return response.OK(c, fiber.Map{"generations": result})
}

// Claims handles GET /api/playlists/:playlistId/claims
func (h *PlaylistHandler) Claims(c *fiber.Ctx) error {
	result, err := h.history.Claims(c.Context(), middleware.GetUserID(c), c.Params("playlistId"))
	if err != nil {
		return playlistError(c, err)
	}

	return response.OK(c, fiber.Map{"claims": result})
}

// Integrity handles GET /api/playlists/:playlistId/integrity
func (h *PlaylistHandler) Integrity(c *fiber.Ctx) error {
	result, err := h.integrity.Check(c.Context(), middleware.GetUserID(c), c.Params("playlistId"))
	if err != nil {
		if errors.Is(err, service.ErrNoGeneratedCover) {
			return response.NotFound(c, "Playlist has no generated cover")
		}
		if errors.Is(err, service.ErrPlaylistNotFound) {
			return response.NotFound(c, "Playlist not found")
		}
		return response.UpstreamError(c, err.Error())
	}

	return response.OK(c, result)
}

func playlistError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrPlaylistNotFound) {
		return response.NotFound(c, "Playlist not found")
	}
	return response.ServiceError(c, err.Error())
}
