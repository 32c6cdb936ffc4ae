package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/phash"
	"github.com/coverloop/api/internal/repository"
)

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrNoGeneratedCover = errors.New("playlist has no generated cover")
)

// IntegrityService compares the cover live on Spotify with the last one
// uploaded for the playlist.
type IntegrityService struct {
	store     *repository.Store
	playlists client.PlaylistProvider
	log       *log.Logger
	delay     time.Duration
	timeout   time.Duration
	now       func() time.Time

	wg sync.WaitGroup
	// onResult observes background checks. Tests hook in here.
	onResult func(*model.IntegrityResult, error)
}

func NewIntegrityService(store *repository.Store, playlists client.PlaylistProvider, logger *log.Logger) *IntegrityService {
	return &IntegrityService{
		store:     store,
		playlists: playlists,
		log:       logger,
		delay:     5 * time.Second,
		timeout:   30 * time.Second,
		now:       time.Now,
	}
}

// Schedule checks a fresh upload in the background. Spotify serves the new
// cover with a short lag, hence the delay.
func (s *IntegrityService) Schedule(user *model.User, playlist *model.Playlist, generationID string, expected phash.Hash) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		result, err := s.compare(ctx, user, playlist.ID, playlist.SpotifyID, generationID, expected)
		switch {
		case err != nil:
			s.log.Warn("integrity check failed", "playlist", playlist.ID, "generation", generationID, "err", err)
		case !result.Match:
			s.log.Warn("live cover drifted from upload", "playlist", playlist.ID, "generation", generationID,
				"distance", result.Distance, "expected", result.Expected, "actual", result.Actual)
		default:
			s.log.Debug("live cover verified", "playlist", playlist.ID, "distance", result.Distance)
		}
		if s.onResult != nil {
			s.onResult(result, err)
		}
	}()
}

// Wait blocks until background checks have finished.
func (s *IntegrityService) Wait() {
	s.wg.Wait()
}

// Check runs the comparison on demand for a playlist owned by userID.
func (s *IntegrityService) Check(ctx context.Context, userID, playlistID string) (*model.IntegrityResult, error) {
	playlist, err := s.store.Playlists.GetByID(ctx, playlistID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlaylistNotFound
		}
		return nil, err
	}
	if playlist.UserID != userID {
		return nil, ErrPlaylistNotFound
	}

	generation, err := s.store.Generations.LatestCompleted(ctx, playlistID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoGeneratedCover
		}
		return nil, err
	}
	if generation.CoverPHash == nil {
		return nil, ErrNoGeneratedCover
	}
	expected, err := phash.Parse(*generation.CoverPHash)
	if err != nil {
		return nil, fmt.Errorf("stored cover hash: %w", err)
	}

	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.compare(ctx, user, playlist.ID, playlist.SpotifyID, generation.ID, expected)
}

func (s *IntegrityService) compare(ctx context.Context, user *model.User, playlistID, spotifyID, generationID string, expected phash.Hash) (*model.IntegrityResult, error) {
	live, err := s.playlists.DownloadCover(ctx, user, spotifyID)
	if err != nil {
		return nil, fmt.Errorf("download live cover: %w", err)
	}
	actual, err := phash.ComputeBytes(live)
	if err != nil {
		return nil, fmt.Errorf("hash live cover: %w", err)
	}

	distance := phash.Distance(expected, actual)
	return &model.IntegrityResult{
		PlaylistID:   playlistID,
		GenerationID: generationID,
		Match:        phash.Match(expected, actual),
		Distance:     distance,
		Expected:     expected.String(),
		Actual:       actual.String(),
		CheckedAt:    s.now(),
	}, nil
}
