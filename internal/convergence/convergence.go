// Package convergence reduces per-track object mentions to one symbolic
// object per playlist while avoiding the object the playlist already uses.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/repository"
)

var ErrNoCandidates = errors.New("no candidate objects extracted")

// Normalize folds an object name for comparison.
func Normalize(object string) string {
	return strings.ToLower(strings.TrimSpace(object))
}

type tally struct {
	object    string
	reasoning string
	score     int
	tracks    map[string]struct{}
	firstSeen int
}

// Select ranks every distinct object and picks the best one that differs
// from priorClaim. When the only candidate is the prior claim it is picked
// anyway and CollisionNotes explains the repeat. Select is pure.
func Select(extractions []model.TrackExtraction, priorClaim string) (*model.ConvergenceResult, error) {
	tallies := make(map[string]*tally)
	var order []*tally

	for i, track := range extractions {
		trackKey := track.TrackID
		if trackKey == "" {
			trackKey = "#" + strconv.Itoa(i)
		}
		for _, mention := range track.Objects {
			key := Normalize(mention.Object)
			if key == "" {
				continue
			}
			t, ok := tallies[key]
			if !ok {
				t = &tally{
					object:    strings.TrimSpace(mention.Object),
					tracks:    make(map[string]struct{}),
					firstSeen: len(order),
				}
				tallies[key] = t
				order = append(order, t)
			}
			t.score += model.Tier(strings.ToLower(string(mention.Tier))).Weight()
			t.tracks[trackKey] = struct{}{}
			if t.reasoning == "" {
				t.reasoning = strings.TrimSpace(mention.Reasoning)
			}
		}
	}

	if len(order) == 0 {
		return nil, ErrNoCandidates
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if len(a.tracks) != len(b.tracks) {
			return len(a.tracks) > len(b.tracks)
		}
		return a.firstSeen < b.firstSeen
	})

	result := &model.ConvergenceResult{Candidates: make([]model.Candidate, len(order))}
	for i, t := range order {
		result.Candidates[i] = model.Candidate{
			Rank:       i + 1,
			Object:     t.object,
			Reasoning:  t.reasoning,
			Score:      t.score,
			TrackCount: len(t.tracks),
		}
	}

	prior := Normalize(priorClaim)
	for i, c := range result.Candidates {
		if prior == "" || Normalize(c.Object) != prior {
			result.SelectedIndex = i
			return result, nil
		}
	}

	result.SelectedIndex = 0
	result.CollisionNotes = fmt.Sprintf("%q is the only candidate and is already claimed for this playlist; repeating it", result.Candidates[0].Object)
	return result, nil
}

// Engine applies Select against stored claims.
type Engine struct {
	store *repository.Store
	log   *log.Logger
	now   func() time.Time
}

func NewEngine(store *repository.Store, logger *log.Logger) *Engine {
	return &Engine{store: store, log: logger, now: time.Now}
}

// CurrentClaim returns the playlist's claimed object name, or "".
func (e *Engine) CurrentClaim(ctx context.Context, playlistID string) (string, error) {
	claim, err := e.store.Claims.Current(ctx, playlistID)
	if err != nil {
		return "", fmt.Errorf("load current claim: %w", err)
	}
	if claim == nil {
		return "", nil
	}
	return claim.ObjectName, nil
}

// SelectForPlaylist runs Select with the playlist's current claim.
func (e *Engine) SelectForPlaylist(ctx context.Context, playlistID string, extractions []model.TrackExtraction) (*model.ConvergenceResult, error) {
	prior, err := e.CurrentClaim(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	result, err := Select(extractions, prior)
	if err != nil {
		return nil, err
	}
	if result.CollisionNotes != "" {
		e.log.Warn("repeating claimed object", "playlist", playlistID, "object", result.Selected().Object)
	}
	return result, nil
}

// Claim makes object the playlist's current claim. Re-claiming the current
// object is a no-op; otherwise the old claim is superseded in the same
// transaction. It reports whether a new claim was written.
func (e *Engine) Claim(ctx context.Context, playlistID, object, aestheticContext string) (bool, error) {
	claimed := false
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Claims.Current(ctx, playlistID)
		if err != nil {
			return err
		}
		if current != nil && Normalize(current.ObjectName) == Normalize(object) {
			return nil
		}

		now := e.now()
		if err := tx.Claims.SupersedeAll(ctx, playlistID, now); err != nil {
			return err
		}
		if err := tx.Claims.Create(ctx, &model.ClaimedObject{
			ID:               uuid.NewString(),
			PlaylistID:       playlistID,
			ObjectName:       strings.TrimSpace(object),
			AestheticContext: aestheticContext,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim object: %w", err)
	}
	return claimed, nil
}
