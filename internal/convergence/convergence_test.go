package convergence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/repository"
	"github.com/coverloop/api/internal/testutil"
)

func track(id string, mentions ...model.ObjectMention) model.TrackExtraction {
	return model.TrackExtraction{TrackID: id, TrackName: "Track " + id, Objects: mentions}
}

func obj(name string, tier model.Tier) model.ObjectMention {
	return model.ObjectMention{Object: name, Tier: tier}
}

func owlFox() []model.TrackExtraction {
	return []model.TrackExtraction{
		track("1", obj("owl", model.TierHigh)),
		track("2", obj("owl", model.TierHigh)),
		track("3", obj("owl", model.TierHigh)),
		track("4", obj("fox", model.TierLow)),
		track("5", obj("fox", model.TierLow)),
	}
}

func TestSelect_HigherScoreWins(t *testing.T) {
	result, err := Select(owlFox(), "")
	require.NoError(t, err)

	assert.Equal(t, "owl", result.Selected().Object)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, model.Candidate{Rank: 1, Object: "owl", Score: 9, TrackCount: 3}, result.Candidates[0])
	assert.Equal(t, model.Candidate{Rank: 2, Object: "fox", Score: 2, TrackCount: 2}, result.Candidates[1])
	assert.Empty(t, result.CollisionNotes)
}

func TestSelect_SkipsClaimedObjectWithoutNote(t *testing.T) {
	result, err := Select(owlFox(), "  OWL ")
	require.NoError(t, err)

	assert.Equal(t, "fox", result.Selected().Object)
	assert.Equal(t, 1, result.SelectedIndex)
	assert.Empty(t, result.CollisionNotes)
}

func TestSelect_SingleCollidingCandidateRepeats(t *testing.T) {
	result, err := Select([]model.TrackExtraction{track("1", obj("Owl", model.TierHigh))}, "owl")
	require.NoError(t, err)

	assert.Equal(t, "Owl", result.Selected().Object)
	assert.NotEmpty(t, result.CollisionNotes)
}

func TestSelect_CaseInsensitiveMerging(t *testing.T) {
	result, err := Select([]model.TrackExtraction{
		track("1", obj("Lighthouse", model.TierMedium)),
		track("2", obj(" lighthouse", model.TierHigh), obj("LIGHTHOUSE", model.TierLow)),
	}, "")
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, "Lighthouse", c.Object)
	assert.Equal(t, 6, c.Score)
	assert.Equal(t, 2, c.TrackCount)
}

func TestSelect_TieBreaks(t *testing.T) {
	// equal score: more tracks first, then first seen
	result, err := Select([]model.TrackExtraction{
		track("1", obj("moon", model.TierMedium), obj("river", model.TierHigh)),
		track("2", obj("key", model.TierLow), obj("rose", model.TierHigh)),
		track("3", obj("key", model.TierMedium)),
	}, "")
	require.NoError(t, err)

	var names []string
	for _, c := range result.Candidates {
		names = append(names, c.Object)
	}
	assert.Equal(t, []string{"key", "river", "rose", "moon"}, names)
}

func TestSelect_FirstReasoningKept(t *testing.T) {
	result, err := Select([]model.TrackExtraction{
		track("1", model.ObjectMention{Object: "owl", Tier: model.TierHigh}),
		track("2", model.ObjectMention{Object: "owl", Tier: model.TierHigh, Reasoning: "night watcher"}),
		track("3", model.ObjectMention{Object: "owl", Tier: model.TierHigh, Reasoning: "wisdom"}),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "night watcher", result.Candidates[0].Reasoning)
}

func TestSelect_Empty(t *testing.T) {
	_, err := Select(nil, "owl")
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = Select([]model.TrackExtraction{track("1", obj("  ", model.TierHigh))}, "")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestSelect_Deterministic(t *testing.T) {
	a, err := Select(owlFox(), "fox")
	require.NoError(t, err)
	b, err := Select(owlFox(), "fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEngine_OwlThenFox(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	engine := NewEngine(store, logging.Discard())
	ctx := context.Background()

	first, err := engine.SelectForPlaylist(ctx, "p1", owlFox())
	require.NoError(t, err)
	assert.Equal(t, "owl", first.Selected().Object)

	claimed, err := engine.Claim(ctx, "p1", first.Selected().Object, "linocut")
	require.NoError(t, err)
	assert.True(t, claimed)

	second, err := engine.SelectForPlaylist(ctx, "p1", owlFox())
	require.NoError(t, err)
	assert.Equal(t, "fox", second.Selected().Object)
	assert.Empty(t, second.CollisionNotes)

	claimed, err = engine.Claim(ctx, "p1", "fox", "linocut")
	require.NoError(t, err)
	assert.True(t, claimed)

	history, err := store.Claims.ListByPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	current, err := store.Claims.Current(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "fox", current.ObjectName)
}

func TestEngine_ReclaimIsNoop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	engine := NewEngine(store, logging.Discard())
	engine.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := engine.Claim(ctx, "p1", "owl", "")
	require.NoError(t, err)

	claimed, err := engine.Claim(ctx, "p1", "Owl ", "")
	require.NoError(t, err)
	assert.False(t, claimed)

	history, err := store.Claims.ListByPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].SupersededAt)
}
