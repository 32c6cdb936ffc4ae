package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/repository"
	"github.com/coverloop/api/internal/testutil"
)

func TestHistoryService(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()
	playlist := testutil.TestPlaylist(t, db, "u1", 1)

	good := testutil.TestGeneration(t, db, playlist.ID, model.GenerationStatusCompleted, nil)
	require.NoError(t, store.Generations.UpdateFields(ctx, good.ID, map[string]interface{}{
		"cost_breakdown": []byte(`[{"step":"extract_themes","model":"llama","tokens":1200,"cost_usd":0.001}]`),
	}))
	bad := testutil.TestGeneration(t, db, playlist.ID, model.GenerationStatusFailed, nil)
	require.NoError(t, store.Generations.UpdateFields(ctx, bad.ID, map[string]interface{}{
		"cost_breakdown": []byte(`{not json`),
	}))
	require.NoError(t, store.Claims.Create(ctx, &model.ClaimedObject{
		ID: uuid.NewString(), PlaylistID: playlist.ID, ObjectName: "owl", CreatedAt: time.Now(),
	}))

	svc := NewHistoryService(store, logging.Discard())

	t.Run("generations decode breakdowns", func(t *testing.T) {
		views, err := svc.Generations(ctx, "u1", playlist.ID, 10)
		require.NoError(t, err)
		require.Len(t, views, 2)

		byID := map[string]model.GenerationView{}
		for _, v := range views {
			byID[v.ID] = v
		}
		require.Len(t, byID[good.ID].CostBreakdown, 1)
		assert.Equal(t, "extract_themes", byID[good.ID].CostBreakdown[0].Step)
		assert.Nil(t, byID[bad.ID].CostBreakdown)
	})

	t.Run("claims", func(t *testing.T) {
		claims, err := svc.Claims(ctx, "u1", playlist.ID)
		require.NoError(t, err)
		require.Len(t, claims, 1)
		assert.Equal(t, "owl", claims[0].ObjectName)
	})

	t.Run("other users see nothing", func(t *testing.T) {
		_, err := svc.Generations(ctx, "u2", playlist.ID, 10)
		assert.ErrorIs(t, err, ErrPlaylistNotFound)
		_, err = svc.Claims(ctx, "u1", "missing")
		assert.ErrorIs(t, err, ErrPlaylistNotFound)
	})
}
