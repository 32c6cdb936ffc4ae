package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/phash"
	"github.com/coverloop/api/internal/repository"
	"github.com/coverloop/api/internal/testutil"
)

type coverProvider struct {
	cover []byte
	err   error
}

func (c *coverProvider) PlaylistTracks(ctx context.Context, user *model.User, playlistID string) ([]client.Track, error) {
	return nil, nil
}

func (c *coverProvider) UploadCover(ctx context.Context, user *model.User, playlistID string, jpeg []byte) error {
	return nil
}

func (c *coverProvider) DownloadCover(ctx context.Context, user *model.User, playlistID string) ([]byte, error) {
	return c.cover, c.err
}

func gradientPNG(t *testing.T, flip bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(x * 4)
			if flip {
				v = uint8(255 - x*4)
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIntegrityCheck(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()
	testutil.TestUser(t, db, "u1")
	playlist := testutil.TestPlaylist(t, db, "u1", 1)

	uploaded := gradientPNG(t, false)
	hash, err := phash.ComputeBytes(uploaded)
	require.NoError(t, err)
	expected := hash.String()
	generation := testutil.TestGeneration(t, db, playlist.ID, model.GenerationStatusCompleted, &expected)

	provider := &coverProvider{cover: uploaded}
	svc := NewIntegrityService(store, provider, logging.Discard())

	t.Run("live cover matches", func(t *testing.T) {
		res, err := svc.Check(ctx, "u1", playlist.ID)
		require.NoError(t, err)
		assert.True(t, res.Match)
		assert.Equal(t, 0, res.Distance)
		assert.Equal(t, generation.ID, res.GenerationID)
		assert.Equal(t, expected, res.Actual)
	})

	t.Run("live cover replaced", func(t *testing.T) {
		provider.cover = gradientPNG(t, true)
		defer func() { provider.cover = uploaded }()

		res, err := svc.Check(ctx, "u1", playlist.ID)
		require.NoError(t, err)
		assert.False(t, res.Match)
		assert.Greater(t, res.Distance, phash.MatchThreshold)
	})

	t.Run("download fails", func(t *testing.T) {
		provider.err = client.ErrNoCover
		defer func() { provider.err = nil }()

		_, err := svc.Check(ctx, "u1", playlist.ID)
		assert.ErrorIs(t, err, client.ErrNoCover)
	})

	t.Run("other user", func(t *testing.T) {
		_, err := svc.Check(ctx, "u2", playlist.ID)
		assert.ErrorIs(t, err, ErrPlaylistNotFound)
	})

	t.Run("no generated cover", func(t *testing.T) {
		fresh := testutil.TestPlaylist(t, db, "u1", 1)
		_, err := svc.Check(ctx, "u1", fresh.ID)
		assert.ErrorIs(t, err, ErrNoGeneratedCover)
	})
}

func TestIntegritySchedule_RunsInBackground(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	user := testutil.TestUser(t, db, "u1")
	playlist := testutil.TestPlaylist(t, db, "u1", 1)

	cover := gradientPNG(t, false)
	hash, err := phash.ComputeBytes(cover)
	require.NoError(t, err)

	svc := NewIntegrityService(store, &coverProvider{cover: cover}, logging.Discard())
	svc.delay = 0

	var got *model.IntegrityResult
	var gotErr error
	svc.onResult = func(res *model.IntegrityResult, err error) { got, gotErr = res, err }

	svc.Schedule(user, playlist, "gen-1", hash)
	svc.Wait()

	require.NoError(t, gotErr)
	require.NotNil(t, got)
	assert.True(t, got.Match)
	assert.Equal(t, "gen-1", got.GenerationID)

	svc.playlists = &coverProvider{err: errors.New("spotify down")}
	svc.Schedule(user, playlist, "gen-2", hash)
	svc.Wait()
	assert.Error(t, gotErr)
}
