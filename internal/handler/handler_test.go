package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/middleware"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/service"
	"github.com/coverloop/api/pkg/response"
)

type stubJobs struct {
	createErr error
	created   *model.TriggerResult
	lastUser  string
	lastType  model.TriggerType
	cancelErr error
	jobErr    error
}

func (s *stubJobs) CreateJob(ctx context.Context, userID string, playlistIDs []string, styleID string, trigger model.TriggerType) (*model.TriggerResult, error) {
	s.lastUser, s.lastType = userID, trigger
	return s.created, s.createErr
}

func (s *stubJobs) CancelActive(ctx context.Context, userID string) (*model.CancelResult, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return &model.CancelResult{JobID: "job-1", Status: model.JobStatusCancelled, ResetPlaylists: 2, CancelledGenerations: 2}, nil
}

func (s *stubJobs) GetActive(ctx context.Context, userID string) (*model.JobStatusResponse, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	return &model.JobStatusResponse{Job: &model.Job{ID: "job-1", UserID: userID}}, nil
}

func (s *stubJobs) GetJob(ctx context.Context, userID, jobID string) (*model.JobStatusResponse, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	return &model.JobStatusResponse{Job: &model.Job{ID: jobID, UserID: userID}}, nil
}

type stubPlaylists struct {
	err          error
	integrityErr error
}

func (s *stubPlaylists) Generations(ctx context.Context, userID, playlistID string, limit int) ([]model.GenerationView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []model.GenerationView{{Generation: &model.Generation{ID: "g1", PlaylistID: playlistID, CostUSD: 0.5}}}, nil
}

func (s *stubPlaylists) Claims(ctx context.Context, userID, playlistID string) ([]*model.ClaimedObject, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*model.ClaimedObject{{ID: "c1", PlaylistID: playlistID, ObjectName: "owl"}}, nil
}

func (s *stubPlaylists) Check(ctx context.Context, userID, playlistID string) (*model.IntegrityResult, error) {
	if s.integrityErr != nil {
		return nil, s.integrityErr
	}
	return &model.IntegrityResult{PlaylistID: playlistID, Match: true, Distance: 3}, nil
}

type stubPreviews struct {
	err error
}

func (s *stubPreviews) Preview(ctx context.Context, userID, styleID string, subjects []string) (*model.PreviewResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	items := make([]model.PreviewItem, len(subjects))
	for i, subject := range subjects {
		items[i] = model.PreviewItem{Subject: subject}
	}
	return &model.PreviewResult{StyleID: styleID, Items: items}, nil
}

func newTestApp(jobs *stubJobs, playlists *stubPlaylists, previews *stubPreviews) *fiber.App {
	v := validator.New()
	jobHandler := NewJobHandler(jobs, v)
	playlistHandler := NewPlaylistHandler(playlists, playlists)
	previewHandler := NewPreviewHandler(previews, v)

	app := fiber.New()
	api := app.Group("/api", middleware.GatewayAuthMiddleware())
	api.Post("/trigger", jobHandler.Trigger)
	api.Post("/cancel", jobHandler.Cancel)
	api.Get("/jobs/active", jobHandler.Active)
	api.Get("/jobs/:jobId", jobHandler.Status)
	api.Get("/playlists/:playlistId/generations", playlistHandler.Generations)
	api.Get("/playlists/:playlistId/claims", playlistHandler.Claims)
	api.Get("/playlists/:playlistId/integrity", playlistHandler.Integrity)
	api.Post("/styles/:styleId/preview", previewHandler.Preview)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env response.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Error.Code
}

func TestTrigger(t *testing.T) {
	body := `{"playlist_ids":["p1","p2"],"style_id":"s1","trigger_type":"manual"}`

	t.Run("accepted", func(t *testing.T) {
		jobs := &stubJobs{created: &model.TriggerResult{JobID: "job-1", Status: model.JobStatusProcessing, Queued: 2}}
		resp, data := do(t, newTestApp(jobs, &stubPlaylists{}, &stubPreviews{}), "POST", "/api/trigger", body)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		assert.JSONEq(t, `{"jobId":"job-1","status":"processing","queued":2,"skipped":0,"skippedPlaylists":null}`, string(data))
		assert.Equal(t, "u1", jobs.lastUser)
		assert.Equal(t, model.TriggerManual, jobs.lastType)
	})

	t.Run("job already active", func(t *testing.T) {
		jobs := &stubJobs{createErr: service.ErrJobAlreadyActive}
		resp, data := do(t, newTestApp(jobs, &stubPlaylists{}, &stubPreviews{}), "POST", "/api/trigger", body)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
		assert.Equal(t, response.CodeJobActive, errorCode(t, data))
	})

	t.Run("nothing eligible", func(t *testing.T) {
		jobs := &stubJobs{
			createErr: service.ErrNoEligibleTargets,
			created: &model.TriggerResult{Skipped: 2, SkippedPlaylists: []model.SkippedPlaylist{
				{PlaylistID: "p1", Reason: model.SkipCollaborative},
				{PlaylistID: "p2", Reason: model.SkipNotFound},
			}},
		}
		resp, data := do(t, newTestApp(jobs, &stubPlaylists{}, &stubPreviews{}), "POST", "/api/trigger", body)
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, string(data), `"reason":"collaborative"`)
		assert.Equal(t, response.CodeNoEligible, errorCode(t, data))
	})

	t.Run("unknown style", func(t *testing.T) {
		jobs := &stubJobs{createErr: service.ErrStyleNotFound}
		resp, _ := do(t, newTestApp(jobs, &stubPlaylists{}, &stubPreviews{}), "POST", "/api/trigger", body)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("validation", func(t *testing.T) {
		app := newTestApp(&stubJobs{}, &stubPlaylists{}, &stubPreviews{})
		for _, bad := range []string{
			`{"playlist_ids":[],"style_id":"s1"}`,
			`{"playlist_ids":["p1"]}`,
			`{"playlist_ids":["p1"],"style_id":"s1","trigger_type":"weekly"}`,
			`not json`,
		} {
			resp, data := do(t, app, "POST", "/api/trigger", bad)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, bad)
			assert.Equal(t, response.CodeValidationError, errorCode(t, data))
		}
	})
}

func TestCancelAndStatus(t *testing.T) {
	jobs := &stubJobs{}
	app := newTestApp(jobs, &stubPlaylists{}, &stubPreviews{})

	resp, data := do(t, app, "POST", "/api/cancel", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"resetPlaylists":2`)

	resp, data = do(t, app, "GET", "/api/jobs/job-9", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"id":"job-9"`)

	resp, _ = do(t, app, "GET", "/api/jobs/active", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	jobs.cancelErr = service.ErrNoActiveJob
	jobs.jobErr = service.ErrJobNotFound
	resp, _ = do(t, app, "POST", "/api/cancel", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, app, "GET", "/api/jobs/job-9", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPlaylistEndpoints(t *testing.T) {
	playlists := &stubPlaylists{}
	app := newTestApp(&stubJobs{}, playlists, &stubPreviews{})

	resp, data := do(t, app, "GET", "/api/playlists/p1/generations?limit=5", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"costBreakdown":null`)

	resp, data = do(t, app, "GET", "/api/playlists/p1/claims", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"owl"`)

	resp, data = do(t, app, "GET", "/api/playlists/p1/integrity", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"match":true`)

	playlists.integrityErr = client.ErrNoCover
	resp, _ = do(t, app, "GET", "/api/playlists/p1/integrity", "")
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	playlists.integrityErr = service.ErrNoGeneratedCover
	resp, _ = do(t, app, "GET", "/api/playlists/p1/integrity", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	playlists.err = service.ErrPlaylistNotFound
	resp, _ = do(t, app, "GET", "/api/playlists/p1/claims", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	previews := &stubPreviews{}
	app := newTestApp(&stubJobs{}, &stubPlaylists{}, previews)

	resp, data := do(t, app, "POST", "/api/styles/s1/preview", `{"subjects":["owl","fox"]}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"styleId":"s1"`)

	resp, _ = do(t, app, "POST", "/api/styles/s1/preview", `{"subjects":["a","b","c","d","e"]}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	previews.err = service.ErrStyleNotFound
	resp, _ = do(t, app, "POST", "/api/styles/s1/preview", `{"subjects":["owl"]}`)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
