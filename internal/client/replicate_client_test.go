package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/logging"
)

func newTestReplicate(t *testing.T, handler http.HandlerFunc) *ReplicateClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewReplicateClient(&config.ReplicateConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
		MaxPollErrs:  3,
	}, logging.Discard())
}

func fastPoll() PollOptions {
	return PollOptions{Interval: 5 * time.Millisecond, Timeout: 2 * time.Second, MaxErrors: 3}
}

// scripted answers GET /v1/predictions/{id} with one response per call.
func scripted(responses ...func(w http.ResponseWriter)) (http.HandlerFunc, *int32) {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		i := int(n) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		responses[i](w)
	}, &calls
}

func status(s string, extra string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","status":"` + s + `"` + extra + `}`))
	}
}

func serverError(w http.ResponseWriter) {
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}

func TestPollPrediction_Succeeds(t *testing.T) {
	handler, calls := scripted(
		status(PredictionStarting, ""),
		status(PredictionProcessing, ""),
		status(PredictionSucceeded, `,"output":["https://cdn.example/out.jpg"]`),
	)
	c := newTestReplicate(t, handler)

	p, err := c.PollPrediction(context.Background(), "p1", fastPoll())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example/out.jpg"}, p.OutputURLs())
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestPollPrediction_FailedCarriesInnerMessage(t *testing.T) {
	handler, _ := scripted(status(PredictionFailed, `,"error":"NSFW content detected"`))
	c := newTestReplicate(t, handler)

	_, err := c.PollPrediction(context.Background(), "p1", fastPoll())
	require.ErrorIs(t, err, ErrPredictionFailed)
	assert.Contains(t, err.Error(), "NSFW content detected")
}

func TestPollPrediction_Canceled(t *testing.T) {
	handler, _ := scripted(status(PredictionCanceled, ""))
	c := newTestReplicate(t, handler)

	_, err := c.PollPrediction(context.Background(), "p1", fastPoll())
	assert.ErrorIs(t, err, ErrPredictionCanceled)
}

func TestPollPrediction_ThreeConsecutiveErrorsAbort(t *testing.T) {
	handler, calls := scripted(serverError, serverError, serverError, status(PredictionSucceeded, `,"output":"x"`))
	c := newTestReplicate(t, handler)

	_, err := c.PollPrediction(context.Background(), "p1", fastPoll())
	require.ErrorIs(t, err, ErrTooManyPollErrors)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestPollPrediction_SuccessResetsErrorCount(t *testing.T) {
	handler, calls := scripted(
		serverError, serverError,
		status(PredictionProcessing, ""),
		serverError, serverError,
		status(PredictionSucceeded, `,"output":"https://cdn.example/a.jpg"`),
	)
	c := newTestReplicate(t, handler)

	p, err := c.PollPrediction(context.Background(), "p1", fastPoll())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example/a.jpg"}, p.OutputURLs())
	assert.Equal(t, int32(6), atomic.LoadInt32(calls))
}

func TestPollPrediction_TimesOutAtDeadline(t *testing.T) {
	var cancelled int32
	c := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			atomic.AddInt32(&cancelled, 1)
			status(PredictionCanceled, "")(w)
			return
		}
		status(PredictionProcessing, "")(w)
	})

	opts := PollOptions{Interval: 10 * time.Millisecond, Timeout: 60 * time.Millisecond, MaxErrors: 3}
	started := time.Now()
	_, err := c.PollPrediction(context.Background(), "p1", opts)
	elapsed := time.Since(started)

	require.ErrorIs(t, err, ErrPredictionTimeout)
	assert.False(t, errors.Is(err, ErrPredictionFailed))
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}

func TestPollPrediction_HungServerStillHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	opts := PollOptions{Interval: 10 * time.Millisecond, Timeout: 80 * time.Millisecond, MaxErrors: 3}
	started := time.Now()
	_, err := c.PollPrediction(context.Background(), "p1", opts)

	require.ErrorIs(t, err, ErrPredictionTimeout)
	assert.Less(t, time.Since(started), time.Second)
}

func TestPollPrediction_CallerCancellation(t *testing.T) {
	handler, _ := scripted(status(PredictionProcessing, ""))
	c := newTestReplicate(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.PollPrediction(ctx, "p1", fastPoll())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_CreatesAndPolls(t *testing.T) {
	var created map[string]interface{}
	c := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/black-forest-labs/flux-schnell/predictions":
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
			status(PredictionStarting, "")(w)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			status(PredictionSucceeded, `,"output":["https://cdn.example/owl.jpg"]`)(w)
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.Generate(context.Background(), "black-forest-labs/flux-schnell", "linocut owl")
	require.NoError(t, err)
	assert.Equal(t, "p1", res.PredictionID)
	assert.Equal(t, "https://cdn.example/owl.jpg", res.ImageURL)

	input := created["input"].(map[string]interface{})
	assert.Equal(t, "linocut owl", input["prompt"])
	assert.Equal(t, "1:1", input["aspect_ratio"])
}

func TestGenerate_InvalidModel(t *testing.T) {
	c := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Generate(context.Background(), "flux", "owl")
	assert.Error(t, err)
}

func TestGenerateBatch_IsolatesFailures(t *testing.T) {
	c := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input map[string]interface{} `json:"input"`
		}
		if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&body) != nil {
			http.NotFound(w, r)
			return
		}
		if body.Input["prompt"] == "bad" {
			status(PredictionFailed, `,"error":"rejected"`)(w)
			return
		}
		status(PredictionSucceeded, `,"output":["https://cdn.example/`+body.Input["prompt"].(string)+`.jpg"]`)(w)
	})

	results := c.GenerateBatch(context.Background(), "owner/model", []string{"owl", "bad", "fox"})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "https://cdn.example/owl.jpg", results[0].Result.ImageURL)
	assert.ErrorIs(t, results[1].Err, ErrPredictionFailed)
	assert.Nil(t, results[1].Result)
	require.NoError(t, results[2].Err)
	assert.Equal(t, "fox", results[2].Prompt)
}

func TestPrediction_OutputURLs(t *testing.T) {
	p := Prediction{Output: json.RawMessage(`"https://a"`)}
	assert.Equal(t, []string{"https://a"}, p.OutputURLs())
	p.Output = json.RawMessage(`null`)
	assert.Nil(t, p.OutputURLs())
	p.Output = json.RawMessage(`{"weird":true}`)
	assert.Nil(t, p.OutputURLs())
}
