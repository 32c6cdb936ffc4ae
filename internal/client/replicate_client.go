package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/config"
)

// Prediction states reported by the API
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

var (
	ErrPredictionFailed   = errors.New("prediction failed")
	ErrPredictionCanceled = errors.New("prediction canceled")
	ErrPredictionTimeout  = errors.New("prediction timed out")
	ErrTooManyPollErrors  = errors.New("too many consecutive poll errors")
	ErrNoOutput           = errors.New("prediction returned no output")
)

// ImageGenerator creates images from prompts
type ImageGenerator interface {
	Generate(ctx context.Context, model, prompt string) (*GenerationResult, error)
	GenerateBatch(ctx context.Context, model string, prompts []string) []BatchResult
	Download(ctx context.Context, url string) ([]byte, error)
}

// ReplicateClient implements ImageGenerator for a Replicate-style
// predictions API
type ReplicateClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	poll       PollOptions
	log        *log.Logger
}

// Prediction is an asynchronous model run
type Prediction struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

// OutputURLs returns the output as a list of URLs. Models return either a
// single URL or an array of them.
func (p *Prediction) OutputURLs() []string {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return nil
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(p.Output, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// ErrorMessage returns the inner error reported by the model run.
func (p *Prediction) ErrorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}

// PollOptions bound a polling loop
type PollOptions struct {
	Interval  time.Duration
	Timeout   time.Duration
	MaxErrors int
}

// GenerationResult is a finished image prediction
type GenerationResult struct {
	PredictionID string
	ImageURL     string
	Duration     time.Duration
}

// BatchResult is the outcome of one prompt in a batch
type BatchResult struct {
	Prompt string
	Result *GenerationResult
	Err    error
}

// NewReplicateClient creates a new predictions API client
func NewReplicateClient(cfg *config.ReplicateConfig, logger *log.Logger) *ReplicateClient {
	return &ReplicateClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		poll: PollOptions{
			Interval:  cfg.PollInterval,
			Timeout:   cfg.Timeout,
			MaxErrors: cfg.MaxPollErrs,
		},
		log: logger,
	}
}

// CreatePrediction starts a run of an official model ("owner/name")
func (c *ReplicateClient) CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*Prediction, error) {
	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid model %q: want owner/name", model)
	}
	body := map[string]interface{}{"input": input}

	var prediction Prediction
	endpoint := fmt.Sprintf("/v1/models/%s/%s/predictions", owner, name)
	if err := c.do(ctx, http.MethodPost, endpoint, body, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// GetPrediction fetches the current state of a prediction
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var prediction Prediction
	if err := c.do(ctx, http.MethodGet, "/v1/predictions/"+id, nil, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// CancelPrediction asks the API to stop a prediction
func (c *ReplicateClient) CancelPrediction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/predictions/"+id+"/cancel", nil, nil)
}

// PollPrediction waits until the prediction reaches a terminal state.
// Transport and HTTP errors are tolerated until MaxErrors happen in a row;
// any successful poll resets the count. The whole wait is bounded by
// Timeout, which surfaces as ErrPredictionTimeout.
func (c *ReplicateClient) PollPrediction(ctx context.Context, id string, opts PollOptions) (*Prediction, error) {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 3
	}
	pollCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	consecutive := 0
	for attempt := 1; ; attempt++ {
		prediction, err := c.GetPrediction(pollCtx, id)
		switch {
		case err != nil && pollCtx.Err() != nil:
			return nil, c.pollStopped(ctx, id, opts.Timeout)
		case err != nil:
			consecutive++
			c.log.Warn("poll failed", "prediction", id, "attempt", attempt, "consecutive", consecutive, "err", err)
			if consecutive >= opts.MaxErrors {
				return nil, fmt.Errorf("%w (%d): %v", ErrTooManyPollErrors, consecutive, err)
			}
		default:
			consecutive = 0
			c.log.Debug("poll", "prediction", id, "attempt", attempt, "status", prediction.Status)
			if done, err := terminal(prediction); done {
				return prediction, err
			}
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return nil, c.pollStopped(ctx, id, opts.Timeout)
		case <-timer.C:
		}
	}
}

// pollStopped tells a caller cancellation apart from the poll deadline and
// cancels the abandoned prediction on timeout.
func (c *ReplicateClient) pollStopped(parent context.Context, id string, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.CancelPrediction(cancelCtx, id); err != nil {
		c.log.Warn("failed to cancel timed out prediction", "prediction", id, "err", err)
	}
	return fmt.Errorf("%w after %v", ErrPredictionTimeout, timeout)
}

// Generate creates a square cover prediction, waits for it and returns the
// first output URL
func (c *ReplicateClient) Generate(ctx context.Context, model, prompt string) (*GenerationResult, error) {
	started := time.Now()
	prediction, err := c.CreatePrediction(ctx, model, coverInput(prompt))
	if err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}
	c.log.Info("prediction created", "prediction", prediction.ID, "model", model)

	done, err := terminal(prediction)
	if !done {
		prediction, err = c.PollPrediction(ctx, prediction.ID, c.poll)
	}
	if err != nil {
		return nil, err
	}

	urls := prediction.OutputURLs()
	if len(urls) == 0 {
		return nil, ErrNoOutput
	}
	return &GenerationResult{
		PredictionID: prediction.ID,
		ImageURL:     urls[0],
		Duration:     time.Since(started),
	}, nil
}

// GenerateBatch runs one prediction per prompt concurrently. Results keep
// the prompt order and each carries its own error.
func (c *ReplicateClient) GenerateBatch(ctx context.Context, model string, prompts []string) []BatchResult {
	results := make([]BatchResult, len(prompts))

	var wg sync.WaitGroup
	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			res, err := c.Generate(ctx, model, prompt)
			results[i] = BatchResult{Prompt: prompt, Result: res, Err: err}
		}(i, prompt)
	}
	wg.Wait()

	return results
}

// Download fetches a prediction output
func (c *ReplicateClient) Download(ctx context.Context, url string) ([]byte, error) {
	return fetchBytes(ctx, c.httpClient, url, maxImageBytes)
}

// terminal reports whether the prediction has finished and how.
func terminal(p *Prediction) (bool, error) {
	switch p.Status {
	case PredictionSucceeded:
		return true, nil
	case PredictionFailed:
		return true, fmt.Errorf("%w: %s", ErrPredictionFailed, p.ErrorMessage())
	case PredictionCanceled:
		return true, ErrPredictionCanceled
	}
	return false, nil
}

func coverInput(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"prompt":        prompt,
		"aspect_ratio":  "1:1",
		"output_format": "jpg",
		"num_outputs":   1,
	}
}

// do sends a JSON request and decodes the JSON response into result
func (c *ReplicateClient) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: "replicate", StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ReplicateClient) IsConfigured() bool {
	return c.apiKey != ""
}
