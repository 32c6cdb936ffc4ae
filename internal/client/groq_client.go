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
	"time"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/model"
)

var ErrMalformedExtraction = errors.New("malformed extraction response")

// ThemeExtractor pulls symbolic objects out of track metadata and lyrics
type ThemeExtractor interface {
	ExtractThemes(ctx context.Context, tracks []TrackInput) (*ExtractionResult, error)
	Model() string
}

// GroqClient handles communication with Groq API
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        *log.Logger
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Usage is the token count of one completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TrackInput is what the extractor sees of one track
type TrackInput struct {
	ID     string
	Name   string
	Artist string
	Lyrics string
}

// ExtractionResult carries the extractions and the billable usage. Usage is
// set whenever the completion itself succeeded, even if parsing failed.
type ExtractionResult struct {
	Extractions []model.TrackExtraction
	Model       string
	Usage       Usage
	Duration    time.Duration
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, logger *log.Logger) *GroqClient {
	return &GroqClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		log:     logger,
	}
}

func (c *GroqClient) Model() string {
	return c.model
}

// ChatCompletion sends a JSON-mode chat completion request to Groq
func (c *GroqClient) ChatCompletion(ctx context.Context, system, user string) (string, Usage, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		MaxTokens:      4096,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &APIError{Service: "groq", StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", chatResp.Usage, fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, chatResp.Usage, nil
}

const extractSystemPrompt = `You read song titles, artists and lyrics and name the concrete, drawable objects each song is about.
For every track return 1 to 4 objects. Each object is a single concrete noun (an animal, a thing, a place), never an abstract idea.
Rate each object with a tier: "high" when the song is clearly built around it, "medium" when it recurs, "low" when it is a passing image.
Respond with JSON only, in this shape:
{"tracks":[{"trackId":"<id>","objects":[{"object":"owl","tier":"high","reasoning":"<one short sentence>"}]}]}`

type extractionPayload struct {
	Tracks []struct {
		TrackID string `json:"trackId"`
		Objects []struct {
			Object    string `json:"object"`
			Tier      string `json:"tier"`
			Reasoning string `json:"reasoning"`
		} `json:"objects"`
	} `json:"tracks"`
}

// ExtractThemes asks the model for per-track objects. Tracks the model
// invents or skips are dropped; the result follows the input order.
func (c *GroqClient) ExtractThemes(ctx context.Context, tracks []TrackInput) (*ExtractionResult, error) {
	started := time.Now()
	content, usage, err := c.ChatCompletion(ctx, extractSystemPrompt, buildExtractionPrompt(tracks))
	result := &ExtractionResult{Model: c.model, Usage: usage, Duration: time.Since(started)}
	if err != nil {
		return result, err
	}

	extractions, err := parseExtractions(content, tracks)
	if err != nil {
		c.log.Warn("discarding extraction response", "err", err, "body", truncate(content, 256))
		return result, err
	}
	result.Extractions = extractions
	return result, nil
}

func buildExtractionPrompt(tracks []TrackInput) string {
	var b strings.Builder
	for _, t := range tracks {
		fmt.Fprintf(&b, "trackId: %s\ntitle: %s\nartist: %s\n", t.ID, t.Name, t.Artist)
		if t.Lyrics != "" {
			fmt.Fprintf(&b, "lyrics:\n%s\n", truncate(t.Lyrics, 1500))
		}
		b.WriteString("---\n")
	}
	return b.String()
}

func parseExtractions(content string, tracks []TrackInput) ([]model.TrackExtraction, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}

	byID := make(map[string][]model.ObjectMention, len(payload.Tracks))
	for _, t := range payload.Tracks {
		for _, o := range t.Objects {
			if strings.TrimSpace(o.Object) == "" {
				continue
			}
			byID[t.TrackID] = append(byID[t.TrackID], model.ObjectMention{
				Object:    o.Object,
				Tier:      model.Tier(strings.ToLower(strings.TrimSpace(o.Tier))),
				Reasoning: o.Reasoning,
			})
		}
	}

	out := make([]model.TrackExtraction, 0, len(tracks))
	for _, t := range tracks {
		objects, ok := byID[t.ID]
		if !ok {
			continue
		}
		out = append(out, model.TrackExtraction{TrackID: t.ID, TrackName: t.Name, Objects: objects})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no known tracks in response", ErrMalformedExtraction)
	}
	return out, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
