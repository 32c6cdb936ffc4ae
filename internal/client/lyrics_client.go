package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coverloop/api/internal/config"
)

var ErrLyricsNotFound = errors.New("lyrics not found")

// LyricsSource looks up plain lyrics for a track
type LyricsSource interface {
	Lookup(ctx context.Context, track, artist string) (string, error)
}

// LyricsClient implements LyricsSource against LRCLIB
type LyricsClient struct {
	httpClient *http.Client
	baseURL    string
}

type lrclibTrack struct {
	ID           int    `json:"id"`
	TrackName    string `json:"trackName"`
	ArtistName   string `json:"artistName"`
	Instrumental bool   `json:"instrumental"`
	PlainLyrics  string `json:"plainLyrics"`
}

// NewLyricsClient creates a new LRCLIB client
func NewLyricsClient(cfg *config.LyricsConfig) *LyricsClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LyricsClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Lookup returns the plain lyrics of a track. Instrumentals and misses
// return ErrLyricsNotFound.
func (c *LyricsClient) Lookup(ctx context.Context, track, artist string) (string, error) {
	q := url.Values{}
	q.Set("track_name", track)
	q.Set("artist_name", artist)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "coverloop (https://github.com/coverloop/api)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrLyricsNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Service: "lrclib", StatusCode: resp.StatusCode}
	}

	var result lrclibTrack
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Instrumental || strings.TrimSpace(result.PlainLyrics) == "" {
		return "", ErrLyricsNotFound
	}
	return result.PlainLyrics, nil
}
