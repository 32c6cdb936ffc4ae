package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/model"
)

// MaxCoverBytes is the largest cover upload body the platform accepts. The
// body is the base64 encoded JPEG.
const MaxCoverBytes = 256 << 10

// CoverBodySize is the upload body size for a JPEG of n bytes.
func CoverBodySize(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}

var (
	ErrNoCover          = errors.New("playlist has no cover image")
	ErrNotAuthenticated = errors.New("user has no platform credentials")
)

// PlaylistProvider reads and updates playlists on the streaming platform
type PlaylistProvider interface {
	PlaylistTracks(ctx context.Context, user *model.User, playlistID string) ([]Track, error)
	UploadCover(ctx context.Context, user *model.User, playlistID string, jpeg []byte) error
	DownloadCover(ctx context.Context, user *model.User, playlistID string) ([]byte, error)
}

// Track is a playlist entry
type Track struct {
	ID     string
	Name   string
	Artist string
	Album  string
}

// SpotifyClient implements PlaylistProvider for the Spotify Web API. Calls
// are rate limited client-side and authorized with each user's refresh
// token.
type SpotifyClient struct {
	oauth      *oauth2.Config
	baseURL    string
	limiter    *rate.Limiter
	downloader *http.Client
	log        *log.Logger

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

type spotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type spotifyTrackPage struct {
	Items []struct {
		Track *struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
		} `json:"track"`
	} `json:"items"`
	Next *string `json:"next"`
}

// NewSpotifyClient creates a new Spotify Web API client
func NewSpotifyClient(cfg *config.SpotifyConfig, logger *log.Logger) *SpotifyClient {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &SpotifyClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{"playlist-read-private", "playlist-modify-public", "playlist-modify-private", "ugc-image-upload"},
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		downloader: &http.Client{Timeout: 30 * time.Second},
		log:        logger,
		tokens:     make(map[string]oauth2.TokenSource),
	}
}

// tokenSource caches one refreshing token source per user
func (c *SpotifyClient) tokenSource(user *model.User) (oauth2.TokenSource, error) {
	if user.SpotifyRefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.tokens[user.ID]; ok {
		return ts, nil
	}
	ts := c.oauth.TokenSource(context.Background(), &oauth2.Token{RefreshToken: user.SpotifyRefreshToken})
	c.tokens[user.ID] = ts
	return ts, nil
}

// PlaylistTracks lists every track of the playlist, following pagination.
// Local files and removed tracks are skipped.
func (c *SpotifyClient) PlaylistTracks(ctx context.Context, user *model.User, playlistID string) ([]Track, error) {
	fields := url.QueryEscape("items(track(id,name,artists(name),album(name))),next")
	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=100&fields=%s", url.PathEscape(playlistID), fields)

	var tracks []Track
	for endpoint != "" {
		var page spotifyTrackPage
		if err := c.doRequest(ctx, user, http.MethodGet, endpoint, nil, "", &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == "" {
				continue
			}
			t := Track{ID: item.Track.ID, Name: item.Track.Name, Album: item.Track.Album.Name}
			if len(item.Track.Artists) > 0 {
				t.Artist = item.Track.Artists[0].Name
			}
			tracks = append(tracks, t)
		}

		endpoint = ""
		if page.Next != nil && *page.Next != "" {
			endpoint = strings.TrimPrefix(*page.Next, c.baseURL)
		}
	}
	return tracks, nil
}

// CoverURL returns the URL of the playlist's current cover
func (c *SpotifyClient) CoverURL(ctx context.Context, user *model.User, playlistID string) (string, error) {
	var images []spotifyImage
	endpoint := fmt.Sprintf("/playlists/%s/images", url.PathEscape(playlistID))
	if err := c.doRequest(ctx, user, http.MethodGet, endpoint, nil, "", &images); err != nil {
		return "", err
	}
	if len(images) == 0 || images[0].URL == "" {
		return "", ErrNoCover
	}
	return images[0].URL, nil
}

// DownloadCover fetches the image currently live on the playlist
func (c *SpotifyClient) DownloadCover(ctx context.Context, user *model.User, playlistID string) ([]byte, error) {
	coverURL, err := c.CoverURL(ctx, user, playlistID)
	if err != nil {
		return nil, err
	}
	return fetchBytes(ctx, c.downloader, coverURL, maxImageBytes)
}

// UploadCover replaces the playlist cover with a base64 encoded JPEG
func (c *SpotifyClient) UploadCover(ctx context.Context, user *model.User, playlistID string, jpeg []byte) error {
	if size := CoverBodySize(len(jpeg)); size > MaxCoverBytes {
		return fmt.Errorf("cover body is %d bytes, limit %d: %w", size, MaxCoverBytes, ErrTooLarge)
	}
	body := []byte(base64.StdEncoding.EncodeToString(jpeg))
	endpoint := fmt.Sprintf("/playlists/%s/images", url.PathEscape(playlistID))
	return c.doRequest(ctx, user, http.MethodPut, endpoint, body, "image/jpeg", nil)
}

// doRequest performs an authenticated, rate limited request
func (c *SpotifyClient) doRequest(ctx context.Context, user *model.User, method, endpoint string, body []byte, contentType string, result interface{}) error {
	ts, err := c.tokenSource(user)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = 30 * time.Second
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("spotify request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
		return &APIError{Service: "spotify", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
