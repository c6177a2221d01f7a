// Package api talks to the song catalogue service: song details for playback
// and the listening-history endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/olivier-w/cloudplay/internal/cache"
	"github.com/olivier-w/cloudplay/internal/queue"
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// SongDetail is the catalogue's description of one song.
type SongDetail struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	DurationSecs int    `json:"durationSeconds"`
	CoverURL     string `json:"coverUrl"`
	AudioURL     string `json:"audioUrl"`
	Lyrics       string `json:"lyrics,omitempty"`
	Format       string `json:"format,omitempty"`
}

// Metadata converts the detail to its cached form.
func (d SongDetail) Metadata() cache.Metadata {
	return cache.Metadata{
		ID:           d.ID,
		DisplayID:    d.DisplayID,
		Title:        d.Title,
		Artist:       d.Artist,
		DurationSecs: d.DurationSecs,
		CoverURL:     d.CoverURL,
		AudioURL:     d.AudioURL,
		Lyrics:       d.Lyrics,
		Format:       d.Format,
	}
}

// QueueItem converts the detail into a queue entry.
func (d SongDetail) QueueItem() queue.Item {
	return queue.Item{
		ID:           d.ID,
		DisplayID:    d.DisplayID,
		Title:        d.Title,
		Artist:       d.Artist,
		DurationSecs: d.DurationSecs,
		CoverURL:     d.CoverURL,
	}
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    *Session
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Client is a small REST client for the catalogue service.
type Client struct {
	base    string
	http    *http.Client
	session *Session
	log     zerolog.Logger
}

// NewClient returns a client for the service rooted at opts.BaseURL.
func NewClient(opts Options) *Client {
	c := &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		session: opts.Session,
		log:     opts.Logger.With().Str("component", "api").Logger(),
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.session == nil {
		c.session = NewSession("")
	}
	return c
}

// Session returns the session used for authenticated calls.
func (c *Client) Session() *Session { return c.session }

// FetchSongDetail loads the detail of the song with displayID.
func (c *Client) FetchSongDetail(ctx context.Context, displayID string) (SongDetail, error) {
	if displayID == "" {
		return SongDetail{}, fmt.Errorf("fetch song detail: empty display id")
	}
	resp, err := c.do(ctx, http.MethodGet, "/songs/"+url.PathEscape(displayID), false)
	if err != nil {
		return SongDetail{}, fmt.Errorf("fetch song detail %s: %w", displayID, err)
	}
	defer resp.Body.Close()

	var detail SongDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return SongDetail{}, fmt.Errorf("decode song detail %s: %w", displayID, err)
	}
	if detail.DisplayID == "" {
		detail.DisplayID = displayID
	}
	if detail.AudioURL == "" {
		return SongDetail{}, fmt.Errorf("song %s has no audio url", displayID)
	}
	return detail, nil
}

// TouchHistory records that songID started playing. Signed-in sessions use
// the authenticated endpoint, everyone else the anonymous one.
func (c *Client) TouchHistory(ctx context.Context, songID string) error {
	if songID == "" {
		return fmt.Errorf("touch history: empty song id")
	}
	path := "/history/anonymous/" + url.PathEscape(songID)
	auth := c.session.LoggedIn()
	if auth {
		path = "/history/" + url.PathEscape(songID)
	}
	resp, err := c.do(ctx, http.MethodPost, path, auth)
	if err != nil {
		return fmt.Errorf("touch history %s: %w", songID, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.log.Debug().Str("song", songID).Bool("auth", auth).Msg("history touched")
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.session.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
