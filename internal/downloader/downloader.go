// Package downloader fetches song audio and cover art into memory, reporting
// audio progress as it streams.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the read size used while streaming audio.
const DefaultChunkSize = 8 * 1024

const headTimeout = 4 * time.Second

// ProgressFunc receives the fraction of audio bytes received, within [0,1].
type ProgressFunc func(float64)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Options configures a Downloader.
type Options struct {
	Client    *http.Client
	ChunkSize int
	UserAgent string
	Logger    zerolog.Logger
}

// Downloader buffers remote audio and cover bytes in memory. It never retries;
// callers decide what a failure means.
type Downloader struct {
	client    *http.Client
	chunkSize int
	userAgent string
	log       zerolog.Logger
}

// Result holds the downloaded bytes.
type Result struct {
	Audio       []byte
	Cover       []byte
	ContentType string
}

// New returns a Downloader with defaults filled in.
func New(opts Options) *Downloader {
	d := &Downloader{
		client:    opts.Client,
		chunkSize: opts.ChunkSize,
		userAgent: opts.UserAgent,
		log:       opts.Logger.With().Str("component", "downloader").Logger(),
	}
	if d.client == nil {
		d.client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 15 * time.Second,
		}}
	}
	if d.chunkSize <= 0 {
		d.chunkSize = DefaultChunkSize
	}
	if d.userAgent == "" {
		d.userAgent = "cloudplay"
	}
	return d
}

// Fetch downloads cover and audio concurrently. Only the audio leg reports
// progress. A failed cover is logged and left empty; a failed audio leg fails
// the whole fetch.
func (d *Downloader) Fetch(ctx context.Context, audioURL, coverURL string, onProgress ProgressFunc) (Result, error) {
	var (
		res   Result
		cover []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	if coverURL != "" {
		g.Go(func() error {
			b, err := d.fetchAll(gctx, coverURL)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Warn().Err(err).Str("url", coverURL).Msg("cover download failed")
				}
				return nil
			}
			cover = b
			return nil
		})
	}
	g.Go(func() error {
		audio, contentType, err := d.FetchAudio(gctx, audioURL, onProgress)
		if err != nil {
			return err
		}
		res.Audio = audio
		res.ContentType = contentType
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	res.Cover = cover
	return res, nil
}

// FetchAudio streams url into memory in bounded chunks. The total length comes
// from the GET Content-Length, then from a HEAD request; when neither is known
// no intermediate progress is reported. A final progress of 1 is always
// reported on success.
func (d *Downloader) FetchAudio(ctx context.Context, url string, onProgress ProgressFunc) ([]byte, string, error) {
	resp, err := d.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	// Length resolution order: GET Content-Length, then HEAD, then none. The
	// HEAD is issued before any body byte is consumed.
	total := resp.ContentLength
	if total <= 0 {
		total = d.headLength(ctx, url)
		if total <= 0 {
			d.log.Debug().Str("url", url).Msg("content length unknown, progress disabled")
		}
	}

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	chunk := make([]byte, d.chunkSize)
	var received int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if total > 0 && onProgress != nil {
				onProgress(Progress(received, total))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", url, err)
		}
	}

	if onProgress != nil {
		onProgress(1)
	}
	return buf.Bytes(), resp.Header.Get("Content-Type"), nil
}

func (d *Downloader) fetchAll(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

func (d *Downloader) headLength(ctx context.Context, url string) int64 {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	resp, err := d.do(ctx, http.MethodHead, url)
	if err != nil {
		d.log.Debug().Err(err).Str("url", url).Msg("HEAD for content length failed")
		return -1
	}
	resp.Body.Close()
	return resp.ContentLength
}

func (d *Downloader) do(ctx context.Context, method, url string) (*http.Response, error) {
	if !IsURL(url) {
		return nil, fmt.Errorf("invalid download url %q", url)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Progress returns received/total clamped to [0,1]. An unknown total is 0.
func Progress(received, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(received) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// IsURL returns true if the argument looks like an http(s) URL.
func IsURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}
