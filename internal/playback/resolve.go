package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/olivier-w/cloudplay/internal/cache"
	"github.com/olivier-w/cloudplay/internal/media"
	"github.com/olivier-w/cloudplay/internal/player"
	"github.com/olivier-w/cloudplay/internal/queue"
)

// resolvedSong is everything the player needs for one song.
type resolvedSong struct {
	meta   cache.Metadata
	audio  []byte
	cover  []byte
	cached bool
}

func (s resolvedSong) playerItem() player.Item {
	return player.Item{
		Title:  s.meta.Title,
		Artist: s.meta.Artist,
		Audio:  s.audio,
		Cover:  s.cover,
		Format: media.ParseFormat(s.meta.Format),
	}
}

// resolve reads the song from the cache, or resolves metadata and downloads
// it, saving the bundle afterwards. Callbacks only reach the UI state while
// sign is current.
func (c *Coordinator) resolve(ctx context.Context, sign uint64, item queue.Item) (resolvedSong, error) {
	key := item.DisplayID
	if key == "" {
		key = item.ID
	}
	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if !c.onMetadata(sign, cached.Metadata, false) {
			return resolvedSong{}, ErrSuperseded
		}
		c.onProgress(sign, 1)
		return resolvedSong{meta: cached.Metadata, audio: cached.Audio, cover: cached.Cover, cached: true}, nil
	case errors.Is(err, cache.ErrCorrupt):
		c.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, refetching")
	case !errors.Is(err, cache.ErrNotFound):
		if ctx.Err() != nil {
			return resolvedSong{}, ctx.Err()
		}
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	meta, err := c.metadata(ctx, key)
	if err != nil {
		return resolvedSong{}, err
	}
	if !c.onMetadata(sign, meta, true) {
		return resolvedSong{}, ErrSuperseded
	}

	res, err := c.fetcher.Fetch(ctx, meta.AudioURL, meta.CoverURL, func(p float64) {
		c.onProgress(sign, p)
	})
	if err != nil {
		return resolvedSong{}, fmt.Errorf("download: %w", err)
	}

	meta = withTags(meta, res.Audio)
	if meta.Format == "" {
		meta.Format = string(media.Detect(res.Audio, res.ContentType, meta.AudioURL))
	}
	song := resolvedSong{meta: meta, audio: res.Audio, cover: res.Cover}

	// The bytes are complete, so keep them even if this attempt lost.
	saveCtx := context.WithoutCancel(ctx)
	if err := c.cache.Save(saveCtx, cache.Item{Metadata: meta, Audio: res.Audio, Cover: res.Cover}); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache save failed")
	}
	return song, nil
}

// metadata reads song metadata from the cache or the catalogue.
func (c *Coordinator) metadata(ctx context.Context, key string) (cache.Metadata, error) {
	meta, err := c.cache.GetMetadata(ctx, key)
	if err == nil && meta.AudioURL != "" {
		return meta, nil
	}
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		c.log.Warn().Err(err).Str("key", key).Msg("cached metadata unusable")
	}

	detail, err := c.details.FetchSongDetail(ctx, key)
	if err != nil {
		return cache.Metadata{}, fmt.Errorf("song detail: %w", err)
	}
	meta = detail.Metadata()
	// Entries are stored under the key they are looked up by.
	meta.DisplayID = key
	if err := c.cache.SaveMetadata(ctx, meta); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("metadata save failed")
	}
	return meta, nil
}

// withTags fills a missing title or artist from embedded ID3 tags.
func withTags(meta cache.Metadata, audio []byte) cache.Metadata {
	if meta.Title != "" && meta.Artist != "" {
		return meta
	}
	tags := media.ReadTags(audio)
	if meta.Title == "" {
		meta.Title = tags.Title
	}
	if meta.Artist == "" {
		meta.Artist = tags.Artist
	}
	return meta
}

func (c *Coordinator) onMetadata(sign uint64, meta cache.Metadata, downloading bool) bool {
	return c.sessions.apply(sign, func() {
		c.store.update(func(st *UIState) {
			st.FetchingMetadata = false
			st.IsBuffering = downloading
			if meta.ID != "" {
				st.SongID = meta.ID
			}
			if meta.Title != "" {
				st.Title = meta.Title
			}
			if meta.Artist != "" {
				st.Artist = meta.Artist
			}
			if meta.CoverURL != "" {
				st.CoverURL = meta.CoverURL
			}
			if meta.DurationSecs > 0 {
				st.DurationSecs = meta.DurationSecs
			}
		})
		c.store.setLyrics(meta.Lyrics)
	})
}

func (c *Coordinator) onProgress(sign uint64, p float64) {
	c.sessions.apply(sign, func() {
		c.store.update(func(st *UIState) { st.DownloadProgress = clamp01(p) })
	})
}
