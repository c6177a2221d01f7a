// Package playback coordinates the play queue, song resolution and the audio
// player, and projects the result into an observable UI state.
package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/olivier-w/cloudplay/internal/api"
	"github.com/olivier-w/cloudplay/internal/cache"
	"github.com/olivier-w/cloudplay/internal/downloader"
	"github.com/olivier-w/cloudplay/internal/player"
	"github.com/olivier-w/cloudplay/internal/queue"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	defaultHistoryTimeout = 10 * time.Second
)

var (
	// ErrSuperseded marks a play attempt that lost to a newer one.
	ErrSuperseded = errors.New("play attempt superseded")
	// ErrNoDuration is returned by Seek when the song length is unknown.
	ErrNoDuration = errors.New("song duration unknown")
)

// DetailFetcher resolves song details by display id.
type DetailFetcher interface {
	FetchSongDetail(ctx context.Context, displayID string) (api.SongDetail, error)
}

// HistoryToucher records that a song started playing.
type HistoryToucher interface {
	TouchHistory(ctx context.Context, songID string) error
}

// Fetcher downloads audio and cover bytes.
type Fetcher interface {
	Fetch(ctx context.Context, audioURL, coverURL string, onProgress downloader.ProgressFunc) (downloader.Result, error)
}

// Options configures a Coordinator. History may be nil.
type Options struct {
	Player         player.Player
	Queue          *queue.Queue
	Cache          cache.SongCache
	Details        DetailFetcher
	History        HistoryToucher
	Downloader     Fetcher
	PollInterval   time.Duration
	HistoryTimeout time.Duration
	Logger         zerolog.Logger
}

// Coordinator is the single owner of "what is playing". Play attempts run
// concurrently; a session token decides which one may reach the player.
type Coordinator struct {
	player  player.Player
	queue   *queue.Queue
	cache   cache.SongCache
	details DetailFetcher
	history HistoryToucher
	fetcher Fetcher
	store   *Store
	log     zerolog.Logger

	sessions       sessions
	pollInterval   time.Duration
	historyTimeout time.Duration
	listener       player.ListenerID

	root      context.Context
	stop      context.CancelFunc
	tasks     sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	pollDone  chan struct{}
}

// New wires a coordinator and registers it as a player listener.
func New(opts Options) *Coordinator {
	root, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		player:         opts.Player,
		queue:          opts.Queue,
		cache:          opts.Cache,
		details:        opts.Details,
		history:        opts.History,
		fetcher:        opts.Downloader,
		store:          newStore(opts.Player.Volume()),
		log:            opts.Logger.With().Str("component", "playback").Logger(),
		pollInterval:   opts.PollInterval,
		historyTimeout: opts.HistoryTimeout,
		root:           root,
		stop:           stop,
	}
	if c.queue == nil {
		c.queue = queue.New()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.historyTimeout <= 0 {
		c.historyTimeout = defaultHistoryTimeout
	}
	c.listener = c.player.AddListener(c.onPlayerEvent)
	return c
}

// State returns the observable UI state.
func (c *Coordinator) State() *Store { return c.store }

// Items returns the queue in play order.
func (c *Coordinator) Items() []queue.Item { return c.queue.Items() }

// CurrentID returns the effective current song id.
func (c *Coordinator) CurrentID() string { return c.queue.Effective() }

// Start launches the position polling loop. Later calls do nothing.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.pollDone = make(chan struct{})
		go c.poll(ctx)
	})
}

func (c *Coordinator) poll(ctx context.Context) {
	defer close(c.pollDone)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.root.Done():
			return
		case <-ticker.C:
			if c.player.IsPlaying() {
				c.store.setPosition(c.player.CurrentPosition())
			}
		}
	}
}

// Close stops polling, abandons the running play attempt and detaches from
// the player. It does not close the player.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.sessions.invalidate(nil)
		c.stop()
		c.startOnce.Do(func() {})
		if c.pollDone != nil {
			<-c.pollDone
		}
		c.player.RemoveListener(c.listener)
		c.store.close()
	})
}

// Wait blocks until every running play attempt and history touch returned.
func (c *Coordinator) Wait() { c.tasks.Wait() }

// Play starts a new play attempt for item and returns immediately. Any
// attempt still in flight is superseded.
func (c *Coordinator) Play(item queue.Item) {
	c.player.Pause()
	sign, ctx := c.sessions.begin(c.root, func() {
		c.queue.SetTarget(item.ID)
	})

	c.sessions.apply(sign, func() {
		c.store.update(func(st *UIState) {
			volume := st.Volume
			*st = UIState{
				HasSong:          true,
				FetchingMetadata: true,
				SongID:           item.ID,
				DisplayID:        item.DisplayID,
				Title:            item.Title,
				Artist:           item.Artist,
				CoverURL:         item.CoverURL,
				DurationSecs:     item.DurationSecs,
				Volume:           volume,
			}
		})
		c.store.setLyrics("")
	})

	c.log.Debug().Uint64("session", sign).Str("song", item.ID).Msg("play requested")
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.run(ctx, sign, item)
	}()
}

func (c *Coordinator) run(ctx context.Context, sign uint64, item queue.Item) {
	defer func() {
		c.sessions.apply(sign, func() {
			c.store.update(func(st *UIState) {
				st.FetchingMetadata = false
				st.IsBuffering = false
			})
			c.queue.ClearTarget(item.ID)
		})
		c.sessions.finish(sign)
	}()

	song, err := c.resolve(ctx, sign, item)
	if err != nil {
		c.abandon(sign, item, err)
		return
	}

	var prepareErr error
	handed := c.sessions.apply(sign, func() {
		prepareErr = c.player.Prepare(song.playerItem(), true)
		if prepareErr != nil {
			return
		}
		c.queue.SetLoaded(item.ID)
		c.store.update(func(st *UIState) {
			st.HasSong = true
			st.IsBuffering = false
			st.FetchingMetadata = false
			st.DownloadProgress = 1
			st.CurrentMillis = 0
			if song.meta.Title != "" {
				st.Title = song.meta.Title
			}
			if song.meta.Artist != "" {
				st.Artist = song.meta.Artist
			}
		})
	})
	if !handed {
		c.log.Debug().Uint64("session", sign).Str("song", item.ID).Msg("superseded before handoff")
		return
	}
	if prepareErr != nil {
		c.abandon(sign, item, prepareErr)
		return
	}
	c.log.Info().Str("song", item.ID).Str("title", song.meta.Title).Bool("cached", song.cached).Msg("playing")

	songID := song.meta.ID
	if songID == "" {
		songID = item.ID
	}
	c.touchHistory(songID)
}

// abandon ends a failed attempt. Cancellation and supersession stay quiet;
// anything else becomes an alert when the attempt is still current.
func (c *Coordinator) abandon(sign uint64, item queue.Item, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSuperseded) || !c.sessions.isCurrent(sign) {
		c.log.Debug().Err(err).Uint64("session", sign).Str("song", item.ID).Msg("play attempt cancelled")
		return
	}
	c.log.Error().Err(err).Uint64("session", sign).Str("song", item.ID).Msg("play attempt failed")
	c.sessions.apply(sign, func() {
		c.store.alert(failureMessage(item, err))
	})
}

func failureMessage(item queue.Item, err error) string {
	name := item.Title
	if name == "" {
		name = item.DisplayID
	}
	return "Could not play " + name + ": " + err.Error()
}

// touchHistory runs detached from the session; failures are only logged.
func (c *Coordinator) touchHistory(songID string) {
	if c.history == nil {
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.historyTimeout)
		defer cancel()
		if err := c.history.TouchHistory(ctx, songID); err != nil {
			c.log.Warn().Err(err).Str("song", songID).Msg("history touch failed")
		}
	}()
}

func (c *Coordinator) onPlayerEvent(ev player.Event) {
	switch ev.Kind {
	case player.EventPlay:
		c.store.update(func(st *UIState) { st.IsPlaying = true })
	case player.EventPause:
		c.store.update(func(st *UIState) { st.IsPlaying = false })
	case player.EventSeek:
		c.store.setPosition(ev.PositionMs)
	case player.EventEnd:
		c.store.update(func(st *UIState) { st.IsPlaying = false })
		c.Next()
	case player.EventError:
		c.store.update(func(st *UIState) { st.IsPlaying = false })
		c.log.Error().Err(ev.Err).Msg("player error")
		msg := "Playback failed"
		if ev.Err != nil {
			msg += ": " + ev.Err.Error()
		}
		c.store.alert(msg)
	}
}

// Insert queues item; see queue.Insert for placement. With instantPlay the
// item is played even when it was already queued. Reports whether the queue
// changed.
func (c *Coordinator) Insert(item queue.Item, instantPlay, appendTail bool) bool {
	inserted := c.queue.Insert(item, appendTail)
	if instantPlay {
		if queued, ok := c.queue.Get(item.ID); ok {
			item = queued
		}
		c.Play(item)
	}
	return inserted
}

// PlayAll replaces the queue and plays its first item.
func (c *Coordinator) PlayAll(items []queue.Item) {
	c.player.Pause()
	c.queue.Replace(items)
	first, ok := c.queue.Step(0)
	if !ok {
		c.Stop()
		return
	}
	c.Play(first)
}

// Remove dequeues id. Removing the current song advances to the next one, or
// stops playback when it was the only song.
func (c *Coordinator) Remove(id string) bool {
	next, wasCurrent, removed := c.queue.RemoveAdvancing(id)
	if !removed {
		return false
	}
	if wasCurrent {
		if next.ID != "" {
			c.Play(next)
		} else {
			c.Stop()
		}
	}
	return true
}

// Next plays the item after the current one, wrapping around.
func (c *Coordinator) Next() {
	if item, ok := c.queue.Step(1); ok {
		c.Play(item)
	}
}

// Previous plays the item before the current one, wrapping around.
func (c *Coordinator) Previous() {
	if item, ok := c.queue.Step(-1); ok {
		c.Play(item)
	}
}

// Stop abandons any play attempt, pauses the player and clears the song.
func (c *Coordinator) Stop() {
	c.sessions.invalidate(func() {
		c.queue.Reset()
		c.store.reset()
	})
	c.player.Pause()
}

// TogglePause pauses a playing song or resumes a loaded one.
func (c *Coordinator) TogglePause() {
	if c.player.IsPlaying() {
		c.player.Pause()
		return
	}
	if c.store.Snapshot().HasSong {
		c.player.Play()
	}
}

// Seek jumps to progress (0..1) of the current song and updates the shown
// position right away.
func (c *Coordinator) Seek(progress float64) error {
	dur := c.store.Snapshot().DurationSecs
	if dur <= 0 {
		return ErrNoDuration
	}
	progress = clamp01(progress)
	return c.seekTo(int64(math.Round(progress * float64(dur) * 1000)))
}

// SeekBy moves the position by deltaMs, clamped to the song.
func (c *Coordinator) SeekBy(deltaMs int64) error {
	st := c.store.Snapshot()
	if st.DurationSecs <= 0 {
		return ErrNoDuration
	}
	target := st.CurrentMillis + deltaMs
	if target < 0 {
		target = 0
	}
	if end := int64(st.DurationSecs) * 1000; target > end {
		target = end
	}
	return c.seekTo(target)
}

func (c *Coordinator) seekTo(ms int64) error {
	if err := c.player.Seek(ms, true); err != nil {
		return err
	}
	c.store.setPosition(ms)
	return nil
}

// SetVolume sets the player volume (0..1).
func (c *Coordinator) SetVolume(v float64) {
	c.player.SetVolume(v)
	volume := c.player.Volume()
	c.store.update(func(st *UIState) { st.Volume = volume })
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
