package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-w/cloudplay/internal/api"
	"github.com/olivier-w/cloudplay/internal/cache"
	"github.com/olivier-w/cloudplay/internal/downloader"
	"github.com/olivier-w/cloudplay/internal/player"
	"github.com/olivier-w/cloudplay/internal/queue"
)

type fakeDetails struct {
	mu    sync.Mutex
	songs map[string]api.SongDetail
	calls int
}

func (f *fakeDetails) FetchSongDetail(_ context.Context, displayID string) (api.SongDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.songs[displayID]
	if !ok {
		return api.SongDetail{}, &api.StatusError{Method: http.MethodGet, Path: "/songs/" + displayID, StatusCode: http.StatusNotFound}
	}
	return d, nil
}

func (f *fakeDetails) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFetcher serves audio per URL. A gated URL blocks until released and
// ignores cancellation, like a download that keeps running in the background.
type fakeFetcher struct {
	mu      sync.Mutex
	audio   map[string][]byte
	gates   map[string]chan struct{}
	started chan string
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		audio:   make(map[string][]byte),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (f *fakeFetcher) gate(url string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[url] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeFetcher) Fetch(_ context.Context, audioURL, coverURL string, onProgress downloader.ProgressFunc) (downloader.Result, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[audioURL]
	audio, ok := f.audio[audioURL]
	f.mu.Unlock()

	f.started <- audioURL
	if gate != nil {
		<-gate
	}
	if !ok {
		return downloader.Result{}, &downloader.StatusError{URL: audioURL, StatusCode: http.StatusNotFound}
	}
	onProgress(0.5)
	onProgress(1)
	return downloader.Result{Audio: audio, Cover: []byte("cover:" + coverURL)}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHistory struct {
	mu    sync.Mutex
	ids   []string
	err   error
	calls int
}

func (f *fakeHistory) TouchHistory(_ context.Context, songID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, songID)
	return nil
}

func (f *fakeHistory) touched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type harness struct {
	c       *Coordinator
	player  *player.Mock
	cache   cache.SongCache
	details *fakeDetails
	fetcher *fakeFetcher
	history *fakeHistory
}

func song(id string) api.SongDetail {
	return api.SongDetail{
		ID:           id,
		DisplayID:    "d" + id,
		Title:        "Song " + id,
		Artist:       "Artist " + id,
		DurationSecs: 100,
		CoverURL:     "http://cdn/" + id + ".jpg",
		AudioURL:     "http://cdn/" + id + ".mp3",
	}
}

func newHarness(t *testing.T, songs ...api.SongDetail) *harness {
	t.Helper()
	mem, err := cache.NewMemory(8, nil)
	require.NoError(t, err)
	return newHarnessWithCache(t, mem, songs...)
}

func newHarnessWithCache(t *testing.T, c cache.SongCache, songs ...api.SongDetail) *harness {
	t.Helper()
	mock := player.NewMock()
	return newHarnessWithPlayer(t, c, mock, mock, songs...)
}

// newHarnessWithPlayer lets p wrap mock, which still records what reached
// the player.
func newHarnessWithPlayer(t *testing.T, c cache.SongCache, p player.Player, mock *player.Mock, songs ...api.SongDetail) *harness {
	t.Helper()
	h := &harness{
		player:  mock,
		cache:   c,
		details: &fakeDetails{songs: make(map[string]api.SongDetail)},
		fetcher: newFakeFetcher(),
		history: &fakeHistory{},
	}
	for _, s := range songs {
		h.details.songs[s.DisplayID] = s
		h.fetcher.audio[s.AudioURL] = []byte("audio:" + s.ID)
	}
	h.c = New(Options{
		Player:     p,
		Queue:      queue.New(),
		Cache:      h.cache,
		Details:    h.details,
		History:    h.history,
		Downloader: h.fetcher,
		Logger:     zerolog.Nop(),
	})
	t.Cleanup(func() {
		h.c.Close()
		h.c.Wait()
	})
	return h
}

func items(songs ...api.SongDetail) []queue.Item {
	out := make([]queue.Item, len(songs))
	for i, s := range songs {
		out[i] = s.QueueItem()
	}
	return out
}

func (h *harness) preparedTitles() []string {
	var titles []string
	for _, it := range h.player.Prepared() {
		titles = append(titles, it.Title)
	}
	return titles
}

func (h *harness) queueIDs() []string {
	var ids []string
	for _, it := range h.c.Items() {
		ids = append(ids, it.ID)
	}
	return ids
}

func waitStarted(t *testing.T, f *fakeFetcher, url string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, url, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("download of %s never started", url)
	}
}

func TestPlayResolvesDownloadsAndPrepares(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)

	h.c.Play(a.QueueItem())
	h.c.Wait()

	last, ok := h.player.Last()
	require.True(t, ok)
	assert.Equal(t, "Song a", last.Title)
	assert.Equal(t, []byte("audio:a"), last.Audio)
	assert.Equal(t, "a", h.c.CurrentID())

	st := h.c.State().Snapshot()
	assert.True(t, st.HasSong)
	assert.True(t, st.IsPlaying)
	assert.False(t, st.IsBuffering)
	assert.False(t, st.FetchingMetadata)
	assert.Equal(t, 1.0, st.DownloadProgress)
	assert.Equal(t, "Artist a", st.Artist)

	cached, err := h.cache.Get(context.Background(), "da")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:a"), cached.Audio)
	assert.Equal(t, []byte("cover:http://cdn/a.jpg"), cached.Cover)

	assert.Equal(t, []string{"a"}, h.history.touched())
}

func TestPlayFromCacheSkipsNetwork(t *testing.T) {
	a := song("a")
	h := newHarness(t)
	require.NoError(t, h.cache.Save(context.Background(), cache.Item{
		Metadata: a.Metadata(),
		Audio:    []byte("cached audio"),
		Cover:    []byte("cached cover"),
	}))

	h.c.Play(a.QueueItem())
	h.c.Wait()

	last, ok := h.player.Last()
	require.True(t, ok)
	assert.Equal(t, []byte("cached audio"), last.Audio)
	assert.Equal(t, []byte("cached cover"), last.Cover)
	assert.Zero(t, h.details.callCount())
	assert.Zero(t, h.fetcher.callCount())
	assert.Equal(t, 1.0, h.c.State().Snapshot().DownloadProgress)
}

func TestSupersededSessionNeverReachesPlayer(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)
	releaseA := h.fetcher.gate(a.AudioURL)

	h.c.Play(a.QueueItem())
	waitStarted(t, h.fetcher, a.AudioURL)

	h.c.Play(b.QueueItem())
	require.Eventually(t, func() bool { return len(h.player.Prepared()) == 1 }, 2*time.Second, 5*time.Millisecond)

	close(releaseA)
	h.c.Wait()

	assert.Equal(t, []string{"Song b"}, h.preparedTitles())
	after := h.c.State().Snapshot()
	assert.Equal(t, "Song b", after.Title)
	assert.Equal(t, "b", after.SongID)
	assert.Equal(t, 1.0, after.DownloadProgress)
	assert.True(t, after.IsPlaying)
	assert.Equal(t, "b", h.c.CurrentID())
	assert.Equal(t, []string{"b"}, h.history.touched())
	assert.Empty(t, h.c.State().Alerts())
}

func TestStopDiscardsInFlightAttempt(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)
	release := h.fetcher.gate(a.AudioURL)

	h.c.Play(a.QueueItem())
	waitStarted(t, h.fetcher, a.AudioURL)
	h.c.Stop()
	close(release)
	h.c.Wait()

	assert.Empty(t, h.player.Prepared())
	st := h.c.State().Snapshot()
	assert.False(t, st.HasSong)
	assert.False(t, st.FetchingMetadata)
	assert.Empty(t, h.c.CurrentID())
}

// gatedPlayer blocks Prepare until released, holding the handoff open.
type gatedPlayer struct {
	*player.Mock
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPlayer) Prepare(item player.Item, autoPlay bool) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Mock.Prepare(item, autoPlay)
}

func TestStopDuringHandoffClearsCurrent(t *testing.T) {
	a := song("a")
	mem, err := cache.NewMemory(8, nil)
	require.NoError(t, err)
	gp := &gatedPlayer{Mock: player.NewMock(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarnessWithPlayer(t, mem, gp, gp.Mock, a)

	h.c.Play(a.QueueItem())
	select {
	case <-gp.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handoff never reached the player")
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.c.Stop()
	}()
	time.Sleep(20 * time.Millisecond)
	close(gp.release)
	<-stopped
	h.c.Wait()

	assert.Empty(t, h.c.CurrentID())
	st := h.c.State().Snapshot()
	assert.False(t, st.HasSong)
	assert.Empty(t, st.SongID)
}

func TestConcurrentPlaysAgreeOnCurrentSong(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)

	for i := 0; i < 100; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.c.Play(a.QueueItem())
		}()
		go func() {
			defer wg.Done()
			h.c.Play(b.QueueItem())
		}()
		wg.Wait()
		h.c.Wait()

		st := h.c.State().Snapshot()
		require.NotEmpty(t, st.SongID, "iteration %d", i)
		require.Equal(t, st.SongID, h.c.CurrentID(), "iteration %d", i)
		last, ok := h.player.Last()
		require.True(t, ok)
		require.Equal(t, st.Title, last.Title, "iteration %d", i)
	}
}

func TestSongWithoutDisplayIDIsCachedUnderItsID(t *testing.T) {
	x := song("x")
	x.DisplayID = ""
	h := newHarness(t)
	h.details.songs["x"] = x
	h.fetcher.audio[x.AudioURL] = []byte("audio:x")

	h.c.Play(x.QueueItem())
	h.c.Wait()

	cached, err := h.cache.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:x"), cached.Audio)

	h.c.Play(x.QueueItem())
	h.c.Wait()

	assert.Equal(t, 1, h.fetcher.callCount())
	assert.Equal(t, 1, h.details.callCount())
	assert.Equal(t, []string{"Song x", "Song x"}, h.preparedTitles())
}

func TestDetailFailureRaisesAlert(t *testing.T) {
	h := newHarness(t)
	h.c.Play(queue.Item{ID: "x", DisplayID: "dx", Title: "Missing"})
	h.c.Wait()

	assert.Empty(t, h.player.Prepared())
	alerts := h.c.State().Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "Could not play Missing")
	st := h.c.State().Snapshot()
	assert.False(t, st.FetchingMetadata)
	assert.False(t, st.IsBuffering)
}

func TestDownloadFailureRaisesAlert(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)
	delete(h.fetcher.audio, a.AudioURL)

	h.c.Play(a.QueueItem())
	h.c.Wait()

	assert.Empty(t, h.player.Prepared())
	require.Len(t, h.c.State().Alerts(), 1)
	assert.Empty(t, h.history.touched())
}

type corruptCache struct{ cache.SongCache }

func (corruptCache) Get(context.Context, string) (cache.Item, error) {
	return cache.Item{}, fmt.Errorf("decode: %w", cache.ErrCorrupt)
}

func TestCorruptCacheFallsThroughToNetwork(t *testing.T) {
	a := song("a")
	mem, err := cache.NewMemory(4, nil)
	require.NoError(t, err)
	h := newHarnessWithCache(t, corruptCache{mem}, a)

	h.c.Play(a.QueueItem())
	h.c.Wait()

	assert.Equal(t, []string{"Song a"}, h.preparedTitles())
	assert.Equal(t, 1, h.fetcher.callCount())
	assert.Empty(t, h.c.State().Alerts())
}

func TestHistoryFailureIsSilent(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)
	h.history.err = errors.New("unauthorized")

	h.c.Play(a.QueueItem())
	h.c.Wait()

	assert.Equal(t, 1, h.history.calls)
	assert.Empty(t, h.c.State().Alerts())
	assert.True(t, h.c.State().Snapshot().IsPlaying)
}

func TestTagsFillMissingTitle(t *testing.T) {
	tag := id3v2.NewEmptyTag()
	tag.SetTitle("Tagged Title")
	tag.SetArtist("Tagged Artist")
	var buf bytes.Buffer
	_, err := tag.WriteTo(&buf)
	require.NoError(t, err)

	a := song("a")
	a.Title, a.Artist = "", ""
	h := newHarness(t, a)
	h.fetcher.audio[a.AudioURL] = buf.Bytes()

	h.c.Play(a.QueueItem())
	h.c.Wait()

	last, ok := h.player.Last()
	require.True(t, ok)
	assert.Equal(t, "Tagged Title", last.Title)
	assert.Equal(t, "Tagged Artist", last.Artist)
	assert.Equal(t, "Tagged Title", h.c.State().Snapshot().Title)
}

func TestRemoveCurrentAdvances(t *testing.T) {
	a, b, c := song("a"), song("b"), song("c")
	h := newHarness(t, a, b, c)
	h.c.PlayAll(items(a, b, c))
	h.c.Wait()

	require.True(t, h.c.Remove("a"))
	h.c.Wait()

	assert.Equal(t, []string{"b", "c"}, h.queueIDs())
	assert.Equal(t, []string{"Song a", "Song b"}, h.preparedTitles())
	st := h.c.State().Snapshot()
	assert.True(t, st.HasSong)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, "b", h.c.CurrentID())
}

func TestRemoveSoleItemStops(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)
	h.c.PlayAll(items(a))
	h.c.Wait()

	require.True(t, h.c.Remove("a"))
	h.c.Wait()

	assert.Empty(t, h.c.Items())
	assert.False(t, h.player.IsPlaying())
	st := h.c.State().Snapshot()
	assert.False(t, st.HasSong)
	assert.False(t, st.IsPlaying)
}

func TestRemoveOtherItemKeepsPlaying(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)
	h.c.PlayAll(items(a, b))
	h.c.Wait()

	require.True(t, h.c.Remove("b"))
	assert.False(t, h.c.Remove("b"))
	h.c.Wait()

	assert.Equal(t, []string{"Song a"}, h.preparedTitles())
	assert.Equal(t, "a", h.c.CurrentID())
}

func TestInsertDuplicateStillPlays(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)
	h.c.PlayAll(items(a, b))
	h.c.Wait()

	dup := b.QueueItem()
	dup.Title = "Other title"
	assert.False(t, h.c.Insert(dup, true, false))
	h.c.Wait()

	assert.Equal(t, []string{"a", "b"}, h.queueIDs())
	assert.Equal(t, []string{"Song a", "Song b"}, h.preparedTitles())
	assert.Equal(t, "b", h.c.CurrentID())
}

func TestInsertPlacesAfterCurrent(t *testing.T) {
	a, b, x := song("a"), song("b"), song("x")
	h := newHarness(t, a, b, x)
	h.c.PlayAll(items(a, b))
	h.c.Wait()

	assert.True(t, h.c.Insert(x.QueueItem(), false, false))
	assert.Equal(t, []string{"a", "x", "b"}, h.queueIDs())
	assert.Equal(t, []string{"Song a"}, h.preparedTitles())
}

func TestEndAdvancesAndWraps(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)
	h.c.PlayAll(items(a, b))
	h.c.Wait()

	h.player.Finish()
	h.c.Wait()
	assert.Equal(t, "b", h.c.CurrentID())

	h.player.Finish()
	h.c.Wait()
	assert.Equal(t, "a", h.c.CurrentID())
	assert.Equal(t, []string{"Song a", "Song b", "Song a"}, h.preparedTitles())
	assert.Equal(t, 2, h.fetcher.callCount(), "replay should come from the cache")
}

func TestNextAndPreviousWrap(t *testing.T) {
	a, b, c := song("a"), song("b"), song("c")
	h := newHarness(t, a, b, c)
	h.c.PlayAll(items(a, b, c))
	h.c.Wait()

	h.c.Previous()
	h.c.Wait()
	assert.Equal(t, "c", h.c.CurrentID())

	h.c.Next()
	h.c.Wait()
	assert.Equal(t, "a", h.c.CurrentID())
}

func TestNextDuringSlowFetchFollowsTarget(t *testing.T) {
	a, b, c := song("a"), song("b"), song("c")
	h := newHarness(t, a, b, c)
	h.c.PlayAll(items(a, b, c))
	h.c.Wait()
	waitStarted(t, h.fetcher, a.AudioURL)

	release := h.fetcher.gate(b.AudioURL)
	h.c.Next()
	waitStarted(t, h.fetcher, b.AudioURL)
	h.c.Next()
	waitStarted(t, h.fetcher, c.AudioURL)
	close(release)
	h.c.Wait()

	assert.Equal(t, []string{"Song a", "Song c"}, h.preparedTitles())
	assert.Equal(t, "c", h.c.CurrentID())
}

func TestSeekUpdatesPositionAndLyrics(t *testing.T) {
	a := song("a")
	a.Lyrics = "[00:00.00]one\n[00:05.00]two\n[00:12.00]three\n"
	h := newHarness(t, a)
	h.c.Play(a.QueueItem())
	h.c.Wait()

	require.NoError(t, h.c.Seek(0.07))
	assert.Equal(t, []int64{7000}, h.player.Seeks())
	st := h.c.State().Snapshot()
	assert.Equal(t, int64(7000), st.CurrentMillis)
	assert.Equal(t, 1, st.LyricsLine)
	assert.True(t, st.LyricsSynced)
	assert.Equal(t, []string{"one", "two", "three"}, st.Lyrics)

	require.NoError(t, h.c.SeekBy(-10000))
	assert.Equal(t, int64(0), h.c.State().Snapshot().CurrentMillis)

	require.NoError(t, h.c.Seek(2))
	assert.Equal(t, int64(100000), h.c.State().Snapshot().CurrentMillis)

	h.c.Stop()
	assert.ErrorIs(t, h.c.Seek(0.5), ErrNoDuration)
}

func TestPollingLoopTracksPosition(t *testing.T) {
	a := song("a")
	a.Lyrics = "[00:00.00]one\n[00:05.00]two\n[00:12.00]three\n"
	h := newHarness(t, a)
	h.c.pollInterval = 5 * time.Millisecond
	h.c.Start(context.Background())
	h.c.Start(context.Background())

	h.c.Play(a.QueueItem())
	h.c.Wait()
	h.player.SetPosition(20000)

	require.Eventually(t, func() bool {
		st := h.c.State().Snapshot()
		return st.CurrentMillis == 20000 && st.LyricsLine == 2
	}, 2*time.Second, 5*time.Millisecond)

	h.player.Pause()
	time.Sleep(20 * time.Millisecond)
	h.player.SetPosition(30000)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(20000), h.c.State().Snapshot().CurrentMillis, "paused player must not be polled")
}

func TestPlayerErrorRaisesAlertWithoutAdvancing(t *testing.T) {
	a, b := song("a"), song("b")
	h := newHarness(t, a, b)
	h.c.PlayAll(items(a, b))
	h.c.Wait()

	h.player.Fail(errors.New("device lost"))
	h.c.Wait()

	alerts := h.c.State().Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "device lost")
	assert.False(t, h.c.State().Snapshot().IsPlaying)
	assert.Equal(t, []string{"Song a"}, h.preparedTitles())
}

func TestTogglePause(t *testing.T) {
	a := song("a")
	h := newHarness(t, a)

	h.c.TogglePause()
	assert.False(t, h.player.IsPlaying(), "nothing loaded")

	h.c.Play(a.QueueItem())
	h.c.Wait()
	h.c.TogglePause()
	assert.False(t, h.c.State().Snapshot().IsPlaying)
	h.c.TogglePause()
	assert.True(t, h.c.State().Snapshot().IsPlaying)
}

func TestSubscriptionReceivesUpdates(t *testing.T) {
	h := newHarness(t)
	sub := h.c.State().Subscribe()

	initial := <-sub.States
	assert.Equal(t, 1.0, initial.Volume)

	h.c.SetVolume(0.3)
	select {
	case st := <-sub.States:
		assert.InDelta(t, 0.3, st.Volume, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no state update")
	}

	h.c.State().Unsubscribe(sub)
	select {
	case <-sub.Done:
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestCloseStopsPollingAndSubscriptions(t *testing.T) {
	h := newHarness(t)
	sub := h.c.State().Subscribe()
	h.c.Start(context.Background())
	h.c.Close()
	h.c.Close()

	select {
	case <-sub.Done:
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}
