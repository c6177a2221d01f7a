package player

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

const (
	sampleRate   = 44100
	channelCount = 2
	bitDepth     = 2 // 16-bit = 2 bytes
	frameSize    = channelCount * bitDepth
	bytesPerSec  = sampleRate * frameSize
)

const monitorInterval = 100 * time.Millisecond

var (
	// ErrClosed is returned by an engine after Close.
	ErrClosed = errors.New("player closed")
	// ErrNotLoaded is returned when an operation needs a prepared track.
	ErrNotLoaded = errors.New("no track loaded")
)

// output is the slice of *oto.Player the engine drives.
type output interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(v float64)
	BufferedSize() int
	Close() error
}

// countingReader wraps the decoder and tracks bytes handed to the output.
type countingReader struct {
	reader io.Reader
	pos    int64
	err    error
	mu     sync.Mutex
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.mu.Lock()
	cr.pos += int64(n)
	if err != nil && cr.err == nil {
		cr.err = err
	}
	cr.mu.Unlock()
	return n, err
}

func (cr *countingReader) Pos() int64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.pos
}

// Err returns the first read error, io.EOF included.
func (cr *countingReader) Err() error {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.err
}

func (cr *countingReader) SetPos(pos int64) {
	cr.mu.Lock()
	cr.pos = pos
	cr.err = nil
	cr.mu.Unlock()
}

var (
	globalOtoCtx *oto.Context
	otoOnce      sync.Once
	otoInitErr   error
)

func initOto() (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatSignedInt16LE,
		}
		var ready chan struct{}
		globalOtoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr == nil {
			<-ready
		}
	})
	return globalOtoCtx, otoInitErr
}

func openOto(r io.Reader) (output, error) {
	ctx, err := initOto()
	if err != nil {
		return nil, fmt.Errorf("audio device: %w", err)
	}
	return ctx.NewPlayer(r), nil
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Volume float64
	Logger zerolog.Logger
}

// Engine is the desktop Player: it decodes the whole buffer lazily through
// Oto. The audio device is opened on the first Prepare.
type Engine struct {
	mu        sync.Mutex
	open      func(io.Reader) (output, error)
	dec       audioDecoder
	counter   *countingReader
	out       output
	volume    float64
	playing   bool
	gen       uint64
	closed    bool
	listeners listenerSet
	log       zerolog.Logger
}

// NewEngine returns an idle engine.
func NewEngine(opts EngineOptions) *Engine {
	return newEngine(opts, openOto)
}

func newEngine(opts EngineOptions, open func(io.Reader) (output, error)) *Engine {
	return &Engine{
		open:   open,
		volume: clampVolume(opts.Volume),
		log:    opts.Logger.With().Str("component", "player").Logger(),
	}
}

func (e *Engine) Prepare(item Item, autoPlay bool) error {
	dec, err := newDecoder(item.Audio, item.Format)
	if err != nil {
		return fmt.Errorf("prepare %q: %w", item.Title, err)
	}
	counter := &countingReader{reader: dec}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	out, err := e.open(counter)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.stopLocked()
	e.dec, e.counter, e.out = dec, counter, out
	out.SetVolume(e.volume)
	e.gen++
	gen := e.gen
	e.playing = autoPlay
	if autoPlay {
		out.Play()
	}
	e.mu.Unlock()

	e.log.Debug().Str("title", item.Title).Bool("autoplay", autoPlay).Msg("track prepared")
	go e.monitor(gen)
	if autoPlay {
		e.listeners.emit(Event{Kind: EventPlay})
	}
	return nil
}

// stopLocked silences and releases the current output.
func (e *Engine) stopLocked() {
	if e.out == nil {
		return
	}
	e.out.Pause()
	if err := e.out.Close(); err != nil {
		e.log.Debug().Err(err).Msg("closing output")
	}
	e.out = nil
}

func (e *Engine) monitor(gen uint64) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		if e.closed || e.gen != gen {
			e.mu.Unlock()
			return
		}
		var ev *Event
		if e.playing {
			switch err := e.counter.Err(); {
			case err == io.EOF:
				if !e.out.IsPlaying() {
					e.playing = false
					ev = &Event{Kind: EventEnd}
				}
			case err != nil:
				e.playing = false
				e.out.Pause()
				ev = &Event{Kind: EventError, Err: fmt.Errorf("decoding: %w", err)}
			}
		}
		e.mu.Unlock()

		if ev != nil {
			e.listeners.emit(*ev)
		}
	}
}

// Play resumes the loaded track, restarting it when it already ended.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.closed || e.out == nil || e.playing {
		e.mu.Unlock()
		return
	}
	if e.counter.Err() != nil {
		if err := e.seekLocked(0); err != nil {
			e.mu.Unlock()
			e.listeners.emit(Event{Kind: EventError, Err: err})
			return
		}
	}
	e.out.Play()
	e.playing = true
	e.mu.Unlock()
	e.listeners.emit(Event{Kind: EventPlay})
}

func (e *Engine) Pause() {
	e.mu.Lock()
	if e.closed || e.out == nil || !e.playing {
		e.mu.Unlock()
		return
	}
	e.out.Pause()
	e.playing = false
	e.mu.Unlock()
	e.listeners.emit(Event{Kind: EventPause})
}

// Seek moves to positionMs, clamped to the track.
func (e *Engine) Seek(positionMs int64, autoStart bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.out == nil {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	offset := seekOffset(positionMs, e.dec.Length())
	if err := e.seekLocked(offset); err != nil {
		e.mu.Unlock()
		return err
	}
	started := autoStart && !e.playing
	if e.playing || autoStart {
		e.out.Play()
		e.playing = true
	}
	e.mu.Unlock()

	e.listeners.emit(Event{Kind: EventSeek, PositionMs: offset * 1000 / bytesPerSec})
	if started {
		e.listeners.emit(Event{Kind: EventPlay})
	}
	return nil
}

// seekLocked repositions the decoder and recreates the output to flush its
// buffer. The new output is left paused.
func (e *Engine) seekLocked(offset int64) error {
	if _, err := e.dec.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	e.counter.SetPos(offset)
	out, err := e.open(e.counter)
	if err != nil {
		return err
	}
	e.stopLocked()
	e.out = out
	e.out.SetVolume(e.volume)
	return nil
}

// seekOffset converts a position to a byte offset aligned to a sample frame
// and clamped to [0,total].
func seekOffset(positionMs, total int64) int64 {
	offset := positionMs * bytesPerSec / 1000
	if offset < 0 {
		offset = 0
	}
	if total >= 0 && offset > total {
		offset = total
	}
	return offset - offset%frameSize
}

func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetVolume sets volume (clamped to 0.0 - 1.0).
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = clampVolume(v)
	if e.out != nil {
		e.out.SetVolume(e.volume)
	}
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// CurrentPosition returns the audible position in milliseconds: bytes handed
// to the output minus what it still buffers.
func (e *Engine) CurrentPosition() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counter == nil {
		return 0
	}
	pos := e.counter.Pos()
	if e.out != nil {
		pos -= int64(e.out.BufferedSize())
	}
	if pos < 0 {
		pos = 0
	}
	return pos * 1000 / bytesPerSec
}

func (e *Engine) AddListener(fn Listener) ListenerID { return e.listeners.add(fn) }
func (e *Engine) RemoveListener(id ListenerID)       { e.listeners.remove(id) }

// Close releases the output. The shared audio context stays open for the
// life of the process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.playing = false
	e.stopLocked()
	return nil
}
