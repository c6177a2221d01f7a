package player

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"

	"github.com/olivier-w/cloudplay/internal/media"
)

// audioDecoder is implemented by all format-specific decoders.
type audioDecoder interface {
	io.ReadSeeker
	Length() int64
	SampleRate() int
	ChannelCount() int
}

// newDecoder decodes an in-memory buffer. An unknown format is sniffed from
// the leading bytes. The result always yields 16-bit stereo PCM at the output
// sample rate.
func newDecoder(data []byte, format media.Format) (audioDecoder, error) {
	if format == media.FormatUnknown {
		format = media.Detect(data)
	}
	var (
		dec audioDecoder
		err error
	)
	switch format {
	case media.FormatMP3:
		dec, err = newMP3Decoder(data)
	case media.FormatWAV:
		dec, err = newWAVDecoder(bytes.NewReader(data))
	case media.FormatFLAC:
		dec, err = newFLACDecoder(bytes.NewReader(data))
	case media.FormatOGG:
		dec, err = newOGGDecoder(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return convert(dec), nil
}

type mp3Decoder struct {
	dec *mp3.Decoder
}

// newMP3Decoder decodes data and drops the encoder delay and padding when
// the stream records them.
func newMP3Decoder(data []byte) (audioDecoder, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding MP3: %w", err)
	}
	base := &mp3Decoder{dec: dec}
	start, end := mp3GaplessTrim(data)
	if start == 0 && end == 0 {
		return base, nil
	}
	return newTrimmedDecoder(base, start, end)
}

func (d *mp3Decoder) Read(p []byte) (int, error) { return d.dec.Read(p) }
func (d *mp3Decoder) Seek(offset int64, whence int) (int64, error) {
	return d.dec.Seek(offset, whence)
}
func (d *mp3Decoder) Length() int64     { return d.dec.Length() }
func (d *mp3Decoder) SampleRate() int   { return d.dec.SampleRate() }
func (d *mp3Decoder) ChannelCount() int { return 2 }

// blockSource yields interleaved 16-bit samples one block at a time.
type blockSource interface {
	// next returns the following block, or io.EOF once the stream is done.
	next() ([]int16, error)
	seekFrame(frame int64) error
}

// pcmReader exposes a blockSource as little-endian PCM bytes.
type pcmReader struct {
	src      blockSource
	rate     int
	channels int
	length   int64
	pos      int64
	pending  []byte
	scratch  []byte
	err      error
}

func newPCMReader(src blockSource, rate, channels int, frames int64) *pcmReader {
	return &pcmReader{
		src:      src,
		rate:     rate,
		channels: channels,
		length:   frames * int64(channels) * 2,
	}
}

func (r *pcmReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		block, err := r.src.next()
		r.err = err
		r.scratch = r.scratch[:0]
		for _, v := range block {
			r.scratch = binary.LittleEndian.AppendUint16(r.scratch, uint16(v))
		}
		r.pending = r.scratch
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	r.pos += int64(n)
	return n, nil
}

// Seek moves to the frame holding the requested byte offset.
func (r *pcmReader) Seek(offset int64, whence int) (int64, error) {
	target := offset
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		target += r.pos
	case io.SeekEnd:
		target += r.length
	default:
		return r.pos, fmt.Errorf("seek: invalid whence %d", whence)
	}
	target = min(max(target, 0), r.length)

	width := int64(r.channels) * 2
	frame := target / width
	if err := r.src.seekFrame(frame); err != nil {
		return r.pos, err
	}
	r.pending, r.err = nil, nil
	r.pos = frame * width
	return r.pos, nil
}

func (r *pcmReader) Length() int64     { return r.length }
func (r *pcmReader) SampleRate() int   { return r.rate }
func (r *pcmReader) ChannelCount() int { return r.channels }

func clamp16(v int64) int16 {
	return int16(min(max(v, math.MinInt16), math.MaxInt16))
}

// blockFrames bounds how many frames a source decodes per call.
const blockFrames = 4096

type wavSource struct {
	r        io.ReadSeeker
	start    int64
	size     int64
	offset   int64
	width    int
	channels int
	raw      []byte
	block    []int16
}

func newWAVDecoder(r io.ReadSeeker) (audioDecoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("decoding WAV: invalid file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("decoding WAV: %w", err)
	}
	channels, depth := int(dec.NumChans), int(dec.BitDepth)
	if channels < 1 || depth < 8 || depth > 32 || depth%8 != 0 {
		return nil, fmt.Errorf("decoding WAV: unsupported layout %dx%d bit", channels, depth)
	}
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("decoding WAV: %w", err)
	}
	src := &wavSource{
		r:        r,
		start:    start,
		width:    depth / 8,
		channels: channels,
	}
	frameBytes := int64(src.width * channels)
	src.size = dec.PCMLen() / frameBytes * frameBytes
	return newPCMReader(src, int(dec.SampleRate), channels, src.size/frameBytes), nil
}

func (s *wavSource) next() ([]int16, error) {
	left := s.size - s.offset
	if left <= 0 {
		return nil, io.EOF
	}
	want := int64(blockFrames * s.channels * s.width)
	if want > left {
		want = left
	}
	if int64(cap(s.raw)) < want {
		s.raw = make([]byte, want)
	}
	n, err := io.ReadFull(s.r, s.raw[:want])
	s.offset += int64(n)
	n -= n % s.width
	s.block = s.block[:0]
	for i := 0; i < n; i += s.width {
		s.block = append(s.block, pcmSample(s.raw[i:i+s.width]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		s.size = s.offset
		err = nil
	}
	return s.block, err
}

func (s *wavSource) seekFrame(frame int64) error {
	off := frame * int64(s.channels*s.width)
	if _, err := s.r.Seek(s.start+off, io.SeekStart); err != nil {
		return err
	}
	s.offset = off
	return nil
}

// pcmSample scales one little-endian integer sample to 16 bits. 8-bit data
// is unsigned.
func pcmSample(b []byte) int16 {
	switch len(b) {
	case 1:
		return int16((int(b[0]) - 128) << 8)
	case 2:
		return int16(binary.LittleEndian.Uint16(b))
	case 3:
		return int16(int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 16)
	default:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	}
}

type flacSource struct {
	stream   *flac.Stream
	depth    int
	channels int
	skip     int
	block    []int16
}

func newFLACDecoder(r io.ReadSeeker) (audioDecoder, error) {
	stream, err := flac.NewSeek(r)
	if err != nil {
		return nil, fmt.Errorf("decoding FLAC: %w", err)
	}
	info := stream.Info
	src := &flacSource{
		stream:   stream,
		depth:    int(info.BitsPerSample),
		channels: int(info.NChannels),
	}
	return newPCMReader(src, int(info.SampleRate), src.channels, int64(info.NSamples)), nil
}

func (s *flacSource) next() ([]int16, error) {
	f, err := s.stream.ParseNext()
	if err != nil {
		return nil, err
	}
	n := len(f.Subframes[0].Samples)
	s.block = s.block[:0]
	for i := min(s.skip, n); i < n; i++ {
		for ch := 0; ch < s.channels; ch++ {
			v := int64(f.Subframes[ch].Samples[i])
			if s.depth > 16 {
				v >>= s.depth - 16
			} else {
				v <<= 16 - s.depth
			}
			s.block = append(s.block, clamp16(v))
		}
	}
	s.skip = max(s.skip-n, 0)
	return s.block, nil
}

// seekFrame lands on the containing FLAC frame and drops its leading samples.
func (s *flacSource) seekFrame(frame int64) error {
	if total := s.stream.Info.NSamples; total > 0 && uint64(frame) >= total {
		frame = int64(total) - 1
	}
	first, err := s.stream.Seek(uint64(frame))
	if err != nil {
		return err
	}
	s.skip = int(uint64(frame) - first)
	return nil
}

type oggSource struct {
	reader *oggvorbis.Reader
	floats []float32
	block  []int16
}

func newOGGDecoder(r io.ReadSeeker) (audioDecoder, error) {
	reader, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decoding OGG: %w", err)
	}
	src := &oggSource{
		reader: reader,
		floats: make([]float32, blockFrames*reader.Channels()),
	}
	return newPCMReader(src, reader.SampleRate(), reader.Channels(), reader.Length()), nil
}

func (s *oggSource) next() ([]int16, error) {
	n, err := s.reader.Read(s.floats)
	if n == 0 && err == nil {
		err = io.EOF
	}
	s.block = s.block[:0]
	for _, f := range s.floats[:n] {
		s.block = append(s.block, clamp16(int64(f*32767)))
	}
	return s.block, err
}

func (s *oggSource) seekFrame(frame int64) error {
	return s.reader.SetPosition(frame)
}
