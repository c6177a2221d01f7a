package player

import (
	"encoding/binary"
	"io"
)

// converter sits between a decoder and Oto, turning 16-bit PCM of any rate
// and channel count into 16-bit stereo at the output rate. Frames are picked
// by nearest source index, so downsampling drops frames and upsampling
// duplicates them. Mono is copied to both channels; extra channels are
// ignored.
type converter struct {
	source    audioDecoder
	srcRate   int
	srcFrame  int    // bytes per source frame
	pending   []byte // source frames starting at frame pendStart
	pendStart int64
	out       int64 // output frames produced so far
	tmp       []byte
	eof       bool
}

// convert wraps dec unless it already produces the output layout.
func convert(dec audioDecoder) audioDecoder {
	if dec.SampleRate() == sampleRate && dec.ChannelCount() == channelCount {
		return dec
	}
	return &converter{
		source:   dec,
		srcRate:  dec.SampleRate(),
		srcFrame: dec.ChannelCount() * bitDepth,
	}
}

func (c *converter) sourceIndex(outFrame int64) int64 {
	return outFrame * int64(c.srcRate) / sampleRate
}

func (c *converter) Read(p []byte) (int, error) {
	frames := len(p) / frameSize
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}

	last := c.sourceIndex(c.out + int64(frames) - 1)
	need := (last-c.pendStart+1)*int64(c.srcFrame) - int64(len(c.pending))
	if need > 0 && !c.eof {
		if int64(cap(c.tmp)) < need {
			c.tmp = make([]byte, need)
		}
		tmp := c.tmp[:need]
		n, err := io.ReadFull(c.source, tmp)
		c.pending = append(c.pending, tmp[:n]...)
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			c.eof = true
		default:
			return 0, err
		}
	}

	available := int64(len(c.pending) / c.srcFrame)
	written := 0
	for written < frames {
		idx := c.sourceIndex(c.out) - c.pendStart
		if idx >= available {
			break
		}
		frame := c.pending[idx*int64(c.srcFrame):]
		left := binary.LittleEndian.Uint16(frame)
		right := left
		if c.srcFrame >= 2*bitDepth {
			right = binary.LittleEndian.Uint16(frame[bitDepth:])
		}
		off := written * frameSize
		binary.LittleEndian.PutUint16(p[off:], left)
		binary.LittleEndian.PutUint16(p[off+bitDepth:], right)
		written++
		c.out++
	}

	// Keep the frame the next output index points at.
	drop := c.sourceIndex(c.out) - c.pendStart
	if drop > available {
		drop = available
	}
	if drop > 0 {
		c.pending = append(c.pending[:0], c.pending[drop*int64(c.srcFrame):]...)
		c.pendStart += drop
	}

	if written == 0 {
		return 0, io.EOF
	}
	return written * frameSize, nil
}

// Seek takes output byte offsets.
func (c *converter) Seek(offset int64, whence int) (int64, error) {
	total := c.Length()
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = c.out*frameSize + offset
	case io.SeekEnd:
		newPos = total + offset
	}
	if newPos < 0 {
		newPos = 0
	}
	if newPos > total {
		newPos = total
	}

	outFrame := newPos / frameSize
	srcFrame := c.sourceIndex(outFrame)
	if _, err := c.source.Seek(srcFrame*int64(c.srcFrame), io.SeekStart); err != nil {
		return c.out * frameSize, err
	}
	c.pending = c.pending[:0]
	c.pendStart = srcFrame
	c.out = outFrame
	c.eof = false
	return outFrame * frameSize, nil
}

// Length is the total output size in bytes.
func (c *converter) Length() int64 {
	srcFrames := c.source.Length() / int64(c.srcFrame)
	return srcFrames * sampleRate / int64(c.srcRate) * frameSize
}

func (c *converter) SampleRate() int   { return sampleRate }
func (c *converter) ChannelCount() int { return channelCount }
