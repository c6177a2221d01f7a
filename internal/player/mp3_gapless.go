package player

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const mp3DecoderDelaySamples = 529

// mp3GaplessTrim returns the samples to drop from the start and end of a
// decoded MP3, as recorded by LAME in the Xing/Info frame. Streams without
// that frame return zeros.
func mp3GaplessTrim(data []byte) (startSamples, endSamples int64) {
	frameOffset := firstMP3FrameOffset(data)
	if frameOffset+4 > len(data) {
		return 0, 0
	}
	header, err := parseMP3FrameHeader(data[frameOffset : frameOffset+4])
	if err != nil {
		return 0, 0
	}

	xingOffset := frameOffset + 4 + header.crcBytes + header.sideInfoBytes
	if xingOffset >= len(data) {
		return 0, 0
	}
	end := min(len(data), xingOffset+256)
	startSamples, endSamples, ok := parseXingLAMEGapless(data[xingOffset:end])
	if !ok {
		return 0, 0
	}
	return startSamples, endSamples
}

// firstMP3FrameOffset skips a leading ID3v2 tag.
func firstMP3FrameOffset(data []byte) int {
	if len(data) < 10 || !bytes.Equal(data[:3], []byte("ID3")) {
		return 0
	}
	size := synchsafeUint32(data[6:10])
	footer := 0
	if data[5]&0x10 != 0 {
		footer = 10
	}
	return 10 + size + footer
}

func synchsafeUint32(b []byte) int {
	return int(b[0]&0x7f)<<21 | int(b[1]&0x7f)<<14 | int(b[2]&0x7f)<<7 | int(b[3]&0x7f)
}

type mp3FrameHeader struct {
	crcBytes      int
	sideInfoBytes int
}

func parseMP3FrameHeader(b []byte) (mp3FrameHeader, error) {
	if len(b) < 4 {
		return mp3FrameHeader{}, fmt.Errorf("short mp3 header")
	}
	h := binary.BigEndian.Uint32(b)
	if h>>21 != 0x7ff {
		return mp3FrameHeader{}, fmt.Errorf("invalid mp3 sync")
	}

	versionID := (h >> 19) & 0x3
	layer := (h >> 17) & 0x3
	protectionBit := (h >> 16) & 0x1
	channelMode := (h >> 6) & 0x3

	if layer != 0x1 {
		return mp3FrameHeader{}, fmt.Errorf("not layer iii")
	}
	if versionID == 0x1 {
		return mp3FrameHeader{}, fmt.Errorf("reserved mpeg version")
	}

	isMPEG1 := versionID == 0x3
	isMono := channelMode == 0x3

	sideInfoBytes := 0
	switch {
	case isMPEG1 && isMono:
		sideInfoBytes = 17
	case isMPEG1:
		sideInfoBytes = 32
	case isMono:
		sideInfoBytes = 9
	default:
		sideInfoBytes = 17
	}

	crcBytes := 0
	if protectionBit == 0 {
		crcBytes = 2
	}
	return mp3FrameHeader{crcBytes: crcBytes, sideInfoBytes: sideInfoBytes}, nil
}

func parseXingLAMEGapless(b []byte) (int64, int64, bool) {
	if len(b) < 8 {
		return 0, 0, false
	}
	tag := string(b[:4])
	if tag != "Xing" && tag != "Info" {
		return 0, 0, false
	}

	flags := binary.BigEndian.Uint32(b[4:8])
	offset := 8
	if flags&0x1 != 0 {
		offset += 4
	}
	if flags&0x2 != 0 {
		offset += 4
	}
	if flags&0x4 != 0 {
		offset += 100
	}
	if flags&0x8 != 0 {
		offset += 4
	}
	if len(b) < offset+24 {
		return 0, 0, false
	}

	delayPadding := b[offset+21 : offset+24]
	encDelay := int(delayPadding[0])<<4 | int(delayPadding[1]>>4)
	encPadding := int(delayPadding[1]&0x0f)<<8 | int(delayPadding[2])
	if encDelay == 0 && encPadding == 0 {
		return 0, 0, false
	}

	startSamples := int64(encDelay + mp3DecoderDelaySamples)
	endSamples := int64(encPadding - mp3DecoderDelaySamples)
	if endSamples < 0 {
		endSamples = 0
	}
	return startSamples, endSamples, true
}

// trimmedDecoder hides the first and last frames of src.
type trimmedDecoder struct {
	audioDecoder
	start  int64 // bytes skipped in src
	length int64
	pos    int64
}

func newTrimmedDecoder(src audioDecoder, startFrames, endFrames int64) (audioDecoder, error) {
	frame := int64(2 * src.ChannelCount())
	start := startFrames * frame
	length := src.Length() - start - endFrames*frame
	if src.Length() <= 0 || length <= 0 {
		return src, nil
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	return &trimmedDecoder{audioDecoder: src, start: start, length: length}, nil
}

func (d *trimmedDecoder) Length() int64 { return d.length }

func (d *trimmedDecoder) Read(p []byte) (int, error) {
	rem := d.length - d.pos
	if rem <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := d.audioDecoder.Read(p)
	d.pos += int64(n)
	return n, err
}

func (d *trimmedDecoder) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.pos + offset
	case io.SeekEnd:
		abs = d.length + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	abs = max(0, min(abs, d.length))
	if _, err := d.audioDecoder.Seek(d.start+abs, io.SeekStart); err != nil {
		return 0, err
	}
	d.pos = abs
	return abs, nil
}
