package media

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"strings"
)

// Format identifies an audio container the player can decode.
type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
)

var audioExts = map[string]Format{
	".mp3":  FormatMP3,
	".wav":  FormatWAV,
	".flac": FormatFLAC,
	".ogg":  FormatOGG,
	".oga":  FormatOGG,
}

var contentTypes = map[string]Format{
	"audio/mpeg":      FormatMP3,
	"audio/mp3":       FormatMP3,
	"audio/wav":       FormatWAV,
	"audio/x-wav":     FormatWAV,
	"audio/wave":      FormatWAV,
	"audio/flac":      FormatFLAC,
	"audio/x-flac":    FormatFLAC,
	"audio/ogg":       FormatOGG,
	"application/ogg": FormatOGG,
}

// IsSupportedExt returns true if the extension is a decodable audio format.
func IsSupportedExt(ext string) bool {
	_, ok := audioExts[strings.ToLower(ext)]
	return ok
}

// SupportedExtsList returns a human-readable list of decodable formats.
func SupportedExtsList() string {
	return ".mp3, .wav, .flac, .ogg"
}

// ParseFormat maps a format name, file extension or MIME type to a Format.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatUnknown
	}
	if f, ok := audioExts["."+strings.TrimPrefix(s, ".")]; ok {
		return f
	}
	if mediaType, _, err := mime.ParseMediaType(s); err == nil {
		s = mediaType
	}
	return contentTypes[s]
}

// FormatFromURL guesses the format from the URL path extension.
func FormatFromURL(rawURL string) Format {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FormatUnknown
	}
	return audioExts[strings.ToLower(path.Ext(u.Path))]
}

// Detect sniffs the container from its leading bytes. When the bytes are not
// recognized the first parseable hint wins.
func Detect(data []byte, hints ...string) Format {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC")):
		return FormatFLAC
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return FormatOGG
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	for _, h := range hints {
		if f := ParseFormat(h); f != FormatUnknown {
			return f
		}
		if f := FormatFromURL(h); f != FormatUnknown {
			return f
		}
	}
	return FormatUnknown
}
