package media

import (
	"bytes"
	"strings"

	"github.com/bogem/id3v2/v2"
)

// Tags holds song information embedded in the audio bytes.
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// ReadTags reads ID3v2 tags from an in-memory mp3. Missing or unreadable tags
// yield an empty Tags.
func ReadTags(audio []byte) Tags {
	if len(audio) < 10 || !bytes.HasPrefix(audio, []byte("ID3")) {
		return Tags{}
	}
	tag, err := id3v2.ParseReader(bytes.NewReader(audio), id3v2.Options{
		Parse:       true,
		ParseFrames: []string{"Title", "Artist", "Album"},
	})
	if err != nil {
		return Tags{}
	}
	return Tags{
		Title:  strings.TrimSpace(tag.Title()),
		Artist: strings.TrimSpace(tag.Artist()),
		Album:  strings.TrimSpace(tag.Album()),
	}
}
