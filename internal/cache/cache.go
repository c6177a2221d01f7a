// Package cache stores downloaded songs keyed by display id so that a song
// played twice is fetched once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt is returned when an entry exists but cannot be decoded.
	// Callers should treat it as a miss.
	ErrCorrupt = errors.New("cache entry corrupt")
)

// Metadata describes a song as returned by the catalogue API.
type Metadata struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	DurationSecs int    `json:"durationSeconds"`
	CoverURL     string `json:"coverUrl"`
	AudioURL     string `json:"audioUrl"`
	Lyrics       string `json:"lyrics,omitempty"`
	Format       string `json:"format,omitempty"`
}

// Item is a complete cached song: metadata plus audio and cover bytes.
type Item struct {
	Metadata Metadata
	Audio    []byte
	Cover    []byte
}

// Key returns the cache key of the item.
func (it Item) Key() string { return it.Metadata.DisplayID }

// SongCache persists song bundles keyed by display id. Writes are
// create-if-absent from the caller's point of view; concurrent writers of the
// same key may race and the last write wins.
type SongCache interface {
	Get(ctx context.Context, key string) (Item, error)
	Save(ctx context.Context, item Item) error
	GetMetadata(ctx context.Context, key string) (Metadata, error)
	SaveMetadata(ctx context.Context, meta Metadata) error
}

func encodeMetadata(m Metadata) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if m.DisplayID == "" {
		return Metadata{}, fmt.Errorf("%w: missing display id", ErrCorrupt)
	}
	return m, nil
}

func validKey(key string) error {
	if key == "" {
		return errors.New("cache key is empty")
	}
	return nil
}

// IsMiss reports whether err should be handled as a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}
