package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	metaFile  = "meta.json"
	audioFile = "audio.bin"
	coverFile = "cover.bin"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Disk stores each entry in its own directory under Root.
type Disk struct {
	Root string
}

// NewDisk creates the root directory if needed.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Disk{Root: root}, nil
}

func (d *Disk) dir(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := unsafeKeyChars.ReplaceAllString(key, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return filepath.Join(d.Root, name+"-"+hex.EncodeToString(sum[:4]))
}

func (d *Disk) Get(ctx context.Context, key string) (Item, error) {
	if err := validKey(key); err != nil {
		return Item{}, err
	}
	meta, err := d.GetMetadata(ctx, key)
	if err != nil {
		return Item{}, err
	}
	dir := d.dir(key)
	audio, err := os.ReadFile(filepath.Join(dir, audioFile))
	if errors.Is(err, os.ErrNotExist) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("read cached audio: %w", err)
	}
	if len(audio) == 0 {
		return Item{}, fmt.Errorf("%w: empty audio", ErrCorrupt)
	}
	cover, err := os.ReadFile(filepath.Join(dir, coverFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Item{}, fmt.Errorf("read cached cover: %w", err)
	}
	return Item{Metadata: meta, Audio: audio, Cover: cover}, nil
}

// Save writes cover, then metadata, then audio last so a reader never sees a
// complete entry before every file is in place.
func (d *Disk) Save(ctx context.Context, item Item) error {
	if err := validKey(item.Key()); err != nil {
		return err
	}
	dir := d.dir(item.Key())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}
	if len(item.Cover) > 0 {
		if err := writeAtomic(dir, coverFile, item.Cover); err != nil {
			return err
		}
	}
	if err := d.SaveMetadata(ctx, item.Metadata); err != nil {
		return err
	}
	return writeAtomic(dir, audioFile, item.Audio)
}

func (d *Disk) GetMetadata(_ context.Context, key string) (Metadata, error) {
	if err := validKey(key); err != nil {
		return Metadata{}, err
	}
	data, err := os.ReadFile(filepath.Join(d.dir(key), metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read cached metadata: %w", err)
	}
	return decodeMetadata(data)
}

func (d *Disk) SaveMetadata(_ context.Context, meta Metadata) error {
	if err := validKey(meta.DisplayID); err != nil {
		return err
	}
	data, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	dir := d.dir(meta.DisplayID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}
	return writeAtomic(dir, metaFile, data)
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
