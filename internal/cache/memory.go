package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is an LRU front tier. With a nil Next it is a standalone in-process
// cache; otherwise misses fall through to Next and hits are promoted.
type Memory struct {
	items *lru.Cache[string, Item]
	metas *lru.Cache[string, Metadata]
	next  SongCache
}

// NewMemory keeps up to size songs (and 8x as many metadata records).
func NewMemory(size int, next SongCache) (*Memory, error) {
	if size <= 0 {
		size = 1
	}
	items, err := lru.New[string, Item](size)
	if err != nil {
		return nil, err
	}
	metas, err := lru.New[string, Metadata](size * 8)
	if err != nil {
		return nil, err
	}
	return &Memory{items: items, metas: metas, next: next}, nil
}

func (m *Memory) Get(ctx context.Context, key string) (Item, error) {
	if err := validKey(key); err != nil {
		return Item{}, err
	}
	if it, ok := m.items.Get(key); ok {
		return it, nil
	}
	if m.next == nil {
		return Item{}, ErrNotFound
	}
	it, err := m.next.Get(ctx, key)
	if err != nil {
		return Item{}, err
	}
	m.items.Add(key, it)
	m.metas.Add(key, it.Metadata)
	return it, nil
}

func (m *Memory) Save(ctx context.Context, item Item) error {
	if err := validKey(item.Key()); err != nil {
		return err
	}
	m.items.Add(item.Key(), item)
	m.metas.Add(item.Key(), item.Metadata)
	if m.next == nil {
		return nil
	}
	return m.next.Save(ctx, item)
}

func (m *Memory) GetMetadata(ctx context.Context, key string) (Metadata, error) {
	if err := validKey(key); err != nil {
		return Metadata{}, err
	}
	if meta, ok := m.metas.Get(key); ok {
		return meta, nil
	}
	if m.next == nil {
		return Metadata{}, ErrNotFound
	}
	meta, err := m.next.GetMetadata(ctx, key)
	if err != nil {
		return Metadata{}, err
	}
	m.metas.Add(key, meta)
	return meta, nil
}

func (m *Memory) SaveMetadata(ctx context.Context, meta Metadata) error {
	if err := validKey(meta.DisplayID); err != nil {
		return err
	}
	m.metas.Add(meta.DisplayID, meta)
	if m.next == nil {
		return nil
	}
	return m.next.SaveMetadata(ctx, meta)
}
