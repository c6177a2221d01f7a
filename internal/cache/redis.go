package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldMeta  = "meta"
	fieldAudio = "audio"
	fieldCover = "cover"
)

// Redis stores entries as hashes. Metadata saved on its own lives under a
// separate key so a metadata-only write never looks like a complete song.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. A zero ttl keeps entries forever.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "cloudplay"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisFromURL parses a redis:// URL and pings the server.
func NewRedisFromURL(ctx context.Context, rawURL string) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, "", 0), nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) songKey(key string) string { return r.prefix + ":song:" + key }
func (r *Redis) metaKey(key string) string { return r.prefix + ":meta:" + key }

func (r *Redis) Get(ctx context.Context, key string) (Item, error) {
	if err := validKey(key); err != nil {
		return Item{}, err
	}
	fields, err := r.client.HGetAll(ctx, r.songKey(key)).Result()
	if err != nil {
		return Item{}, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return Item{}, ErrNotFound
	}
	rawMeta, okMeta := fields[fieldMeta]
	audio, okAudio := fields[fieldAudio]
	if !okMeta || !okAudio || audio == "" {
		return Item{}, fmt.Errorf("%w: incomplete hash", ErrCorrupt)
	}
	meta, err := decodeMetadata([]byte(rawMeta))
	if err != nil {
		return Item{}, err
	}
	item := Item{Metadata: meta, Audio: []byte(audio)}
	if cover := fields[fieldCover]; cover != "" {
		item.Cover = []byte(cover)
	}
	return item, nil
}

func (r *Redis) Save(ctx context.Context, item Item) error {
	if err := validKey(item.Key()); err != nil {
		return err
	}
	meta, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	key := r.songKey(item.Key())
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldMeta, meta, fieldAudio, item.Audio, fieldCover, item.Cover)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (r *Redis) GetMetadata(ctx context.Context, key string) (Metadata, error) {
	if err := validKey(key); err != nil {
		return Metadata{}, err
	}
	raw, err := r.client.Get(ctx, r.metaKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		raw, err = r.client.HGet(ctx, r.songKey(key), fieldMeta).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("redis get metadata: %w", err)
	}
	return decodeMetadata(raw)
}

func (r *Redis) SaveMetadata(ctx context.Context, meta Metadata) error {
	if err := validKey(meta.DisplayID); err != nil {
		return err
	}
	data, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.metaKey(meta.DisplayID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis save metadata: %w", err)
	}
	return nil
}
