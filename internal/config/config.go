// Package config loads the YAML configuration for cloudplay.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Download DownloadConfig `yaml:"download"`
	Player   PlayerConfig   `yaml:"player"`
	Remote   RemoteConfig   `yaml:"remote"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

type CacheConfig struct {
	Backend       string `yaml:"backend"` // disk, redis or memory
	Dir           string `yaml:"dir"`
	RedisURL      string `yaml:"redis_url"`
	MemoryEntries int    `yaml:"memory_entries"`
}

type DownloadConfig struct {
	ChunkBytes int `yaml:"chunk_bytes"`
	TimeoutMs  int `yaml:"timeout_ms"`
}

type PlayerConfig struct {
	PollMs int     `yaml:"poll_ms"`
	Volume float64 `yaml:"volume"`
}

type RemoteConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

const (
	BackendDisk   = "disk"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	dir := filepath.Join(os.TempDir(), "cloudplay")
	if base, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(base, "cloudplay")
	}
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api",
			TimeoutMs: 10000,
		},
		Cache: CacheConfig{
			Backend:       BackendDisk,
			Dir:           dir,
			RedisURL:      "redis://localhost:6379/0",
			MemoryEntries: 16,
		},
		Download: DownloadConfig{
			ChunkBytes: 8 * 1024,
		},
		Player: PlayerConfig{
			PollMs: 100,
			Volume: 0.8,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dir, "cloudplay.log"),
		},
	}
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and required fields.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	switch strings.ToLower(c.Cache.Backend) {
	case BackendDisk:
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir is required for the disk backend"))
		}
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be disk, redis or memory", c.Cache.Backend))
	}
	if c.Cache.MemoryEntries < 0 {
		errs = append(errs, errors.New("cache.memory_entries must not be negative"))
	}
	if c.Download.ChunkBytes <= 0 {
		errs = append(errs, errors.New("download.chunk_bytes must be positive"))
	}
	if c.Player.PollMs <= 0 {
		errs = append(errs, errors.New("player.poll_ms must be positive"))
	}
	if c.Player.Volume < 0 || c.Player.Volume > 1 {
		errs = append(errs, errors.New("player.volume must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// APITimeout returns the REST request timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutMs) * time.Millisecond
}

// DownloadTimeout returns the overall download timeout; zero means none.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutMs) * time.Millisecond
}

// PollInterval returns the playback position polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Player.PollMs) * time.Millisecond
}

// ResolveToken returns the bearer token, reading token_file when token is empty.
func (c *Config) ResolveToken() (string, error) {
	if c.API.Token != "" || c.API.TokenFile == "" {
		return strings.TrimSpace(c.API.Token), nil
	}
	data, err := os.ReadFile(c.API.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
