package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/GiGurra/boa/pkg/boa"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/olivier-w/cloudplay/internal/api"
	"github.com/olivier-w/cloudplay/internal/cache"
	"github.com/olivier-w/cloudplay/internal/config"
	"github.com/olivier-w/cloudplay/internal/downloader"
	"github.com/olivier-w/cloudplay/internal/logging"
	"github.com/olivier-w/cloudplay/internal/playback"
	"github.com/olivier-w/cloudplay/internal/player"
	"github.com/olivier-w/cloudplay/internal/remote"
	"github.com/olivier-w/cloudplay/internal/ui"
)

type Params struct {
	IDs      []string `pos:"true" optional:"true" help:"Display ids of the songs to queue."`
	Config   string   `short:"c" optional:"true" help:"Path to the YAML config file." default:""`
	Playlist string   `short:"p" optional:"true" help:"Playlist file (.m3u, .m3u8, .pls, .txt) of display ids." default:""`
	Headless bool     `optional:"true" help:"Play without the terminal UI until interrupted."`
	Listen   string   `short:"l" optional:"true" help:"Serve the remote control API on this address, e.g. 127.0.0.1:7700." default:""`
}

func main() {
	boa.CmdT[Params]{
		Use:     "cloudplay",
		Short:   "Stream songs from the catalogue in the terminal",
		Long:    "Resolve the given display ids (and playlist entries) through the catalogue API, queue them and play them with lyrics.",
		Version: appVersion(),
		ParamEnrich: boa.ParamEnricherCombine(
			boa.ParamEnricherBool,
			boa.ParamEnricherName,
			boa.ParamEnricherShort,
		),
		RunFunc: func(params *Params, cmd *cobra.Command, args []string) {
			os.Exit(run(params, os.Stderr))
		},
	}.Run()
}

func run(params *Params, stderr io.Writer) int {
	cfgPath := params.Config
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if params.Listen != "" {
		cfg.Remote.Listen = params.Listen
	}

	logOpts := logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, JSON: cfg.Logging.JSON, Fallback: stderr}
	if params.Headless {
		// No TUI to corrupt, log straight to the terminal.
		logOpts.File = ""
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := play(ctx, cfg, params, logger); err != nil {
		logger.Error().Err(err).Msg("cloudplay failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func play(ctx context.Context, cfg *config.Config, params *Params, logger zerolog.Logger) error {
	songs, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	token, err := cfg.ResolveToken()
	if err != nil {
		return err
	}
	client := api.NewClient(api.Options{
		BaseURL: cfg.API.BaseURL,
		Session: api.NewSession(token),
		Timeout: cfg.APITimeout(),
		Logger:  logger,
	})

	dlOpts := downloader.Options{ChunkSize: cfg.Download.ChunkBytes, Logger: logger}
	if t := cfg.DownloadTimeout(); t > 0 {
		dlOpts.Client = &http.Client{Timeout: t}
	}

	engine := player.NewEngine(player.EngineOptions{Volume: cfg.Player.Volume, Logger: logger})
	defer engine.Close()

	coord := playback.New(playback.Options{
		Player:       engine,
		Cache:        songs,
		Details:      client,
		History:      client,
		Downloader:   downloader.New(dlOpts),
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})
	coord.Start(ctx)
	defer func() {
		coord.Close()
		coord.Wait()
	}()

	items, err := resolveQueue(ctx, client, params.IDs, params.Playlist, logger)
	if err != nil {
		return err
	}
	if len(items) == 0 && cfg.Remote.Listen == "" {
		return errors.New("nothing to play: pass display ids, --playlist or --listen")
	}
	if len(items) > 0 {
		coord.PlayAll(items)
	}

	serveDone := make(chan struct{})
	serveCtx, stopServe := context.WithCancel(ctx)
	defer func() {
		stopServe()
		<-serveDone
	}()
	go func() {
		defer close(serveDone)
		if cfg.Remote.Listen == "" {
			return
		}
		srv := remote.NewServer(coord, client, logger)
		if err := srv.ListenAndServe(serveCtx, cfg.Remote.Listen); err != nil {
			logger.Error().Err(err).Msg("remote control stopped")
		}
	}()

	if params.Headless {
		<-ctx.Done()
		return nil
	}

	store := coord.State()
	sub := store.Subscribe()
	defer store.Unsubscribe(sub)

	program := tea.NewProgram(ui.New(coord, sub), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// openCache builds the configured backend behind the in-memory LRU tier.
func openCache(ctx context.Context, cfg *config.Config) (cache.SongCache, func() error, error) {
	var (
		backend cache.SongCache
		closeFn = func() error { return nil }
	)
	switch cfg.Cache.Backend {
	case config.BackendDisk:
		disk, err := cache.NewDisk(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		backend = disk
	case config.BackendRedis:
		r, err := cache.NewRedisFromURL(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		backend = r
		closeFn = r.Close
	}

	mem, err := cache.NewMemory(cfg.Cache.MemoryEntries, backend)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return mem, closeFn, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cloudplay", "config.yaml")
}

func appVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown-(no build info)"
	}
	if bi.Main.Version == "" {
		return "unknown-(no version)"
	}
	return bi.Main.Version
}
