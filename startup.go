package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/olivier-w/cloudplay/internal/api"
	"github.com/olivier-w/cloudplay/internal/media"
	"github.com/olivier-w/cloudplay/internal/queue"
)

const resolveConcurrency = 4

type detailFetcher interface {
	FetchSongDetail(ctx context.Context, displayID string) (api.SongDetail, error)
}

// resolveQueue turns command line ids and playlist entries into queue items,
// in order. Ids the API cannot resolve are logged and skipped.
func resolveQueue(ctx context.Context, client detailFetcher, ids []string, playlist string, logger zerolog.Logger) ([]queue.Item, error) {
	refs := lo.Map(ids, func(id string, _ int) media.PlaylistEntry { return media.PlaylistEntry{DisplayID: id} })
	if playlist != "" {
		entries, err := media.ParsePlaylist(playlist)
		if err != nil {
			return nil, fmt.Errorf("playlist %s: %w", playlist, err)
		}
		refs = append(refs, entries...)
	}
	refs = lo.Filter(refs, func(e media.PlaylistEntry, _ int) bool { return e.DisplayID != "" })
	refs = lo.UniqBy(refs, func(e media.PlaylistEntry) string { return e.DisplayID })

	resolved := make([]queue.Item, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			detail, err := client.FetchSongDetail(gctx, ref.DisplayID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Warn().Err(err).Str("display_id", ref.DisplayID).Msg("skipping unresolvable song")
				return nil
			}
			resolved[i] = detail.QueueItem()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lo.Filter(resolved, func(it queue.Item, _ int) bool { return it.ID != "" }), nil
}
