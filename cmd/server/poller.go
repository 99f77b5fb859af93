package main

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/capetl/internal/pipeline"
)

type feedFetcher interface {
	FetchFeed(ctx context.Context) (*pipeline.FeedResult, error)
}

// pollFeed calls FetchFeed every interval until ctx is done. Failures are
// logged and the next tick retries.
func pollFeed(ctx context.Context, svc feedFetcher, every time.Duration, L log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := svc.FetchFeed(ctx)
			if err != nil {
				L.Error(ctx, err, "scheduled feed fetch failed")
				continue
			}
			L.Info(ctx, "scheduled feed fetch",
				"run_id", res.RunID,
				"file", res.FileName,
				"retained", len(res.Retained),
				"duplicates", res.Duplicates,
			)
		}
	}
}
