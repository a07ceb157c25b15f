package indexer

import (
	"context"
	"log/slog"

	"github.com/sourcelens/sourcelens/internal/watcher"
)

// Watch starts a HybridWatcher over the indexer's root directory and feeds
// every changed path back through IndexFile, keeping the cache in sync as
// files change on disk. It blocks until ctx is cancelled or the watcher
// fails to start.
func (idx *Indexer) Watch(ctx context.Context, opts watcher.Options) error {
	w, err := watcher.NewHybridWatcher(opts.WithDefaults())
	if err != nil {
		return err
	}
	if err := w.Start(ctx, idx.cfg.RootDir); err != nil {
		return err
	}
	defer w.Stop()

	events := w.Events()
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			idx.handleBatch(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			slog.Warn("indexer_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (idx *Indexer) handleBatch(ctx context.Context, batch []watcher.FileEvent) {
	for _, ev := range batch {
		switch ev.Operation {
		case watcher.OpDelete:
			if err := idx.RemoveFile(ctx, ev.Path); err != nil {
				slog.Warn("indexer_watch_remove_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		case watcher.OpGitignoreChange, watcher.OpConfigChange:
			if _, err := idx.Reindex(ctx); err != nil {
				slog.Warn("indexer_watch_reindex_failed", slog.String("error", err.Error()))
			}
		default:
			if ev.IsDir {
				continue
			}
			if err := idx.IndexFile(ctx, ev.Path); err != nil {
				slog.Warn("indexer_watch_index_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		}
	}
}
