// Package cache owns the embedding store, ANN side index, and call-graph
// side index as one unit, mediating all access from the searcher and the
// indexer under a reader/writer discipline.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcelens/sourcelens/internal/callgraph"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/store"
)

// snapshot is the copy-on-publish triple readers observe. A reader holds a
// *snapshot for the lifetime of one call; writers never mutate it in place.
type snapshot struct {
	metaStore *store.SQLiteStore
	embed     *store.EmbeddingStore
	ann       *store.ANNIndex
	calls     *callgraph.Index
}

// Config configures the cache's reader-drain and save-coalescing behavior.
type Config struct {
	ReaderDrainTimeout time.Duration
	WorkspaceDir       string
}

// DefaultConfig returns the spec's default reader-drain timeout.
func DefaultConfig(workspaceDir string) Config {
	return Config{ReaderDrainTimeout: 5 * time.Second, WorkspaceDir: workspaceDir}
}

// Cache is the concurrent cache: single writer (the indexer), many readers
// (searches), reader-count discipline on renumbering mutations, and a
// single-flight save queue guarded by an advisory per-workspace file lock.
type Cache struct {
	cfg Config

	current atomic.Pointer[snapshot]
	readers atomic.Int64

	lock *embed.FileLock

	saveMu      sync.Mutex
	savePending bool
	saveMerged  bool
}

// New constructs a cache over an already-open metadata store, scoped to
// projectID, persisting its ANN graph at annPath.
func New(cfg Config, metaStore *store.SQLiteStore, projectID, annPath string, dimensions int) *Cache {
	embStore := store.NewEmbeddingStore(metaStore, projectID)
	annCfg := store.DefaultANNConfig(dimensions)
	ann := store.NewANNIndex(annCfg, embStore, annPath)

	c := &Cache{
		cfg:  cfg,
		lock: embed.NewFileLock(cfg.WorkspaceDir),
	}
	c.current.Store(&snapshot{
		metaStore: metaStore,
		embed:     embStore,
		ann:       ann,
		calls:     callgraph.NewIndex(),
	})
	return c
}

// Snapshot is the logically-immutable (store, annIndex, callGraph) triple a
// reader observes for the duration of one query.
type Snapshot struct {
	Store     *store.EmbeddingStore
	Ann       *store.ANNIndex
	CallGraph *callgraph.Index
	cache     *Cache
}

// StartRead increments the reader counter and returns a consistent
// snapshot. The caller must call EndRead when done.
func (c *Cache) StartRead() Snapshot {
	c.readers.Add(1)
	s := c.current.Load()
	return Snapshot{Store: s.embed, Ann: s.ann, CallGraph: s.calls, cache: c}
}

// EndRead decrements the reader counter.
func (s Snapshot) EndRead() {
	s.cache.readers.Add(-1)
}

// AppendChunks appends new chunks and vectors for file, then marks the ANN
// index dirty and the call graph entry updated. This is a short critical
// section that does not block readers.
func (c *Cache) AppendChunks(ctx context.Context, file string, chunks []*store.Chunk, vectors [][]float32, model, language string, content string) error {
	s := c.current.Load()
	if err := s.embed.AppendChunks(ctx, chunks, vectors, model); err != nil {
		return err
	}
	s.ann.MarkDirty()
	s.calls.Set(file, callgraph.ExtractCallData(content, language))
	return nil
}

// RemoveFileChunks removes file's chunks, compacting the dense index. This
// renumbers indices, so it waits for active readers to drain up to the
// configured timeout; if the drain times out, the operation is aborted and
// the in-memory state is left as-is for a later retry.
func (c *Cache) RemoveFileChunks(ctx context.Context, file string) error {
	if err := c.drainReaders(ctx); err != nil {
		return fmt.Errorf("remove file chunks aborted: %w", err)
	}

	s := c.current.Load()
	if err := s.embed.RemoveFileChunks(ctx, file); err != nil {
		return err
	}
	s.ann.MarkDirty()
	s.calls.Remove(file)
	return nil
}

// drainReaders waits until no reader holds the current snapshot, or the
// configured timeout elapses.
func (c *Cache) drainReaders(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ReaderDrainTimeout)
	for c.readers.Load() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for readers to drain", c.cfg.ReaderDrainTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

// Save persists the cache's durable state under the workspace lock,
// coalescing concurrent requests into a single in-flight save: if a save is
// already running when Save is called, the call is merged into the next
// round rather than starting a second save. When throwOnError is false
// (background saves), errors are logged and swallowed, leaving the
// in-memory state untouched.
func (c *Cache) Save(ctx context.Context, throwOnError bool) error {
	c.saveMu.Lock()
	if c.savePending {
		c.saveMerged = true
		c.saveMu.Unlock()
		return nil
	}
	c.savePending = true
	c.saveMu.Unlock()

	err := c.doSave(ctx)

	c.saveMu.Lock()
	merged := c.saveMerged
	c.saveMerged = false
	c.savePending = false
	c.saveMu.Unlock()

	if err != nil {
		if throwOnError {
			return err
		}
		slog.Warn("background cache save failed", slog.String("error", err.Error()))
		return nil
	}

	if merged {
		// Another save was requested while this one ran; honor it now.
		return c.Save(ctx, throwOnError)
	}
	return nil
}

func (c *Cache) doSave(ctx context.Context) error {
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			slog.Warn("failed to release workspace lock", slog.String("error", err.Error()))
		}
	}()

	s := c.current.Load()
	if err := s.ann.Flush(ctx); err != nil {
		return fmt.Errorf("flush ann index: %w", err)
	}
	return nil
}

// Clear drops all chunks and marks every side index dirty/invalidated.
func (c *Cache) Clear(ctx context.Context) error {
	s := c.current.Load()
	if err := s.embed.Clear(ctx); err != nil {
		return err
	}
	s.ann.MarkDirty()
	s.calls.Reset()
	return nil
}

// Close releases the underlying metadata store.
func (c *Cache) Close() error {
	s := c.current.Load()
	return s.metaStore.Close()
}
