// Package indexer walks a workspace, turns changed files into chunks and
// embeddings, and drives them into the concurrent cache. It is the
// concrete "Indexer" external collaborator the search contract assumes but
// does not itself define.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/chunk"
	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/store"
)

// Config configures a single Indexer instance.
type Config struct {
	// RootDir is the workspace root to walk.
	RootDir string

	// DataDirName is the workspace data directory's own name (e.g.
	// ".sourcelens"), skipped during the walk so the index never indexes
	// itself.
	DataDirName string

	// ProjectConfig holds the loaded path include/exclude rules.
	ProjectConfig *config.Config
}

// Result summarizes one Reindex pass.
type Result struct {
	FilesScanned int
	FilesAdded   int
	FilesUpdated int
	FilesRemoved int
	Chunks       int
	Duration     time.Duration
}

// Indexer drives chunk.Chunker -> embed.Embedder.EmbedBatch ->
// cache.Cache.AppendChunks for changed files, and
// cache.Cache.RemoveFileChunks for deleted ones, diffing against the
// files table's stored content hash to decide what changed.
type Indexer struct {
	cfg       Config
	metadata  *store.SQLiteStore
	cache     *cache.Cache
	embedder  embed.Embedder
	code      chunk.Chunker
	markdown  chunk.Chunker
	projectID string
}

// New constructs an Indexer over an already-open metadata store and cache.
func New(cfg Config, metadata *store.SQLiteStore, c *cache.Cache, embedder embed.Embedder) *Indexer {
	return &Indexer{
		cfg:       cfg,
		metadata:  metadata,
		cache:     c,
		embedder:  embedder,
		code:      chunk.NewRegexChunker(chunk.DefaultConfig()),
		markdown:  chunk.NewMarkdownChunker(),
		projectID: store.ProjectKey(cfg.RootDir),
	}
}

// Reindex walks the workspace, chunks and embeds every changed file, and
// removes chunks for files that vanished since the last run.
func (idx *Indexer) Reindex(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	if err := idx.metadata.SaveProject(ctx, &store.Project{
		ID: idx.projectID, Name: filepath.Base(idx.cfg.RootDir), RootPath: idx.cfg.RootDir,
	}); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}

	found, err := walk(idx.cfg.RootDir, idx.cfg.ProjectConfig, idx.cfg.DataDirName)
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	res.FilesScanned = len(found)

	existing, err := idx.metadata.GetFilesForReconciliation(ctx, idx.projectID)
	if err != nil {
		return nil, fmt.Errorf("load existing files: %w", err)
	}

	seen := make(map[string]bool, len(found))
	for _, f := range found {
		seen[f.RelPath] = true

		hash := hashContent(f.Content)
		prior, existed := existing[f.RelPath]
		if existed && prior.ContentHash == hash {
			continue
		}

		n, err := idx.indexFile(ctx, f, hash)
		if err != nil {
			slog.Warn("indexer_file_failed", slog.String("path", f.RelPath), slog.String("error", err.Error()))
			continue
		}
		res.Chunks += n
		if existed {
			res.FilesUpdated++
		} else {
			res.FilesAdded++
		}
	}

	for path := range existing {
		if seen[path] {
			continue
		}
		if err := idx.RemoveFile(ctx, path); err != nil {
			slog.Warn("indexer_remove_failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		res.FilesRemoved++
	}

	if err := idx.metadata.RefreshProjectStats(ctx, idx.projectID); err != nil {
		slog.Debug("indexer_refresh_stats_failed", slog.String("error", err.Error()))
	}

	res.Duration = time.Since(start)
	return res, nil
}

// IndexFile re-chunks and re-embeds a single file, reading it fresh from
// disk. It is the unit of work the fsnotify-driven watcher calls per
// changed path.
func (idx *Indexer) IndexFile(ctx context.Context, relPath string) error {
	abs := filepath.Join(idx.cfg.RootDir, relPath)
	found, err := walk(idx.cfg.RootDir, idx.cfg.ProjectConfig, idx.cfg.DataDirName)
	if err != nil {
		return err
	}
	for _, f := range found {
		if f.RelPath != filepath.ToSlash(relPath) && filepath.Join(idx.cfg.RootDir, f.RelPath) != abs {
			continue
		}
		_, err := idx.indexFile(ctx, f, hashContent(f.Content))
		return err
	}
	return nil
}

func (idx *Indexer) indexFile(ctx context.Context, f discoveredFile, hash string) (int, error) {
	language := DetectLanguage(f.RelPath)
	contentType := DetectContentType(language)

	chunker := idx.code
	if contentType == store.ContentTypeMarkdown {
		chunker = idx.markdown
	}

	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{Path: f.RelPath, Content: f.Content, Language: language})
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", f.RelPath, err)
	}

	fileID := store.FileKey(f.RelPath)
	if err := idx.metadata.SaveFiles(ctx, []*store.File{{
		ID: fileID, ProjectID: idx.projectID, Path: f.RelPath,
		Size: int64(len(f.Content)), ModTime: time.Unix(0, f.ModTime), ContentHash: hash,
		Language: language, ContentType: string(contentType),
		IndexedAt: time.Now(),
	}}); err != nil {
		return 0, fmt.Errorf("save file %s: %w", f.RelPath, err)
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	storeChunks := make([]*store.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = toStoreChunk(c, fileID)
		texts[i] = c.Content
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", f.RelPath, err)
	}

	if err := idx.cache.AppendChunks(ctx, f.RelPath, storeChunks, vectors, idx.embedder.ModelName(), language, string(f.Content)); err != nil {
		return 0, fmt.Errorf("append chunks %s: %w", f.RelPath, err)
	}

	return len(chunks), nil
}

// RemoveFile deletes a file's chunks from both the cache and the metadata
// store, for files the walker no longer finds.
func (idx *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	if err := idx.cache.RemoveFileChunks(ctx, relPath); err != nil {
		return fmt.Errorf("remove cached chunks %s: %w", relPath, err)
	}
	if f, err := idx.metadata.GetFileByPath(ctx, idx.projectID, relPath); err == nil && f != nil {
		if err := idx.metadata.DeleteFile(ctx, f.ID); err != nil {
			return fmt.Errorf("delete file %s: %w", relPath, err)
		}
	}
	return nil
}

func toStoreChunk(c *chunk.Chunk, fileID string) *store.Chunk {
	symbols := make([]*store.Symbol, len(c.Symbols))
	for i, s := range c.Symbols {
		symbols[i] = &store.Symbol{
			Name: s.Name, Type: store.SymbolType(s.Type),
			StartLine: s.StartLine, EndLine: s.EndLine,
			Signature: s.Signature, DocComment: s.DocComment,
		}
	}
	return &store.Chunk{
		ID: c.ID, FileID: fileID, FilePath: c.FilePath,
		Content: c.Content, RawContent: c.RawContent, Context: c.Context,
		ContentType: store.ContentType(c.ContentType), Language: c.Language,
		StartLine: c.StartLine, EndLine: c.EndLine, Symbols: symbols,
		Metadata: c.Metadata, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}
