package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/indexer"
	"github.com/sourcelens/sourcelens/internal/logging"
	"github.com/sourcelens/sourcelens/internal/store"
)

func newIndexCmd() *cobra.Command {
	var (
		resume  bool
		force   bool
		backend string
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

This scans files, chunks code and documents, generates embeddings,
and stores them in the metadata database and vector index used by search.

Backend Selection:
  (default)          Configured provider, or Ollama when none is set
  --backend=mlx      Use MLX (Apple Silicon, ~1.7x faster)
  --backend=ollama   Use Ollama (cross-platform)

Use --force to clear existing index data and rebuild from scratch. Without
--force, reindexing only embeds files that changed since the last run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			if force && resume {
				return fmt.Errorf("--force and --resume are mutually exclusive")
			}

			if backend != "" {
				os.Setenv("SOURCELENS_EMBEDDER", backend)
			}

			if force {
				absPath, err := filepath.Abs(path)
				if err != nil {
					return fmt.Errorf("failed to resolve path: %w", err)
				}
				root, err := config.FindProjectRoot(absPath)
				if err != nil {
					root = absPath
				}
				dataDir := filepath.Join(root, ".sourcelens")
				if err := clearIndexData(dataDir); err != nil {
					return fmt.Errorf("failed to clear index data: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
			}

			return runIndexWithOptions(ctx, cmd, path, false)
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Resume indexing, skipping files unchanged since the last run (default behavior)")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: auto-detect (default), mlx, ollama, or static")

	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}

// clearIndexData removes all index-related files from the data directory.
// This preserves the .sourcelens.yaml config file (which is at project root, not in dataDir).
func clearIndexData(dataDir string) error {
	indexFiles := []string{
		filepath.Join(dataDir, "metadata.db"),
		filepath.Join(dataDir, "metadata.db-shm"),
		filepath.Join(dataDir, "metadata.db-wal"),
		filepath.Join(dataDir, "bm25.bleve"),
		filepath.Join(dataDir, "bm25.db"),
		filepath.Join(dataDir, "bm25.db-wal"),
		filepath.Join(dataDir, "bm25.db-shm"),
		filepath.Join(dataDir, "vectors.hnsw"),
	}

	for _, path := range indexFiles {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}

	return nil
}

// runIndexWithOptions builds (or rebuilds) the index for path, reporting
// progress on cmd's stdout.
func runIndexWithOptions(ctx context.Context, cmd *cobra.Command, path string, offline bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
		_ = logger
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(root, ".sourcelens")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		embedCancel()
		if err != nil {
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	projectID := store.ProjectKey(root)
	c := cache.New(cache.DefaultConfig(dataDir), metadata, projectID, filepath.Join(dataDir, "vectors.hnsw"), embedder.Dimensions())
	defer func() { _ = c.Close() }()

	idx := indexer.New(indexer.Config{
		RootDir:       root,
		DataDirName:   ".sourcelens",
		ProjectConfig: cfg,
	}, metadata, c, embedder)

	result, err := idx.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	// ANN materialization below the minimum chunk count is expected for small
	// projects and is not a failure; Save logs and swallows that case.
	_ = c.Save(ctx, false)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"Complete: %d files scanned, %d added, %d updated, %d removed, %d chunks in %s\n",
		result.FilesScanned, result.FilesAdded, result.FilesUpdated, result.FilesRemoved, result.Chunks, result.Duration.Round(time.Millisecond))

	return nil
}
