package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sourcelens/sourcelens/internal/async"
	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/indexer"
	"github.com/sourcelens/sourcelens/internal/logging"
	"github.com/sourcelens/sourcelens/internal/mcp"
	"github.com/sourcelens/sourcelens/internal/search"
	"github.com/sourcelens/sourcelens/internal/store"
	"github.com/sourcelens/sourcelens/internal/tui"
	"github.com/sourcelens/sourcelens/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		debug     bool
		transport string
		session   string
		port      int
		showTUI   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Starts SourceLens as an MCP server, exposing hybrid search over the
current project to AI coding assistants (Claude Code, Cursor) via stdio.

MCP requires stdout to carry nothing but JSON-RPC, so all status and
error output goes to the debug log instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// debug and session are accepted for CLI compatibility; MCP mode
			// logging (internal/logging.SetupMCPMode) always runs at debug
			// level regardless, and session-scoped serving is not yet wired.
			_ = debug
			_ = session
			return runServe(cmd.Context(), transport, port, showTUI)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to ~/.sourcelens/logs/")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or sse")
	cmd.Flags().StringVar(&session, "session", "", "Named session to serve (reserved, currently informational)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (sse transport only)")
	cmd.Flags().BoolVar(&showTUI, "tui", false, "Show a live progress view while the initial index builds, then hand off to the MCP transport")

	return cmd
}

// runServe wires up the metadata store, cache, embedder, and search engine
// for the current project and serves the MCP protocol over transport. The
// file watcher starts in a background goroutine so a slow filesystem never
// delays the MCP handshake.
func runServe(ctx context.Context, transport string, port int, showTUI bool) error {
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to set up MCP-safe logging: %w", err)
	}
	defer cleanup()

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin_check_failed", slog.String("error", err.Error()))
		}
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
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
		return fmt.Errorf("failed to open metadata store: %w", err)
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	var embedder embed.Embedder
	if os.Getenv("SOURCELENS_EMBEDDER") == "static" {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		embedCancel()
		if err != nil {
			_ = metadata.Close()
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	projectID := store.ProjectKey(root)
	c := cache.New(cache.DefaultConfig(dataDir), metadata, projectID, filepath.Join(dataDir, "vectors.hnsw"), embedder.Dimensions())
	defer func() { _ = c.Close() }()

	engineCfg := search.DefaultConfig()
	if cfg.Search.SemanticWeight > 0 {
		engineCfg.SemanticWeight = cfg.Search.SemanticWeight
	}
	engine, err := search.NewEngine(engineCfg, c, embedder)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}

	server, err := mcp.NewServer(engine, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to build MCP server: %w", err)
	}
	defer func() { _ = server.Close() }()

	idx := indexer.New(indexer.Config{
		RootDir:       root,
		DataDirName:   ".sourcelens",
		ProjectConfig: cfg,
	}, metadata, c, embedder)

	progress := startBackgroundIndex(ctx, idx, dataDir)
	server.SetIndexProgress(progress)
	server.SetCache(c)
	server.SetIndexer(idx)

	if showTUI {
		if err := tui.Run(root, progress); err != nil {
			slog.Warn("tui_failed", slog.String("error", err.Error()))
		}
	}

	go startWatcher(ctx, idx)

	return server.Serve(ctx, transport, addrForPort(port))
}

// startBackgroundIndex kicks off a reindex pass in the background so
// startup never blocks on a full scan, returning the progress tracker the
// MCP server's index_status tool reports from.
func startBackgroundIndex(ctx context.Context, idx *indexer.Indexer, dataDir string) *async.IndexProgress {
	bg := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	bg.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageScanning, 0)
		result, err := idx.Reindex(ctx)
		if err != nil {
			return err
		}
		progress.UpdateFiles(result.FilesScanned)
		progress.SetChunksTotal(result.Chunks)
		progress.UpdateChunks(result.Chunks)
		progress.SetReady()
		return nil
	}
	bg.Start(ctx)
	return bg.Progress()
}

// startWatcher starts the filesystem watcher and blocks (on its own
// goroutine) until ctx is canceled. SOURCELENS_WATCHER_STARTUP_TIMEOUT
// bounds how long we wait for the watcher to come up before giving up and
// logging a warning; it never blocks the caller since this itself always
// runs off the main startup path.
func startWatcher(ctx context.Context, idx *indexer.Indexer) {
	timeout := 5 * time.Second
	if v := os.Getenv("SOURCELENS_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- idx.Watch(ctx, watcher.Options{})
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("watcher_stopped", slog.String("error", err.Error()))
		}
	case <-time.After(timeout):
		slog.Warn("watcher_startup_slow", slog.Duration("timeout", timeout))
	case <-ctx.Done():
	}
}

// verifyStdinForMCP checks that stdin is a pipe, not an interactive
// terminal, since the MCP client always connects over a pipe.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal, not a pipe: MCP clients must launch sourcelens with stdin/stdout connected via pipe")
	}
	return nil
}

func addrForPort(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}
