// Package cmd provides the CLI commands for SourceLens.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/logging"
	"github.com/sourcelens/sourcelens/pkg/version"
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for sourcelens CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var reindex bool

	cmd := &cobra.Command{
		Use:   "sourcelens",
		Short: "Local-first RAG MCP server for developers",
		Long: `SourceLens provides hybrid search (lexical + semantic) over codebases
for AI coding assistants like Claude Code and Cursor.

It runs entirely locally with zero configuration required.

Just run 'sourcelens' in your project directory to get started.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If help was explicitly requested, show it
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), cmd, offline, reindex)
		},
	}

	// Set version template
	cmd.SetVersionTemplate("sourcelens version {{.Version}}\n")

	// Root flags
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Force reindex even if index exists")

	// Debug logging flag
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.sourcelens/logs/")

	cmd.PersistentPreRunE = startDebugLogging
	cmd.PersistentPostRunE = stopDebugLogging

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCompactCmd())

	return cmd
}

// startDebugLogging enables debug logging to a file when --debug is set.
func startDebugLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

// stopDebugLogging flushes and closes the debug log file, if opened.
func stopDebugLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault implements the "It Just Works" flow: find the project
// root, index it if no index exists yet, and start serving over stdio.
func runSmartDefault(ctx context.Context, cmd *cobra.Command, offline, reindex bool) error {
	// MCP protocol requires stdout to be used EXCLUSIVELY for JSON-RPC
	// messages. We must NOT write ANY output to stdout before starting the
	// MCP server; all status goes to the debug log instead.

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".sourcelens")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	needsIndex := reindex || !fileExists(metadataPath)

	if needsIndex {
		slog.Info("Index not found, creating index", slog.String("root", root))
		if err := runIndexWithOptions(ctx, cmd, root, offline); err != nil {
			slog.Error("Indexing failed", slog.String("error", err.Error()))
			return fmt.Errorf("indexing failed: %w", err)
		}
		slog.Info("Index complete")
	} else {
		slog.Debug("Index found", slog.String("path", metadataPath))
	}

	return runServe(ctx, "stdio", 0, false)
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
