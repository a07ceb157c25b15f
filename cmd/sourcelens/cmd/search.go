package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/logging"
	"github.com/sourcelens/sourcelens/internal/output"
	"github.com/sourcelens/sourcelens/internal/search"
	"github.com/sourcelens/sourcelens/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	filter   string // "all", "code", "docs"
	language string
	format   string // "text", "json"
	scopes   []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines lexical keyword matching with semantic (embedding) similarity,
call-graph proximity, and recency into a single ranked result set.

Examples:
  sourcelens search "authentication middleware"
  sourcelens search "handleRequest" --type code --limit 5
  sourcelens search "setup instructions" --type docs
  sourcelens search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".sourcelens")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'sourcelens index' first")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()
	slog.Debug("embedder_initialized",
		slog.String("provider", provider.String()),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

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

	searchOpts := search.Options{
		MaxResults: opts.limit,
		Filter:     opts.filter,
		Language:   opts.language,
		Scopes:     opts.scopes,
	}

	resp, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.Int("results", len(resp.Results)))

	if len(resp.Results) == 0 {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("No results found for %q", query)
		}
		out.Status("", msg)
		return nil
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, resp.Results)
	default:
		return formatText(out, query, resp.Results)
	}
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, results []*search.Result) error {
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		location := r.File
		if r.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.File, r.StartLine)
		}
		out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)

		snippet := getSnippet(r.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatJSON outputs results in JSON format.
func formatJSON(cmd *cobra.Command, results []*search.Result) error {
	type jsonResult struct {
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
		Language  string  `json:"language,omitempty"`
	}

	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		out = append(out, jsonResult{
			FilePath:  r.File,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Score:     r.Score,
			Content:   r.Content,
			Language:  r.Language,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
