package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sourcelens/sourcelens/internal/async"
	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/indexer"
	"github.com/sourcelens/sourcelens/internal/search"
	"github.com/sourcelens/sourcelens/internal/store"
	"github.com/sourcelens/sourcelens/internal/telemetry"
	"github.com/sourcelens/sourcelens/pkg/version"
)

// Reindexer is the subset of *indexer.Indexer the MCP server depends on for
// the index_codebase tool, kept narrow so tests can substitute a fake.
type Reindexer interface {
	Reindex(ctx context.Context) (*indexer.Result, error)
}

// SearchEngine is the subset of *search.Engine the MCP server depends on,
// kept narrow and local so tests can substitute a fake without constructing
// a real cache and embedder.
type SearchEngine interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
	Stats() *search.Stats
}

// Server is the MCP server for SourceLens.
// It bridges AI clients (Claude Code, Cursor) with the hybrid search engine.
type Server struct {
	mcp      *mcp.Server
	engine   SearchEngine
	metadata store.MetadataStore
	embedder embed.Embedder // Embedder for capability signaling
	config   *config.Config
	logger   *slog.Logger

	// Project identification for resource operations
	projectID string
	rootPath  string

	// Background indexing progress (nil if not indexing)
	indexProgress *async.IndexProgress

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	// Cache and reindexer (optional, set via SetCache/SetIndexer; drive
	// ann_config, index_codebase, clear_cache, find_similar_code)
	cache     *cache.Cache
	reindexer Reindexer

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// SearchInput defines the input schema for the semantic_search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	MaxResults int      `json:"maxResults,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter     string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language   string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, typescript"`
	Scope      []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput defines a single search result with context-rich metadata.
// UX-1: Enhanced response format explaining WHY results matched.
type SearchResultOutput struct {
	FilePath    string  `json:"file_path" jsonschema:"file path relative to project root"`
	Content     string  `json:"content" jsonschema:"matched content snippet"`
	Score       float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language    string  `json:"language,omitempty" jsonschema:"programming language of the file"`
	MatchReason string  `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
	Symbol      string  `json:"symbol,omitempty" jsonschema:"primary symbol name (function, class, type)"`
	SymbolType  string  `json:"symbol_type,omitempty" jsonschema:"type of symbol: function, class, interface, type, method"`
	Signature   string  `json:"signature,omitempty" jsonschema:"full function/method signature"`
}

// NewServer creates a new MCP server.
// The embedder parameter is used for capability signaling - AI clients can query
// the actual embedder state to adjust their search strategies.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(engine SearchEngine, metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		metadata: metadata,
		embedder: embedder, // May be nil - will report as unavailable
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "SourceLens",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
// This enables the server to report indexing progress via index_status and
// return appropriate messages when search is called during indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	// Register query_metrics resource if metrics is provided
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// SetCache wires the project's cache, giving ann_config and clear_cache
// access to the ANN index and the ability to drop cached state.
func (s *Server) SetCache(c *cache.Cache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
}

// SetIndexer wires a Reindexer, letting the index_codebase tool trigger a
// full reindex of the project this server was started against.
func (s *Server) SetIndexer(r Reindexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reindexer = r
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "SourceLens", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	// Both are enabled for F16
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	// Return the tools we register
	// QW-3: Enhanced descriptions to explain WHY sourcelens > grep
	return []ToolInfo{
		{
			Name:        "semantic_search",
			Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
		},
		{
			Name:        "search_code",
			Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
		},
		{
			Name:        "search_docs",
			Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
		},
		{
			Name:        "index_status",
			Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
		},
		{
			Name:        "ann_config",
			Description: "Inspect or tune the vector index's HNSW parameters. Actions: stats (current efSearch/efConstruction/M), set_ef_search (trade recall for speed), rebuild (mark the index dirty and flush it).",
		},
		{
			Name:        "index_codebase",
			Description: "Trigger a full reindex of the project. Use after bulk file changes the watcher may have missed, or to force a clean rebuild.",
		},
		{
			Name:        "clear_cache",
			Description: "Drop all cached index state (chunks, vectors, call graph) for this project. The next index_codebase starts from scratch.",
		},
		{
			Name:        "find_similar_code",
			Description: "Find code similar to a given file. Seeds semantic search with the file's own content instead of a text query, useful for finding near-duplicates or related implementations.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "semantic_search":
		return s.handleSemanticSearchTool(ctx, args)
	case "search_code":
		return s.handleSearchCodeTool(ctx, args)
	case "search_docs":
		return s.handleSearchDocsTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	case "ann_config":
		return s.handleAnnConfigTool(ctx, args)
	case "index_codebase":
		return s.handleIndexCodebaseTool(ctx, args)
	case "clear_cache":
		return s.handleClearCacheTool(ctx, args)
	case "find_similar_code":
		return s.handleFindSimilarCodeTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSemanticSearchTool handles the semantic_search tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSemanticSearchTool(ctx context.Context, args map[string]any) (string, error) {
	// Check if indexing is in progress
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil && progress.IsIndexing() {
		snap := progress.Snapshot()
		return fmt.Sprintf("## Indexing in Progress\n\n"+
			"**Progress:** %.1f%% (%d/%d files)\n"+
			"**Stage:** %s\n\n"+
			"Search results may be incomplete or unavailable. Please try again in a moment.",
			snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.Stage), nil
	}

	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Validate query is not just whitespace (DEBT-019)
	if strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	// Extract optional parameters with maxResults clamping
	maxResults := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["maxResults"].(float64); ok {
		maxResults = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("semantic_search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("max_results", maxResults))

	opts := search.Options{
		MaxResults: maxResults,
	}

	if filter, ok := args["filter"].(string); ok {
		opts.Filter = filter
	}
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
	}
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	resp, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("semantic_search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("semantic_search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))

	if len(resp.Results) == 0 {
		if resp.Message != "" {
			return resp.Message, nil
		}
		return fmt.Sprintf("No results found for %q. The index may be empty, run index_codebase first.", query), nil
	}

	return FormatSemanticSearchResults(resp.Results), nil
}

// handleSearchCodeTool handles the search_code tool invocation.
// Returns markdown-formatted code results with language and symbol filtering.
func (s *Server) handleSearchCodeTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_code started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.Options{
		MaxResults: limit,
		Filter:     "code", // Always filter to code
	}

	// Language filter
	var langFilter string
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
		langFilter = lang
	}

	// Symbol type filter
	if symbolType, ok := args["symbol_type"].(string); ok {
		if symbolType != "any" {
			opts.SymbolType = symbolType
		}
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	resp, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_code failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_code completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))

	if len(resp.Results) == 0 && resp.Message != "" {
		return resp.Message, nil
	}

	// Format as markdown
	return FormatCodeResults(query, resp.Results, langFilter), nil
}

// handleSearchDocsTool handles the search_docs tool invocation.
// Returns markdown-formatted documentation results.
func (s *Server) handleSearchDocsTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.Options{
		MaxResults: limit,
		Filter:     "docs", // Always filter to docs
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	resp, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_docs failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))

	if len(resp.Results) == 0 && resp.Message != "" {
		return resp.Message, nil
	}

	// Format as markdown
	return FormatDocsResults(query, resp.Results), nil
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns JSON-formatted index statistics including embedder capability info.
// AI clients can use this to adjust their search strategies based on
// whether Hugot (high quality semantic) or static (lower quality) embeddings are active.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started",
		slog.String("request_id", requestID))

	stats := s.engine.Stats()

	// Determine embedder capability state
	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()

		// Determine if using static fallback based on model name or dimensions
		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions

		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			actualProvider = "hugot"
			semanticQuality = "high"
		}

		// Check runtime availability
		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		// No embedder configured
		actualProvider = "none"
		actualModel = "none"
		dimensions = 0
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	// Detect project info
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	// Build output
	output := &IndexStatusOutput{
		Project: *projectInfo,
		Stats: IndexStats{
			FileCount:      0,
			ChunkCount:     0,
			IndexSizeBytes: 0,
			LastIndexed:    time.Now().Format(time.RFC3339),
		},
		Embeddings: EmbeddingInfo{
			// Config values
			Provider: s.config.Embeddings.Provider,
			Model:    s.config.Embeddings.Model,
			Status:   status,
			// Runtime state - AI clients use this to adjust search strategy
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	// Fill in stats if available
	if stats != nil {
		if stats.BM25Stats != nil {
			output.Stats.FileCount = stats.BM25Stats.DocumentCount
		}
		output.Stats.ChunkCount = stats.VectorCount
	}

	// Add indexing progress if available
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil {
		snap := progress.Snapshot()
		output.Indexing = &IndexingProgress{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ChunksIndexed:  snap.ChunksIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	duration := time.Since(start)
	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("project_name", projectInfo.Name),
		slog.String("project_type", projectInfo.Type))

	return output, nil
}

// handleAnnConfigTool handles the ann_config tool invocation: it inspects or
// tunes the HNSW vector index without requiring a full reindex.
func (s *Server) handleAnnConfigTool(ctx context.Context, args map[string]any) (*AnnConfigOutput, error) {
	if s.cache == nil {
		return nil, NewInvalidParamsError("ann_config requires a cache, none configured for this server")
	}

	action, _ := args["action"].(string)
	switch action {
	case "", "stats":
		return s.annConfigStats(), nil
	case "set_ef_search":
		efSearch, ok := args["ef_search"].(float64)
		if !ok || efSearch < 1 || efSearch > 1000 {
			return nil, NewInvalidParamsError("set_ef_search requires ef_search, an integer between 1 and 1000")
		}
		return s.annConfigSetEfSearch(int(efSearch)), nil
	case "rebuild":
		return s.annConfigRebuild(ctx)
	default:
		return nil, NewInvalidParamsError(fmt.Sprintf("unknown ann_config action %q (want stats, set_ef_search, or rebuild)", action))
	}
}

func (s *Server) annConfigStats() *AnnConfigOutput {
	snap := s.cache.StartRead()
	defer snap.EndRead()

	if snap.Ann == nil {
		return &AnnConfigOutput{Action: "stats", Message: "vector index not available"}
	}
	stats := snap.Ann.Stats()
	return &AnnConfigOutput{
		Action:      "stats",
		VectorCount: stats.Count,
		EfSearch:    stats.EfSearch,
		EfConstruct: stats.EfConstruction,
		M:           stats.M,
		Metric:      stats.Metric,
	}
}

func (s *Server) annConfigSetEfSearch(efSearch int) *AnnConfigOutput {
	snap := s.cache.StartRead()
	defer snap.EndRead()

	if snap.Ann == nil {
		return &AnnConfigOutput{Action: "set_ef_search", Message: "vector index not available"}
	}
	snap.Ann.SetEfSearch(efSearch)
	return &AnnConfigOutput{
		Action:   "set_ef_search",
		EfSearch: efSearch,
		Message:  "efSearch updated for subsequent queries",
	}
}

func (s *Server) annConfigRebuild(ctx context.Context) (*AnnConfigOutput, error) {
	snap := s.cache.StartRead()
	ann := snap.Ann
	snap.EndRead()

	if ann == nil {
		return &AnnConfigOutput{Action: "rebuild", Message: "vector index not available"}, nil
	}
	ann.MarkDirty()
	if err := ann.Flush(ctx); err != nil {
		return nil, MapError(err)
	}
	stats := ann.Stats()
	return &AnnConfigOutput{
		Action:      "rebuild",
		VectorCount: stats.Count,
		Message:     "vector index rebuilt",
	}, nil
}

// handleIndexCodebaseTool handles the index_codebase tool invocation: it
// triggers a full indexer.Indexer.Reindex pass and reports what changed.
func (s *Server) handleIndexCodebaseTool(ctx context.Context, _ map[string]any) (*IndexCodebaseOutput, error) {
	if s.reindexer == nil {
		return nil, NewInvalidParamsError("index_codebase requires an indexer, none configured for this server")
	}

	requestID := generateRequestID()
	s.logger.Info("index_codebase started", slog.String("request_id", requestID))

	result, err := s.reindexer.Reindex(ctx)
	if err != nil {
		s.logger.Error("index_codebase failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("index_codebase completed",
		slog.String("request_id", requestID),
		slog.Int("files_scanned", result.FilesScanned),
		slog.Duration("duration", result.Duration))

	return &IndexCodebaseOutput{
		FilesScanned: result.FilesScanned,
		FilesAdded:   result.FilesAdded,
		FilesUpdated: result.FilesUpdated,
		FilesRemoved: result.FilesRemoved,
		Chunks:       result.Chunks,
		DurationMS:   result.Duration.Milliseconds(),
	}, nil
}

// handleClearCacheTool handles the clear_cache tool invocation: it drops the
// project's cached index state so the next search reflects a clean slate.
func (s *Server) handleClearCacheTool(ctx context.Context, _ map[string]any) (*ClearCacheOutput, error) {
	if s.cache == nil {
		return nil, NewInvalidParamsError("clear_cache requires a cache, none configured for this server")
	}

	if err := s.cache.Clear(ctx); err != nil {
		return nil, MapError(err)
	}

	return &ClearCacheOutput{Cleared: true, Message: "cache cleared"}, nil
}

// handleFindSimilarCodeTool handles the find_similar_code tool invocation:
// it seeds a semantic search with a file's own content instead of free text.
func (s *Server) handleFindSimilarCodeTool(ctx context.Context, args map[string]any) (string, error) {
	relPath, ok := args["file_path"].(string)
	if !ok || relPath == "" {
		return "", NewInvalidParamsError("file_path parameter is required and must be a non-empty string")
	}

	limit := clampLimit(0, 10, 1, 50)
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	content, err := os.ReadFile(filepath.Join(s.rootPath, filepath.Clean(relPath)))
	if err != nil {
		return "", NewInvalidParamsError(fmt.Sprintf("could not read %s: %v", relPath, err))
	}

	resp, err := s.engine.Search(ctx, string(content), search.Options{MaxResults: limit + 1})
	if err != nil {
		return "", MapError(err)
	}

	results := make([]*search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.File == relPath {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}

	if len(results) == 0 {
		return fmt.Sprintf("No code similar to %s found.", relPath), nil
	}

	return FormatSearchResults(relPath, results), nil
}

// registerTools registers all tools with the MCP server.
// BUG-033: Added logging for debugging tool registration issues.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	// Register semantic_search tool - generic hybrid search
	// QW-3: Enhanced descriptions to explain WHY sourcelens > grep
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
	}, s.mcpSemanticSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", "semantic_search"))

	// Register search_code tool - code-specific search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
	}, s.mcpSearchCodeHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_code"))

	// Register search_docs tool - documentation search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
	}, s.mcpSearchDocsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_docs"))

	// Register index_status tool - index diagnostics
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
	}, s.mcpIndexStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_status"))

	// Register ann_config tool - HNSW index inspection/tuning
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ann_config",
		Description: "Inspect or tune the vector index's HNSW parameters. Actions: stats (current efSearch/efConstruction/M), set_ef_search (trade recall for speed), rebuild (mark the index dirty and flush it).",
	}, s.mcpAnnConfigHandler)
	s.logger.Debug("Registered tool", slog.String("name", "ann_config"))

	// Register index_codebase tool - full reindex trigger
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_codebase",
		Description: "Trigger a full reindex of the project. Use after bulk file changes the watcher may have missed, or to force a clean rebuild.",
	}, s.mcpIndexCodebaseHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_codebase"))

	// Register clear_cache tool - drop cached index state
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_cache",
		Description: "Drop all cached index state (chunks, vectors, call graph) for this project. The next index_codebase starts from scratch.",
	}, s.mcpClearCacheHandler)
	s.logger.Debug("Registered tool", slog.String("name", "clear_cache"))

	// Register find_similar_code tool - similarity search seeded by a file
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_similar_code",
		Description: "Find code similar to a given file. Seeds semantic search with the file's own content instead of a text query, useful for finding near-duplicates or related implementations.",
	}, s.mcpFindSimilarCodeHandler)
	s.logger.Debug("Registered tool", slog.String("name", "find_similar_code"))

	s.logger.Info("MCP tools registered", slog.Int("count", 8))
}

// mcpSemanticSearchHandler is the MCP SDK handler for the semantic_search tool.
func (s *Server) mcpSemanticSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.Options{
		MaxResults: 10,
		Filter:     input.Filter,
		Language:   input.Language,
		Scopes:     input.Scope,
	}
	if input.MaxResults > 0 {
		opts.MaxResults = input.MaxResults
	}

	// Execute search
	resp, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(resp.Results)),
	}

	for _, r := range resp.Results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}

	return nil, output, nil
}

// mcpSearchCodeHandler is the MCP SDK handler for the search_code tool.
func (s *Server) mcpSearchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.Options{
		MaxResults: 10,
		Filter:     "code", // Always filter to code
		Language:   input.Language,
		Scopes:     input.Scope,
	}
	if input.Limit > 0 {
		opts.MaxResults = input.Limit
	}
	if input.SymbolType != "" && input.SymbolType != "any" {
		opts.SymbolType = input.SymbolType
	}

	// Execute search
	resp, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(resp.Results)),
	}

	for _, r := range resp.Results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}

	return nil, output, nil
}

// mcpSearchDocsHandler is the MCP SDK handler for the search_docs tool.
func (s *Server) mcpSearchDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.Options{
		MaxResults: 10,
		Filter:     "docs", // Always filter to docs
		Scopes:     input.Scope,
	}
	if input.Limit > 0 {
		opts.MaxResults = input.Limit
	}

	// Execute search
	resp, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(resp.Results)),
	}

	for _, r := range resp.Results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}

	return nil, output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpAnnConfigHandler is the MCP SDK handler for the ann_config tool.
func (s *Server) mcpAnnConfigHandler(ctx context.Context, _ *mcp.CallToolRequest, input AnnConfigInput) (
	*mcp.CallToolResult,
	*AnnConfigOutput,
	error,
) {
	args := map[string]any{"action": input.Action}
	if input.EfSearch > 0 {
		args["ef_search"] = float64(input.EfSearch)
	}
	output, err := s.handleAnnConfigTool(ctx, args)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpIndexCodebaseHandler is the MCP SDK handler for the index_codebase tool.
func (s *Server) mcpIndexCodebaseHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexCodebaseInput) (
	*mcp.CallToolResult,
	*IndexCodebaseOutput,
	error,
) {
	output, err := s.handleIndexCodebaseTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpClearCacheHandler is the MCP SDK handler for the clear_cache tool.
func (s *Server) mcpClearCacheHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ClearCacheInput) (
	*mcp.CallToolResult,
	*ClearCacheOutput,
	error,
) {
	output, err := s.handleClearCacheTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpFindSimilarCodeHandler is the MCP SDK handler for the find_similar_code tool.
func (s *Server) mcpFindSimilarCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input FindSimilarCodeInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.FilePath == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("file_path parameter is required")
	}

	limit := 10
	if input.Limit > 0 {
		limit = input.Limit
	}

	content, err := os.ReadFile(filepath.Join(s.rootPath, filepath.Clean(input.FilePath)))
	if err != nil {
		return nil, SearchOutput{}, NewInvalidParamsError(fmt.Sprintf("could not read %s: %v", input.FilePath, err))
	}

	resp, err := s.engine.Search(ctx, string(content), search.Options{MaxResults: limit + 1})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	output := SearchOutput{Results: make([]SearchResultOutput, 0, len(resp.Results))}
	for _, r := range resp.Results {
		if r.File == input.FilePath {
			continue
		}
		output.Results = append(output.Results, ToSearchResultOutput(r))
		if len(output.Results) == limit {
			break
		}
	}

	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Get files from metadata store
	files, err := s.metadata.GetChangedFiles(ctx, "", emptyTime)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(files))
	for _, f := range files {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", f.Path),
			Name:     f.Path,
			MIMEType: mimeTypeForLanguage(f.Language),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Parse URI - support chunk:// and file:// schemes
	var chunkID string
	if strings.HasPrefix(uri, "chunk://") {
		chunkID = strings.TrimPrefix(uri, "chunk://")
	} else if strings.HasPrefix(uri, "file://") {
		// For file:// URIs, we'd need to look up the file
		// For now, return not found
		return nil, NewResourceNotFoundError(uri)
	} else {
		return nil, NewResourceNotFoundError(uri)
	}

	// Get chunk from metadata store
	chunk, err := s.metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  chunk.Content,
		MIMEType: mimeTypeForLanguage(chunk.Language),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled
	return nil
}

// mimeTypeForLanguage returns the MIME type for a programming language.
func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// emptyTime is a zero time value for listing all files.
var emptyTime = time.Time{}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
