package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sourcelens/sourcelens/internal/cache"
	"github.com/sourcelens/sourcelens/internal/callgraph"
	"github.com/sourcelens/sourcelens/internal/embed"
	"github.com/sourcelens/sourcelens/internal/store"
)

// Engine is the single-pass, weighted-additive hybrid scorer: vector
// similarity plus lexical, call-graph-proximity, and recency boosts, with an
// ANN-or-full-scan candidate path that degrades gracefully when the ANN
// index is unavailable.
type Engine struct {
	cfg      Config
	cache    *cache.Cache
	embedder embed.Embedder

	mtimeCache *lru.Cache[string, int64]
}

// NewEngine builds an Engine over an already-constructed cache and embedder.
func NewEngine(cfg Config, c *cache.Cache, embedder embed.Embedder) (*Engine, error) {
	mtimeCache, err := lru.New[string, int64](cfg.RecencyLRUMax)
	if err != nil {
		return nil, fmt.Errorf("create recency cache: %w", err)
	}
	return &Engine{cfg: cfg, cache: c, embedder: embedder, mtimeCache: mtimeCache}, nil
}

// Stats is an index-size snapshot surfaced to tool callers (e.g. the MCP
// index_status tool) for diagnostics; it is not part of the scoring path.
type Stats struct {
	VectorCount int
	BM25Stats   *BM25Stats
}

// BM25Stats mirrors a lexical index's document/term counts for callers that
// maintain one outside the Engine.
type BM25Stats struct {
	DocumentCount int
	TermCount     int
}

// Stats reports the current size of the vector/metadata store backing this
// Engine. BM25Stats is left nil here since the Engine has no lexical index of
// its own; lexical matching is folded into the hybrid score via
// textMatchBoost instead.
func (e *Engine) Stats() *Stats {
	snap := e.cache.StartRead()
	defer snap.EndRead()
	n, err := snap.Store.Length(context.Background())
	if err != nil {
		n = 0
	}
	return &Stats{VectorCount: n}
}

// candidate is the working scoring unit threaded through steps 3-8.
type candidate struct {
	index       int
	file        string
	startLine   int
	endLine     int
	language    string
	contentType store.ContentType
	symbols     []*store.Symbol
	content     string
	hasContent  bool
	score       float64
}

// Search implements the spec's eight-step procedure, with an ambient
// filtering stage (content type, language, symbol type, path scope) applied
// to the candidate pool before scoring — not part of the hybrid-scoring
// contract itself, but carried over from the tool surface's existing filter
// options.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	maxResults := opts.MaxResults
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if maxResults < 0 {
		maxResults = 0
	}

	// Step 1: snapshot + empty-index check.
	snap := e.cache.StartRead()
	defer snap.EndRead()

	total, err := snap.Store.Length(ctx)
	if err != nil {
		return nil, fmt.Errorf("store length: %w", err)
	}
	if total == 0 {
		return &Response{Results: nil, Message: "No code has been indexed yet. Please wait for initial indexing to complete."}, nil
	}
	if maxResults == 0 {
		return &Response{Results: nil}, nil
	}

	// Step 2: embed query, truncate/renormalize if configured dim is smaller.
	queryVec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Step 3: candidate selection.
	indices, usedAnn := e.selectCandidates(ctx, snap, queryVec, maxResults, total)

	// Step 4: keyword augmentation under ANN.
	queryWords := splitQueryWords(query)
	if usedAnn && len(query) > 1 {
		indices = e.augmentWithKeywordMatches(ctx, snap, query, indices, maxResults, total)
	}

	cands := make([]*candidate, 0, len(indices))
	for _, idx := range indices {
		cands = append(cands, &candidate{index: idx})
	}

	if needsFilter(opts) {
		cands = e.applyAmbientFilters(ctx, snap, cands, opts)
	}

	// Step 5: recency prep.
	if e.cfg.RecencyBoost > 0 {
		e.prepareRecency(ctx, snap, cands)
	}

	// Step 6: scoring.
	deferText := len(query) > 1 && len(cands) > e.cfg.TextMatchMaxCandidates
	if err := e.score(ctx, snap, cands, queryVec, query, queryWords, deferText); err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}

	sortByScoreDesc(cands)

	if deferText {
		top := cands
		if len(top) > e.cfg.TextMatchMaxCandidates {
			top = top[:e.cfg.TextMatchMaxCandidates]
		}
		e.applyTextMatch(ctx, snap, top, query, queryWords)
		sortByScoreDesc(cands)
	}

	// Step 7: call-graph proximity.
	if e.cfg.CallGraphEnabled && e.cfg.CallGraphBoost > 0 {
		e.applyCallGraphBoost(ctx, snap, cands)
		sortByScoreDesc(cands)
	}

	// Step 8: finalize.
	if len(cands) > maxResults {
		cands = cands[:maxResults]
	}
	results := make([]*Result, 0, len(cands))
	for _, c := range cands {
		if !c.hasContent {
			if content, err := snap.Store.GetContent(ctx, c.index); err == nil {
				c.content = content
				c.hasContent = true
			}
		}
		results = append(results, &Result{
			File:        c.file,
			StartLine:   c.startLine,
			EndLine:     c.endLine,
			Score:       c.score,
			Content:     c.content,
			Language:    c.language,
			ContentType: c.contentType,
			Symbols:     c.symbols,
		})
	}

	return &Response{Results: results}, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if e.cfg.EmbeddingDimension > 0 && e.cfg.EmbeddingDimension < len(vec) {
		vec = vec[:e.cfg.EmbeddingDimension]
		vec = renormalize(vec)
	}
	return vec, nil
}

func renormalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	mag := math.Sqrt(sumSquares)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// selectCandidates implements step 3: prefer ANN, discard and full-scan if it
// yields fewer than maxResults candidates.
func (e *Engine) selectCandidates(ctx context.Context, snap cache.Snapshot, queryVec []float32, maxResults, total int) ([]int, bool) {
	if !e.cfg.AnnEnabled {
		return fullScanIndices(total), false
	}

	k := snap.Ann.Candidates(maxResults, total)
	indices, ok := snap.Ann.Query(ctx, queryVec, k)
	if !ok || len(indices) < maxResults {
		return fullScanIndices(total), false
	}
	return dedupeInts(indices), true
}

func fullScanIndices(total int) []int {
	out := make([]int, total)
	for i := range out {
		out[i] = i
	}
	return out
}

func dedupeInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// augmentWithKeywordMatches implements step 4.
func (e *Engine) augmentWithKeywordMatches(ctx context.Context, snap cache.Snapshot, query string, indices []int, maxResults, total int) []int {
	have := make(map[int]bool, len(indices))
	matchCount := 0
	for _, idx := range indices {
		have[idx] = true
	}
	for _, idx := range indices {
		if content, err := snap.Store.GetContent(ctx, idx); err == nil && containsFold(content, query) {
			matchCount++
		}
	}
	if matchCount >= maxResults {
		return indices
	}
	if total > e.cfg.FullScanThreshold {
		slog.Info("skipping keyword augmentation for large store", slog.Int("count", total))
		return indices
	}

	needed := maxResults - matchCount
	batch := 100
	for start := 0; start < total && needed > 0; start += batch {
		end := start + batch
		if end > total {
			end = total
		}
		for idx := start; idx < end; idx++ {
			if have[idx] {
				continue
			}
			content, err := snap.Store.GetContent(ctx, idx)
			if err != nil || !containsFold(content, query) {
				continue
			}
			have[idx] = true
			indices = append(indices, idx)
			needed--
			if needed <= 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			return indices
		default:
		}
	}
	return indices
}

func needsFilter(opts Options) bool {
	return (opts.Filter != "" && opts.Filter != "all") || opts.Language != "" || opts.SymbolType != "" || len(opts.Scopes) > 0
}

// applyAmbientFilters narrows the candidate pool to those matching the
// given scope/language/symbol/content-type criteria, fetching per-candidate
// metadata only for the candidates that reach this stage.
func (e *Engine) applyAmbientFilters(ctx context.Context, snap cache.Snapshot, cands []*candidate, opts Options) []*candidate {
	results := make([]*Result, 0, len(cands))
	byFile := make(map[*Result]*candidate, len(cands))
	for _, c := range cands {
		view, err := snap.Store.GetRecord(ctx, c.index)
		if err != nil {
			continue
		}
		c.file = view.File
		c.startLine = view.StartLine
		c.endLine = view.EndLine

		meta, err := snap.Store.GetChunkMeta(ctx, c.index)
		if err != nil {
			continue
		}
		c.language = meta.Language
		c.contentType = meta.ContentType
		c.symbols = meta.Symbols

		r := &Result{File: c.file, Language: c.language, ContentType: c.contentType, Symbols: c.symbols}
		results = append(results, r)
		byFile[r] = c
	}

	filtered := ApplyFilters(results, opts)
	out := make([]*candidate, 0, len(filtered))
	for _, r := range filtered {
		out = append(out, byFile[r])
	}
	return out
}

// prepareRecency implements step 5: populate mtime for candidates from the
// bounded LRU, best-effort stat-filling small candidate sets with bounded
// concurrency.
func (e *Engine) prepareRecency(ctx context.Context, snap cache.Snapshot, cands []*candidate) {
	distinctFiles := make(map[string]bool)

	for _, c := range cands {
		view, err := snap.Store.GetRecord(ctx, c.index)
		if err != nil {
			continue
		}
		c.file = view.File
		c.startLine = view.StartLine
		c.endLine = view.EndLine
		distinctFiles[view.File] = true
	}

	if len(distinctFiles) > 1000 {
		return // large candidate set: cache-only, no I/O storm
	}

	var missing []string
	for f := range distinctFiles {
		if _, ok := e.mtimeCache.Get(f); !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(50)
	for _, f := range missing {
		f := f
		g.Go(func() error {
			modTime, err := snap.Store.FileModTime(gctx, f)
			if err != nil {
				return nil // best-effort: missing metadata is not fatal
			}
			e.mtimeCache.Add(f, modTime.UnixMilli())
			return nil
		})
	}
	_ = g.Wait()
}

// score implements step 6.
func (e *Engine) score(ctx context.Context, snap cache.Snapshot, cands []*candidate, queryVec []float32, query string, queryWords []string, deferText bool) error {
	batch := 500
	for start := 0; start < len(cands); start += batch {
		end := start + batch
		if end > len(cands) {
			end = len(cands)
		}
		for _, c := range cands[start:end] {
			vec, err := snap.Store.GetVector(ctx, c.index)
			if err != nil {
				continue // stale or missing vector, skip (not fatal)
			}
			if len(vec) != len(queryVec) {
				slog.Warn("dimension mismatch during scoring", slog.Int("index", c.index))
				continue
			}

			view, err := snap.Store.GetRecord(ctx, c.index)
			if err != nil {
				continue
			}
			c.file = view.File
			c.startLine = view.StartLine
			c.endLine = view.EndLine

			c.score = dot(queryVec, vec) * e.cfg.SemanticWeight

			if len(query) > 1 && !deferText {
				c.content = view.Content
				c.hasContent = true
				c.score += e.textMatchBoost(view.Content, query, queryWords)
			}

			if e.cfg.RecencyBoost > 0 {
				if ms, ok := e.mtimeCache.Get(view.File); ok {
					c.score += recencyBoost(ms, e.cfg.RecencyBoost, e.cfg.RecencyDecayDays)
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func recencyBoost(mtimeMs int64, boost, decayDays float64) float64 {
	ageMs := float64(time.Now().UnixMilli() - mtimeMs)
	decayMs := decayDays * 24 * 60 * 60 * 1000
	if decayMs <= 0 {
		return 0
	}
	factor := 1 - ageMs/decayMs
	if factor < 0 {
		factor = 0
	}
	return factor * boost
}

// applyTextMatch implements the deferred half of step 6: fetch content and
// apply the exact/partial match boost to the top candidates only.
func (e *Engine) applyTextMatch(ctx context.Context, snap cache.Snapshot, top []*candidate, query string, queryWords []string) {
	for _, c := range top {
		if !c.hasContent {
			content, err := snap.Store.GetContent(ctx, c.index)
			if err != nil {
				continue
			}
			c.content = content
			c.hasContent = true
		}
		c.score += e.textMatchBoost(c.content, query, queryWords)
	}
}

// textMatchBoost implements the exactMatchBoost / partial-match-factor rule.
func (e *Engine) textMatchBoost(content, query string, queryWords []string) float64 {
	if containsFold(content, query) {
		return e.cfg.ExactMatchBoost
	}
	if len(queryWords) == 0 {
		return 0
	}
	lowerContent := strings.ToLower(content)
	matched := 0
	counted := 0
	for _, w := range queryWords {
		if len(w) <= e.cfg.MinPartialWordLen {
			continue
		}
		counted++
		if strings.Contains(lowerContent, w) {
			matched++
		}
	}
	if counted == 0 {
		return 0
	}
	return (float64(matched) / float64(counted)) * e.cfg.PartialMatchFactor
}

// applyCallGraphBoost implements step 7.
func (e *Engine) applyCallGraphBoost(ctx context.Context, snap cache.Snapshot, cands []*candidate) {
	top := cands
	if len(top) > 5 {
		top = top[:5]
	}

	var symbols []string
	for _, c := range top {
		content := c.content
		if !c.hasContent {
			if fetched, err := snap.Store.GetContent(ctx, c.index); err == nil {
				content = fetched
			}
		}
		symbols = append(symbols, callgraph.ExtractSymbols(content)...)
	}
	if len(symbols) == 0 {
		return
	}

	related := snap.CallGraph.Related(symbols, e.cfg.CallGraphMaxHops)
	if len(related) == 0 {
		return
	}

	for _, c := range cands {
		if c.file == "" {
			continue
		}
		if proximity, ok := related[c.file]; ok {
			c.score += proximity * e.cfg.CallGraphBoost
		}
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func splitQueryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	return fields
}

func sortByScoreDesc(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
}
