package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// ANNConfig configures the ANN side index's lifecycle, independent of the
// underlying HNSW graph parameters in VectorStoreConfig.
type ANNConfig struct {
	VectorStoreConfig

	// AnnMinChunks is the store size below which the ANN index is never
	// built; queries fall back to linear scan instead.
	AnnMinChunks int

	// Candidate sizing (used by Candidates, the sole breadth-shaping API).
	Multiplier     float64
	MinCandidates  int
	MaxCandidates  int

	// MaxInitRetries bounds how many times a build is retried at a smaller
	// capacity estimate before the index is reported unavailable.
	MaxInitRetries int

	// CooldownAfterFailure suppresses further rebuild attempts for this long
	// once MaxInitRetries is exhausted.
	CooldownAfterFailure time.Duration
}

// DefaultANNConfig returns the spec's default candidate-sizing and lifecycle knobs.
func DefaultANNConfig(dimensions int) ANNConfig {
	return ANNConfig{
		VectorStoreConfig:    DefaultVectorStoreConfig(dimensions),
		AnnMinChunks:         500,
		Multiplier:           3.0,
		MinCandidates:        50,
		MaxCandidates:        2000,
		MaxInitRetries:       3,
		CooldownAfterFailure: 30 * time.Second,
	}
}

// ANNStats mirrors the contract's stats() surface.
type ANNStats struct {
	Dim            int
	Count          int
	Metric         string
	M              int
	EfConstruction int
	EfSearch       int
}

// ANNIndex is the ANN side index described by the component design: an HNSW
// graph over unit-norm vectors, addressed by the dense integer index space
// shared with the embedding store, with a dirty/rebuild/cooldown lifecycle
// that the searcher never has to reason about directly.
type ANNIndex struct {
	cfg   ANNConfig
	store *EmbeddingStore
	path  string

	mu          sync.Mutex
	graph       *HNSWStore // nil when unavailable
	dirty       bool
	cooldownEnd time.Time

	loadedVersion int
	loadedModel   string
	loadedDim     int
	loadedCount   int
}

// NewANNIndex constructs an index over store, persisting to path (the same
// "<name>.hnsw" convention HNSWStore.Save/Load already use).
func NewANNIndex(cfg ANNConfig, store *EmbeddingStore, path string) *ANNIndex {
	return &ANNIndex{cfg: cfg, store: store, path: path, dirty: true}
}

// MarkDirty flags the index for rebuild on the next query. Callers invoke
// this whenever a chunk is added or removed, or the embedding model changes.
func (a *ANNIndex) MarkDirty() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirty = true
}

// SetEfSearch takes effect immediately if the index is loaded; otherwise it
// is stored in config for the next build.
func (a *ANNIndex) SetEfSearch(value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.EfSearch = value
	if a.graph != nil {
		a.graph.graph.EfSearch = value
		a.graph.config.EfSearch = value
	}
}

// Stats returns the contract's stats() surface. Returns the zero value if
// the index has never been built.
func (a *ANNIndex) Stats() ANNStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ANNStats{
		Dim:            a.cfg.Dimensions,
		Count:          a.loadedCount,
		Metric:         a.cfg.Metric,
		M:              a.cfg.M,
		EfConstruction: a.cfg.EfConstruction,
		EfSearch:       a.cfg.EfSearch,
	}
}

// Candidates computes the candidate count for a request of maxResults, per
// the sole breadth-shaping formula the searcher is allowed to use.
func (a *ANNIndex) Candidates(maxResults, totalChunks int) int {
	c := maxResults
	if scaled := int(ceilFloat(float64(maxResults) * a.cfg.Multiplier)); scaled > c {
		c = scaled
	}
	if c < a.cfg.MinCandidates {
		c = a.cfg.MinCandidates
	}
	upper := a.cfg.MaxCandidates
	if totalChunks < upper {
		upper = totalChunks
	}
	if c > upper {
		c = upper
	}
	if c < 0 {
		c = 0
	}
	return c
}

func ceilFloat(f float64) float64 {
	i := int64(f)
	if float64(i) < f {
		i++
	}
	return float64(i)
}

// Query returns up to k candidate dense indices in ascending-distance
// (descending similarity) order. Returns (nil, false) if the index is
// unavailable or in cooldown — the caller must fall back to linear scan.
func (a *ANNIndex) Query(ctx context.Context, queryVector []float32, k int) ([]int, bool) {
	if err := a.ensureFresh(ctx); err != nil {
		slog.Warn("ann index unavailable, falling back to linear scan", slog.String("error", err.Error()))
		return nil, false
	}

	a.mu.Lock()
	graph := a.graph
	a.mu.Unlock()
	if graph == nil {
		return nil, false
	}

	results, err := graph.Search(ctx, queryVector, k)
	if err != nil {
		slog.Warn("ann query failed, falling back to linear scan", slog.String("error", err.Error()))
		return nil, false
	}

	out := make([]int, 0, len(results))
	for _, r := range results {
		idx, err := strconv.Atoi(r.ID)
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out, true
}

// Flush forces a rebuild-and-persist if the index is currently dirty. Used
// by the cache's explicit save path so the on-disk graph doesn't trail the
// store indefinitely between queries.
func (a *ANNIndex) Flush(ctx context.Context) error {
	return a.ensureFresh(ctx)
}

// ensureFresh rebuilds the index if it is dirty and the store has grown
// past annMinChunks, honoring an active cooldown.
func (a *ANNIndex) ensureFresh(ctx context.Context) error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	if !a.cooldownEnd.IsZero() && time.Now().Before(a.cooldownEnd) {
		a.mu.Unlock()
		return fmt.Errorf("ann index in cooldown until %s", a.cooldownEnd.Format(time.RFC3339))
	}
	a.mu.Unlock()

	count, err := a.store.Length(ctx)
	if err != nil {
		return err
	}
	if count < a.cfg.AnnMinChunks {
		return fmt.Errorf("store has %d chunks, below annMinChunks %d", count, a.cfg.AnnMinChunks)
	}

	meta, err := a.store.Meta(ctx)
	if err != nil {
		return err
	}

	if err := a.tryLoad(meta); err == nil {
		a.mu.Lock()
		a.dirty = false
		a.cooldownEnd = time.Time{}
		a.mu.Unlock()
		return nil
	}

	return a.rebuild(ctx, meta)
}

// tryLoad attempts to read a persisted graph and validates it against the
// store's current metadata (version, model, dim, count). Retried once
// before the caller falls through to a full rebuild.
func (a *ANNIndex) tryLoad(meta StoreMeta) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		graph, err := NewHNSWStore(a.cfg.VectorStoreConfig)
		if err != nil {
			lastErr = err
			continue
		}
		if err := graph.Load(a.path); err != nil {
			lastErr = err
			continue
		}
		if graph.Count() != meta.Count || a.cfg.Dimensions != meta.Dim {
			lastErr = fmt.Errorf("ann metadata mismatch: graph count %d dim %d vs store count %d dim %d",
				graph.Count(), a.cfg.Dimensions, meta.Count, meta.Dim)
			continue
		}

		a.mu.Lock()
		a.graph = graph
		a.loadedVersion = meta.Version
		a.loadedModel = meta.EmbeddingModel
		a.loadedDim = meta.Dim
		a.loadedCount = meta.Count
		a.mu.Unlock()
		return nil
	}
	return lastErr
}

// rebuild streams every stored vector through the graph in index order,
// retrying at a smaller capacity estimate on init failure before reporting
// the index unavailable and starting a cooldown. A failed rebuild never
// touches the embedding store.
func (a *ANNIndex) rebuild(ctx context.Context, meta StoreMeta) error {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxInitRetries; attempt++ {
		cfg := a.cfg.VectorStoreConfig
		if attempt > 0 {
			// Progressively smaller EfConstruction estimate; cheaper to build,
			// still correct, just less thorough search during insertion.
			if cfg.EfConstruction > 16 {
				cfg.EfConstruction /= 2
			}
		}

		graph, err := NewHNSWStore(cfg)
		if err != nil {
			lastErr = err
			continue
		}

		views, err := a.store.Iterate(ctx, IterateOptions{IncludeVector: true})
		if err != nil {
			lastErr = err
			continue
		}

		ids := make([]string, 0, len(views))
		vecs := make([][]float32, 0, len(views))
		for _, v := range views {
			if len(v.Vector) == 0 {
				continue // stale/missing vector, skip (not fatal)
			}
			ids = append(ids, strconv.Itoa(v.Index))
			vecs = append(vecs, v.Vector)
		}

		if err := graph.Add(ctx, ids, vecs); err != nil {
			lastErr = err
			continue
		}

		if err := graph.Save(a.path); err != nil {
			lastErr = err
			continue
		}

		a.mu.Lock()
		a.graph = graph
		a.dirty = false
		a.cooldownEnd = time.Time{}
		a.loadedVersion = meta.Version
		a.loadedModel = meta.EmbeddingModel
		a.loadedDim = meta.Dim
		a.loadedCount = len(ids)
		a.mu.Unlock()
		return nil
	}

	a.mu.Lock()
	a.graph = nil
	a.cooldownEnd = time.Now().Add(a.cfg.CooldownAfterFailure)
	a.mu.Unlock()
	return fmt.Errorf("ann index rebuild failed after %d attempts: %w", a.cfg.MaxInitRetries, lastErr)
}
