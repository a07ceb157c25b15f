// Package search implements the hybrid scorer: a single-pass,
// weighted-additive fusion of vector similarity, lexical text matching,
// call-graph proximity, and recency, with a degradation path when the ANN
// index is absent or inconsistent.
package search

import (
	"time"

	"github.com/sourcelens/sourcelens/internal/store"
)

// Options configures a search query.
type Options struct {
	// MaxResults is the number of results to return.
	MaxResults int

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Language filters results by programming language (e.g., "go", "typescript").
	Language string

	// SymbolType filters results by symbol type (e.g., "function", "class").
	SymbolType string

	// Scopes restricts results to files within these path prefixes (OR logic).
	Scopes []string
}

// Result is the contract's `{ file, startLine, endLine, score, content }`,
// augmented with a few fields the filter layer needs but the contract does
// not otherwise name.
type Result struct {
	File      string
	StartLine int
	EndLine   int
	Score     float64
	Content   string

	Language    string
	ContentType store.ContentType
	Symbols     []*store.Symbol

	// contentLoaded tracks whether Content has been fetched yet, supporting
	// the deferred-text-match / on-demand content-fill path.
	contentLoaded bool
}

// Response is the contract's `search(query, maxResults) -> { results, message }`.
type Response struct {
	Results []*Result
	Message string
}

// Config enumerates every scoring knob the contract names, with effects
// documented at the point of use in engine.go.
type Config struct {
	SemanticWeight float64

	ExactMatchBoost    float64
	PartialMatchFactor float64 // fixed at 0.3 per contract; kept as a field for test visibility
	MinPartialWordLen  int

	RecencyBoost     float64
	RecencyDecayDays float64

	CallGraphEnabled bool
	CallGraphBoost   float64
	CallGraphMaxHops int

	AnnEnabled             bool
	AnnMinCandidates       int
	AnnMaxCandidates       int
	AnnCandidateMultiplier float64

	TextMatchMaxCandidates int
	FullScanThreshold      int

	ScoreBatchSize         int
	KeywordBatchSize       int
	RecencyStatConcurrency int
	RecencyLRUTarget       int
	RecencyLRUMax          int

	EmbeddingDimension int

	SearchTimeout time.Duration
}

// DefaultConfig returns the contract's default knob values.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:         1.0,
		ExactMatchBoost:        0.5,
		PartialMatchFactor:     0.3,
		MinPartialWordLen:      2,
		RecencyBoost:           0.1,
		RecencyDecayDays:       30,
		CallGraphEnabled:       true,
		CallGraphBoost:         0.15,
		CallGraphMaxHops:       1,
		AnnEnabled:             true,
		AnnMinCandidates:       50,
		AnnMaxCandidates:       2000,
		AnnCandidateMultiplier: 3.0,
		TextMatchMaxCandidates: 2000,
		FullScanThreshold:      2000,
		ScoreBatchSize:         500,
		KeywordBatchSize:       100,
		RecencyStatConcurrency: 50,
		RecencyLRUTarget:       4000,
		RecencyLRUMax:          5000,
		SearchTimeout:          5 * time.Second,
	}
}
