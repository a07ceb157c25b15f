package search

import (
	"sort"
	"strings"

	"github.com/sourcelens/sourcelens/internal/store"
)

// Score adjustment constants for ranking heuristics layered on top of the
// base hybrid score.
const (
	// TestFilePenalty reduces test file scores to prioritize real implementations.
	TestFilePenalty = 0.5

	// InternalPathBoost increases scores for implementation code in internal/.
	InternalPathBoost = 1.3

	// CmdPathPenalty reduces scores for CLI wrapper code in cmd/.
	CmdPathPenalty = 0.6
)

// FilterFunc checks if a search result matches filter criteria.
type FilterFunc func(result *Result) bool

// ApplyFilters filters results based on search options.
// Filters use AND logic - results must match all specified criteria.
func ApplyFilters(results []*Result, opts Options) []*Result {
	if opts.Filter == "all" && opts.Language == "" && opts.SymbolType == "" && len(opts.Scopes) == 0 {
		return results
	}

	filters := buildFilters(opts)
	if len(filters) == 0 {
		return results
	}

	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if matchesAllFilters(r, filters) {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// buildFilters creates filter functions based on options.
func buildFilters(opts Options) []FilterFunc {
	var filters []FilterFunc

	if opts.Filter != "" && opts.Filter != "all" {
		filters = append(filters, contentTypeFilter(opts.Filter))
	}
	if opts.Language != "" {
		filters = append(filters, languageFilter(opts.Language))
	}
	if opts.SymbolType != "" {
		filters = append(filters, symbolTypeFilter(opts.SymbolType))
	}
	if len(opts.Scopes) > 0 {
		filters = append(filters, scopeFilter(opts.Scopes))
	}

	return filters
}

// matchesAllFilters checks if a result passes all filters (AND logic).
func matchesAllFilters(result *Result, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(result) {
			return false
		}
	}
	return true
}

// contentTypeFilter creates a filter for content type.
func contentTypeFilter(filter string) FilterFunc {
	return func(r *Result) bool {
		switch filter {
		case "code":
			return r.ContentType == store.ContentTypeCode
		case "docs":
			return r.ContentType == store.ContentTypeMarkdown ||
				r.ContentType == store.ContentTypeText
		default:
			return true
		}
	}
}

// languageFilter creates a filter for programming language.
func languageFilter(lang string) FilterFunc {
	return func(r *Result) bool {
		return r.Language == lang
	}
}

// symbolTypeFilter creates a filter for symbol type.
func symbolTypeFilter(symbolType string) FilterFunc {
	return func(r *Result) bool {
		if len(r.Symbols) == 0 {
			return false
		}
		targetType := store.SymbolType(symbolType)
		for _, s := range r.Symbols {
			if s.Type == targetType {
				return true
			}
		}
		return false
	}
}

// ValidateOptions checks if search options are valid. Unknown filter values
// are accepted and treated as "all" rather than rejected.
func ValidateOptions(opts Options) error {
	return nil
}

// NormalizeScope ensures consistent path format for matching.
// Strips leading and trailing slashes.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter creates a filter for path scope prefixes.
// Multiple scopes use OR logic - matches if path starts with ANY scope.
func scopeFilter(scopes []string) FilterFunc {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}

	if len(normalized) == 0 {
		return func(*Result) bool { return true }
	}

	return func(r *Result) bool {
		filePath := NormalizeScope(r.File) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(filePath, scope) {
				return true
			}
		}
		return false
	}
}

// ApplyTestFilePenalty deprioritizes test files, whose duplicated method
// signatures across mocks/fixtures otherwise tend to outscore the real
// implementation. Re-sorts by adjusted score.
func ApplyTestFilePenalty(results []*Result) []*Result {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if IsTestFile(r.File) {
			r.Score *= TestFilePenalty
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// IsTestFile checks if a file path is a test file.
// Supports Go (_test.go), JavaScript/TypeScript (.test.js, .spec.ts, etc.),
// and Python (test_*.py, *_test.py).
func IsTestFile(filePath string) bool {
	if strings.HasSuffix(filePath, "_test.go") {
		return true
	}
	if strings.Contains(filePath, ".test.") || strings.Contains(filePath, ".spec.") {
		return true
	}

	fileName := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		fileName = filePath[idx+1:]
	}
	if strings.HasPrefix(fileName, "test_") && strings.HasSuffix(fileName, ".py") {
		return true
	}
	if strings.HasSuffix(fileName, "_test.py") {
		return true
	}

	if strings.Contains(filePath, "/test/") || strings.Contains(filePath, "/tests/") {
		return true
	}
	if strings.HasPrefix(filePath, "test/") || strings.HasPrefix(filePath, "tests/") {
		return true
	}
	if strings.Contains(filePath, "/__tests__/") || strings.HasPrefix(filePath, "__tests__/") {
		return true
	}

	return false
}

// ApplyPathBoost adjusts scores based on file path to prioritize
// implementations: internal/ paths are boosted, cmd/ wrapper paths are
// penalized, so genuine implementations consistently outrank thin CLI glue
// that merely calls into them. Re-sorts by adjusted score.
func ApplyPathBoost(results []*Result) []*Result {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if IsImplementationPath(r.File) {
			r.Score *= InternalPathBoost
		}
		if IsWrapperPath(r.File) {
			r.Score *= CmdPathPenalty
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// IsImplementationPath checks if a path is implementation code (internal/).
func IsImplementationPath(filePath string) bool {
	return strings.HasPrefix(filePath, "internal/") ||
		strings.Contains(filePath, "/internal/")
}

// IsWrapperPath checks if a path is CLI wrapper code (cmd/).
func IsWrapperPath(filePath string) bool {
	return strings.HasPrefix(filePath, "cmd/") ||
		strings.Contains(filePath, "/cmd/")
}
