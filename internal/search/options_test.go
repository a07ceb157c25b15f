package search

import (
	"testing"

	"github.com/sourcelens/sourcelens/internal/store"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// NormalizeScope Tests
// =============================================================================

func TestNormalizeScope(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no slashes", input: "services/api", expected: "services/api"},
		{name: "leading slash", input: "/services/api", expected: "services/api"},
		{name: "trailing slash", input: "services/api/", expected: "services/api"},
		{name: "both slashes", input: "/services/api/", expected: "services/api"},
		{name: "empty string", input: "", expected: ""},
		{name: "just slash", input: "/", expected: ""},
		{name: "multiple leading slashes", input: "///services/api", expected: "services/api"},
		{name: "multiple trailing slashes", input: "services/api///", expected: "services/api"},
		{name: "nested path", input: "services/api/v2/handlers", expected: "services/api/v2/handlers"},
		{name: "single directory", input: "src", expected: "src"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeScope(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// =============================================================================
// scopeFilter Tests
// =============================================================================

func TestScopeFilter_SingleScope(t *testing.T) {
	filter := scopeFilter([]string{"services/api"})

	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "exact directory match", filePath: "services/api/auth.go", expected: true},
		{name: "nested match", filePath: "services/api/v2/handler.go", expected: true},
		{name: "no match different service", filePath: "services/web/index.ts", expected: false},
		{name: "partial no match - similar prefix", filePath: "services/api-v2/file.go", expected: false},
		{name: "completely different path", filePath: "lib/utils/helper.go", expected: false},
		{name: "match with leading slash in path", filePath: "/services/api/handler.go", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &Result{File: tt.filePath}
			assert.Equal(t, tt.expected, filter(result))
		})
	}
}

func TestScopeFilter_MultipleScopes_ORLogic(t *testing.T) {
	filter := scopeFilter([]string{"services/api", "services/web", "lib"})

	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "matches first scope", filePath: "services/api/auth.go", expected: true},
		{name: "matches second scope", filePath: "services/web/index.ts", expected: true},
		{name: "matches third scope", filePath: "lib/utils.go", expected: true},
		{name: "matches none", filePath: "services/db/query.go", expected: false},
		{name: "matches none - root level", filePath: "main.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &Result{File: tt.filePath}
			assert.Equal(t, tt.expected, filter(result))
		})
	}
}

func TestScopeFilter_EmptyScopes(t *testing.T) {
	filter := scopeFilter([]string{})
	result := &Result{File: "any/path/file.go"}
	assert.True(t, filter(result))
}

func TestScopeFilter_OnlyEmptyStrings(t *testing.T) {
	filter := scopeFilter([]string{"", "", "/"})
	result := &Result{File: "any/path/file.go"}
	assert.True(t, filter(result))
}

func TestScopeFilter_MixedEmptyAndValid(t *testing.T) {
	filter := scopeFilter([]string{"", "services/api", "/"})

	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "matches valid scope", filePath: "services/api/handler.go", expected: true},
		{name: "no match", filePath: "lib/utils.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &Result{File: tt.filePath}
			assert.Equal(t, tt.expected, filter(result))
		})
	}
}

func TestScopeFilter_CaseSensitive(t *testing.T) {
	filter := scopeFilter([]string{"Services/API"})

	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "exact case match", filePath: "Services/API/handler.go", expected: true},
		{name: "lowercase no match", filePath: "services/api/handler.go", expected: false},
		{name: "mixed case no match", filePath: "Services/api/handler.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &Result{File: tt.filePath}
			assert.Equal(t, tt.expected, filter(result))
		})
	}
}

// =============================================================================
// ApplyFilters with Scopes Tests
// =============================================================================

func TestApplyFilters_WithScopes(t *testing.T) {
	results := []*Result{
		{File: "services/api/handler.go", ContentType: store.ContentTypeCode},
		{File: "services/web/index.ts", ContentType: store.ContentTypeCode},
		{File: "services/db/query.go", ContentType: store.ContentTypeCode},
		{File: "lib/utils.go", ContentType: store.ContentTypeCode},
	}

	opts := Options{Scopes: []string{"services/api", "lib"}}
	filtered := ApplyFilters(results, opts)

	assert.Len(t, filtered, 2)
	assert.Equal(t, "services/api/handler.go", filtered[0].File)
	assert.Equal(t, "lib/utils.go", filtered[1].File)
}

func TestApplyFilters_ScopesWithOtherFilters(t *testing.T) {
	results := []*Result{
		{File: "services/api/handler.go", ContentType: store.ContentTypeCode, Language: "go"},
		{File: "services/api/README.md", ContentType: store.ContentTypeMarkdown},
		{File: "services/web/server.ts", ContentType: store.ContentTypeCode, Language: "typescript"},
	}

	opts := Options{Filter: "code", Scopes: []string{"services/api"}}
	filtered := ApplyFilters(results, opts)

	assert.Len(t, filtered, 1)
	assert.Equal(t, "services/api/handler.go", filtered[0].File)
}

func TestApplyFilters_EmptyScopes_NoFiltering(t *testing.T) {
	results := []*Result{
		{File: "a.go", ContentType: store.ContentTypeCode},
		{File: "b.go", ContentType: store.ContentTypeCode},
	}

	opts := Options{Scopes: []string{}}
	filtered := ApplyFilters(results, opts)

	assert.Len(t, filtered, 2)
}

func TestApplyFilters_InvalidScope_ReturnsEmpty(t *testing.T) {
	results := []*Result{
		{File: "services/api/handler.go"},
		{File: "lib/utils.go"},
	}

	opts := Options{Scopes: []string{"nonexistent/path"}}
	filtered := ApplyFilters(results, opts)

	assert.Empty(t, filtered)
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkNormalizeScope(b *testing.B) {
	scope := "/services/api/v2/"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = NormalizeScope(scope)
	}
}

func BenchmarkScopeFilter_SingleScope(b *testing.B) {
	filter := scopeFilter([]string{"services/api"})
	result := &Result{File: "services/api/handler.go"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = filter(result)
	}
}

func BenchmarkScopeFilter_MultipleScopes(b *testing.B) {
	filter := scopeFilter([]string{
		"services/api",
		"services/web",
		"services/db",
		"lib/utils",
		"lib/core",
	})
	result := &Result{File: "lib/core/types.go"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = filter(result)
	}
}

func BenchmarkApplyFilters_WithScope_100Results(b *testing.B) {
	results := make([]*Result, 100)
	for i := 0; i < 100; i++ {
		path := "services/api/handler.go"
		if i%2 == 0 {
			path = "services/web/server.go"
		}
		results[i] = &Result{File: path, ContentType: store.ContentTypeCode}
	}

	opts := Options{Filter: "code", Scopes: []string{"services/api"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ApplyFilters(results, opts)
	}
}

// =============================================================================
// Test File Penalty Tests
// =============================================================================

func TestIsTestFile_Go(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "go test file", filePath: "internal/search/engine_test.go", expected: true},
		{name: "go implementation file", filePath: "internal/search/engine.go", expected: false},
		{name: "nested test file", filePath: "pkg/utils/helpers_test.go", expected: true},
		{name: "file with test in name but not suffix", filePath: "internal/testutils/helper.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsTestFile(tt.filePath)
			assert.Equal(t, tt.expected, got, "IsTestFile(%q)", tt.filePath)
		})
	}
}

func TestIsTestFile_JavaScript(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "jest test file", filePath: "src/components/Button.test.js", expected: true},
		{name: "jest test tsx file", filePath: "src/components/Button.test.tsx", expected: true},
		{name: "spec file", filePath: "src/utils/helpers.spec.ts", expected: true},
		{name: "implementation file", filePath: "src/components/Button.tsx", expected: false},
		{name: "__tests__ directory", filePath: "src/__tests__/integration.js", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsTestFile(tt.filePath)
			assert.Equal(t, tt.expected, got, "IsTestFile(%q)", tt.filePath)
		})
	}
}

func TestIsTestFile_Python(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "test_ prefix", filePath: "tests/test_utils.py", expected: true},
		{name: "_test suffix", filePath: "src/utils_test.py", expected: true},
		{name: "implementation file", filePath: "src/utils.py", expected: false},
		{name: "tests directory", filePath: "tests/conftest.py", expected: true},
		{name: "test directory singular", filePath: "test/helpers.py", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsTestFile(tt.filePath)
			assert.Equal(t, tt.expected, got, "IsTestFile(%q)", tt.filePath)
		})
	}
}

func TestApplyTestFilePenalty_Basic(t *testing.T) {
	results := []*Result{
		{File: "internal/search/engine_test.go", Score: 1.0},
		{File: "internal/search/engine.go", Score: 0.9},
		{File: "internal/mcp/server_test.go", Score: 0.8},
	}

	penalized := ApplyTestFilePenalty(results)

	assert.Equal(t, "internal/search/engine.go", penalized[0].File)
	assert.Equal(t, 0.9, penalized[0].Score)

	assert.Equal(t, "internal/search/engine_test.go", penalized[1].File)
	assert.Equal(t, 0.5, penalized[1].Score)

	assert.Equal(t, "internal/mcp/server_test.go", penalized[2].File)
	assert.Equal(t, 0.4, penalized[2].Score)
}

func TestApplyTestFilePenalty_NoTestFiles(t *testing.T) {
	results := []*Result{
		{File: "internal/search/engine.go", Score: 1.0},
		{File: "internal/mcp/server.go", Score: 0.9},
	}

	penalized := ApplyTestFilePenalty(results)

	assert.Equal(t, "internal/search/engine.go", penalized[0].File)
	assert.Equal(t, 1.0, penalized[0].Score)
	assert.Equal(t, "internal/mcp/server.go", penalized[1].File)
	assert.Equal(t, 0.9, penalized[1].Score)
}

func TestApplyTestFilePenalty_EmptyResults(t *testing.T) {
	results := []*Result{}
	penalized := ApplyTestFilePenalty(results)
	assert.Empty(t, penalized)
}

func TestApplyTestFilePenalty_ReorderByScore(t *testing.T) {
	results := []*Result{
		{File: "engine_test.go", Score: 1.0},
		{File: "engine.go", Score: 0.6},
	}

	penalized := ApplyTestFilePenalty(results)

	assert.Equal(t, "engine.go", penalized[0].File)
	assert.Equal(t, 0.6, penalized[0].Score)
	assert.Equal(t, "engine_test.go", penalized[1].File)
	assert.Equal(t, 0.5, penalized[1].Score)
}

// BenchmarkIsTestFile measures test file detection performance.
func BenchmarkIsTestFile(b *testing.B) {
	paths := []string{
		"internal/search/engine_test.go",
		"internal/search/engine.go",
		"src/components/Button.test.tsx",
		"tests/test_utils.py",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			_ = IsTestFile(p)
		}
	}
}

// =============================================================================
// Path Boost Tests
// =============================================================================

func TestIsImplementationPath(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "internal package", filePath: "internal/search/engine.go", expected: true},
		{name: "nested internal", filePath: "pkg/internal/utils.go", expected: true},
		{name: "cmd package", filePath: "cmd/sourcelens/main.go", expected: false},
		{name: "root file", filePath: "main.go", expected: false},
		{name: "pkg file", filePath: "pkg/version/version.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsImplementationPath(tt.filePath)
			assert.Equal(t, tt.expected, got, "IsImplementationPath(%q)", tt.filePath)
		})
	}
}

func TestIsWrapperPath(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected bool
	}{
		{name: "cmd package", filePath: "cmd/sourcelens/main.go", expected: true},
		{name: "nested cmd", filePath: "cmd/sourcelens/cmd/search.go", expected: true},
		{name: "internal package", filePath: "internal/search/engine.go", expected: false},
		{name: "pkg file", filePath: "pkg/version/version.go", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsWrapperPath(tt.filePath)
			assert.Equal(t, tt.expected, got, "IsWrapperPath(%q)", tt.filePath)
		})
	}
}

func TestApplyPathBoost_Basic(t *testing.T) {
	results := []*Result{
		{File: "cmd/sourcelens/cmd/search.go", Score: 1.0},
		{File: "internal/search/engine.go", Score: 0.8},
	}

	boosted := ApplyPathBoost(results)

	assert.Equal(t, "internal/search/engine.go", boosted[0].File)
	assert.InDelta(t, 1.04, boosted[0].Score, 0.01)
	assert.Equal(t, "cmd/sourcelens/cmd/search.go", boosted[1].File)
	assert.InDelta(t, 0.6, boosted[1].Score, 0.01)
}

func TestApplyPathBoost_NoChange(t *testing.T) {
	results := []*Result{
		{File: "internal/search/engine.go", Score: 1.0},
		{File: "internal/mcp/server.go", Score: 0.9},
	}

	boosted := ApplyPathBoost(results)

	assert.Equal(t, "internal/search/engine.go", boosted[0].File)
	assert.InDelta(t, 1.3, boosted[0].Score, 0.01)
	assert.Equal(t, "internal/mcp/server.go", boosted[1].File)
	assert.InDelta(t, 1.17, boosted[1].Score, 0.01)
}

func TestApplyPathBoost_EmptyResults(t *testing.T) {
	results := []*Result{}
	boosted := ApplyPathBoost(results)
	assert.Empty(t, boosted)
}

func TestApplyPathBoost_RealScenario(t *testing.T) {
	results := []*Result{
		{File: "cmd/sourcelens/cmd/search.go", Score: 0.95},
		{File: "internal/search/engine.go", Score: 0.85},
		{File: "pkg/version/version.go", Score: 0.5},
	}

	boosted := ApplyPathBoost(results)

	assert.Equal(t, "internal/search/engine.go", boosted[0].File)
	assert.Equal(t, "cmd/sourcelens/cmd/search.go", boosted[1].File)
	assert.Equal(t, "pkg/version/version.go", boosted[2].File)
}

// BenchmarkApplyPathBoost measures path boost performance.
func BenchmarkApplyPathBoost(b *testing.B) {
	results := make([]*Result, 20)
	for i := 0; i < 20; i++ {
		path := "internal/search/engine.go"
		if i%3 == 0 {
			path = "cmd/sourcelens/cmd/search.go"
		}
		results[i] = &Result{File: path, Score: float64(20-i) / 20.0}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cp := make([]*Result, len(results))
		for j, r := range results {
			cp[j] = &Result{File: r.File, Score: float64(20-j) / 20.0}
		}
		_ = ApplyPathBoost(cp)
	}
}

// BenchmarkApplyTestFilePenalty measures penalty application performance.
func BenchmarkApplyTestFilePenalty(b *testing.B) {
	results := make([]*Result, 20)
	for i := 0; i < 20; i++ {
		path := "internal/search/engine.go"
		if i%3 == 0 {
			path = "internal/search/engine_test.go"
		}
		results[i] = &Result{File: path, Score: float64(20-i) / 20.0}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cp := make([]*Result, len(results))
		for j, r := range results {
			cp[j] = &Result{File: r.File, Score: float64(20-j) / 20.0}
		}
		_ = ApplyTestFilePenalty(cp)
	}
}

// =============================================================================
// ValidateOptions Tests
// =============================================================================

func TestValidateOptions_ValidFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter string
	}{
		{"empty filter", ""},
		{"all filter", "all"},
		{"code filter", "code"},
		{"docs filter", "docs"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := Options{Filter: tc.filter}
			err := ValidateOptions(opts)
			assert.NoError(t, err)
		})
	}
}

func TestValidateOptions_UnknownFilter(t *testing.T) {
	opts := Options{Filter: "unknown"}
	err := ValidateOptions(opts)
	assert.NoError(t, err, "unknown filters should be accepted")
}

// =============================================================================
// contentTypeFilter Tests
// =============================================================================

func TestContentTypeFilter_CodeFilter(t *testing.T) {
	filter := contentTypeFilter("code")

	tests := []struct {
		name        string
		contentType store.ContentType
		expected    bool
	}{
		{"code matches", store.ContentTypeCode, true},
		{"markdown no match", store.ContentTypeMarkdown, false},
		{"text no match", store.ContentTypeText, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := &Result{ContentType: tc.contentType}
			assert.Equal(t, tc.expected, filter(result))
		})
	}
}

func TestContentTypeFilter_DocsFilter(t *testing.T) {
	filter := contentTypeFilter("docs")

	tests := []struct {
		name        string
		contentType store.ContentType
		expected    bool
	}{
		{"markdown matches", store.ContentTypeMarkdown, true},
		{"text matches", store.ContentTypeText, true},
		{"code no match", store.ContentTypeCode, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := &Result{ContentType: tc.contentType}
			assert.Equal(t, tc.expected, filter(result))
		})
	}
}

func TestContentTypeFilter_DefaultFilter(t *testing.T) {
	filter := contentTypeFilter("all")
	result := &Result{ContentType: store.ContentTypeCode}
	assert.True(t, filter(result), "default filter should match all")
}

// =============================================================================
// languageFilter Tests
// =============================================================================

func TestLanguageFilter_Matches(t *testing.T) {
	filter := languageFilter("go")
	result := &Result{Language: "go"}
	assert.True(t, filter(result))
}

func TestLanguageFilter_NoMatch(t *testing.T) {
	filter := languageFilter("go")
	result := &Result{Language: "python"}
	assert.False(t, filter(result))
}

// =============================================================================
// symbolTypeFilter Tests
// =============================================================================

func TestSymbolTypeFilter_Matches(t *testing.T) {
	filter := symbolTypeFilter("function")
	result := &Result{Symbols: []*store.Symbol{{Type: store.SymbolTypeFunction, Name: "TestFunc"}}}
	assert.True(t, filter(result))
}

func TestSymbolTypeFilter_NoMatch(t *testing.T) {
	filter := symbolTypeFilter("function")
	result := &Result{Symbols: []*store.Symbol{{Type: store.SymbolTypeClass, Name: "TestClass"}}}
	assert.False(t, filter(result))
}

func TestSymbolTypeFilter_EmptySymbols(t *testing.T) {
	filter := symbolTypeFilter("function")
	result := &Result{Symbols: []*store.Symbol{}}
	assert.False(t, filter(result))
}

func TestSymbolTypeFilter_MultipleSymbols(t *testing.T) {
	filter := symbolTypeFilter("function")
	result := &Result{
		Symbols: []*store.Symbol{
			{Type: store.SymbolTypeClass, Name: "TestClass"},
			{Type: store.SymbolTypeFunction, Name: "TestFunc"},
		},
	}
	assert.True(t, filter(result), "should match if any symbol matches")
}
