package mcp

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcelens/sourcelens/internal/search"
)

// FormatSemanticSearchResults formats semantic_search results as headed markdown
// sections, one per result: a relevance heading, a file/line pointer, and the
// matched content fenced with a language tag derived from the file extension.
func FormatSemanticSearchResults(results []*search.Result) string {
	var sb strings.Builder

	for i, r := range results {
		relevance := r.Score * 100
		if relevance < 0 {
			relevance = 0
		}
		if relevance > 100 {
			relevance = 100
		}

		fmt.Fprintf(&sb, "## Result %d (Relevance: %.0f%%)\n\n", i+1, relevance)
		fmt.Fprintf(&sb, "**File:** %s\n", r.File)
		fmt.Fprintf(&sb, "**Lines:** %d-%d\n\n", r.StartLine, r.EndLine)

		lang := strings.TrimPrefix(filepath.Ext(r.File), ".")
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", lang, r.Content)
	}

	return sb.String()
}

// FormatSearchResults formats generic search results as markdown.
func FormatSearchResults(query string, results []*search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatCodeResults formats code-specific results with syntax highlighting.
func FormatCodeResults(query string, results []*search.Result, langFilter string) string {
	if len(results) == 0 {
		msg := fmt.Sprintf("No code results found for \"%s\"", query)
		if langFilter != "" {
			msg += fmt.Sprintf(" in %s files", langFilter)
		}
		return msg
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Code Search Results for \"%s\"\n\n", query))
	if langFilter != "" {
		sb.WriteString(fmt.Sprintf("Language filter: `%s`\n\n", langFilter))
	}
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatDocsResults formats documentation results preserving section hierarchy.
func FormatDocsResults(query string, results []*search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No documentation found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Documentation Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatDocsResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult formats a single generic result.
func formatResult(sb *strings.Builder, num int, r *search.Result) {
	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n",
		num,
		r.File,
		r.StartLine,
		r.EndLine,
		r.Score,
	)

	if len(r.Symbols) > 0 {
		names := make([]string, len(r.Symbols))
		for j, sym := range r.Symbols {
			names[j] = fmt.Sprintf("`%s`", sym.Name)
		}
		fmt.Fprintf(sb, "**Symbols:** %s\n\n", strings.Join(names, ", "))
	}

	lang := r.Language
	if lang == "" {
		lang = "text"
	}

	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, r.Content)
}

// formatDocsResult formats a documentation result preserving structure.
func formatDocsResult(sb *strings.Builder, num int, r *search.Result) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n\n",
		num,
		r.File,
		r.Score,
	)

	if r.Language == "markdown" || r.Language == "md" {
		sb.WriteString(r.Content)
		sb.WriteString("\n\n---\n\n")
	} else {
		fmt.Fprintf(sb, "```\n%s\n```\n\n", r.Content)
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts a search result to the enhanced output format.
// Returns context-rich metadata explaining why a result matched.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	if r == nil {
		return SearchResultOutput{}
	}

	output := SearchResultOutput{
		FilePath: r.File,
		Content:  r.Content,
		Score:    r.Score,
		Language: r.Language,
	}

	if len(r.Symbols) > 0 {
		sym := r.Symbols[0]
		output.Symbol = sym.Name
		output.SymbolType = string(sym.Type)
		output.Signature = sym.Signature
	}

	output.MatchReason = generateMatchReason(r)

	return output
}

// generateMatchReason creates a human-readable explanation of why a result matched.
func generateMatchReason(r *search.Result) string {
	if r == nil {
		return ""
	}

	var parts []string

	if len(r.Symbols) > 0 {
		sym := r.Symbols[0]
		parts = append(parts, fmt.Sprintf("%s '%s'", sym.Type, sym.Name))
		if sym.DocComment != "" {
			docLine := sym.DocComment
			if idx := strings.Index(docLine, "\n"); idx > 0 {
				docLine = docLine[:idx]
			}
			if len(docLine) > 50 {
				docLine = docLine[:47] + "..."
			}
			parts = append(parts, fmt.Sprintf("documented as: %s", docLine))
		}
	}

	if len(parts) == 0 {
		return "matched content"
	}

	return strings.Join(parts, "; ")
}
