// Package callgraph derives per-file definition/call data via regex
// heuristics and composes it into an inverted related-files index. It makes
// no attempt at symbol-accurate parsing: extraction is approximate by design.
package callgraph

import (
	"regexp"
	"strings"
)

// FileCallData is the per-file record the extractor produces: the symbols a
// file defines, and the symbols it calls (excluding its own definitions).
type FileCallData struct {
	Definitions map[string]bool
	Calls       map[string]bool
}

var (
	lineCommentPattern  = regexp.MustCompile(`//[^\n]*`)
	hashCommentPattern  = regexp.MustCompile(`(?m)#[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	pyTripleQuotePattern = regexp.MustCompile(`(?s)("""|''').*?("""|''')`)
	doubleQuotePattern  = regexp.MustCompile(`"(\\.|[^"\\])*"`)
	singleQuotePattern  = regexp.MustCompile(`'(\\.|[^'\\])*'`)
	backtickPattern     = regexp.MustCompile("`(\\\\.|[^`\\\\])*`")

	callPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// definitionPatterns extracts a captured symbol name for each supported
// language family. Each pattern's last capture group is the symbol name.
var definitionPatterns = map[string][]*regexp.Regexp{
	"javascript": {
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\(|function)`),
	},
	"typescript": {
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?\(`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+([A-Za-z_][\w]*)`),
		regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_][\w]*)`),
	},
	"go": {
		regexp.MustCompile(`(?m)^func\s+(?:\(\s*\w+\s+\*?\w+\s*\)\s+)?([A-Za-z_][\w]*)`),
		regexp.MustCompile(`(?m)^type\s+([A-Za-z_][\w]*)\s+(?:struct|interface)`),
	},
	"rust": {
		regexp.MustCompile(`(?m)^\s*(?:pub(?:\([\w:]+\))?\s+)?(?:async\s+)?fn\s+([A-Za-z_][\w]*)`),
		regexp.MustCompile(`(?m)^\s*(?:pub(?:\([\w:]+\))?\s+)?(?:struct|enum|trait)\s+([A-Za-z_][\w]*)`),
	},
	"java": {
		regexp.MustCompile(`(?m)^\s*(?:public|private|protected|static|final|abstract|synchronized)[\w\s<>\[\]]*\s+([A-Za-z_][\w]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:public|private|protected)?\s*(?:abstract\s+)?class\s+([A-Za-z_][\w]*)`),
		regexp.MustCompile(`(?m)^\s*(?:public\s+)?interface\s+([A-Za-z_][\w]*)`),
	},
}

// denyList excludes control-flow keywords, common method-chain noise, and
// test-framework globals that would otherwise swamp the call graph.
var denyList = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"else": true, "catch": true, "try": true, "case": true, "break": true,
	"continue": true, "default": true, "do": true, "finally": true, "throw": true,
	"throws": true, "new": true, "delete": true, "typeof": true, "instanceof": true,
	"yield": true, "await": true, "async": true, "function": true, "class": true,
	"def": true, "fn": true, "func": true, "var": true, "let": true, "const": true,
	"struct": true, "enum": true, "interface": true, "impl": true, "pub": true,
	"public": true, "private": true, "protected": true, "static": true, "void": true,
	"nil": true, "null": true, "true": true, "false": true, "this": true, "self": true,
	"super": true, "import": true, "export": true, "package": true, "from": true,
	"as": true, "with": true, "pass": true, "lambda": true, "print": true,
	"println": true, "len": true, "range": true, "append": true, "make": true,
	"panic": true, "recover": true, "error": true, "string": true, "int": true,
	"bool": true, "float": true,
	"map": true, "filter": true, "reduce": true, "foreach": true, "push": true,
	"pop": true, "shift": true, "splice": true, "join": true, "split": true,
	"trim": true, "tostring": true, "valueof": true, "hasownproperty": true,
	"describe": true, "it": true, "test": true, "expect": true, "beforeeach": true,
	"aftereach": true, "beforeall": true, "afterall": true, "suite": true,
	"assert": true,
}

func languageFamily(language string) string {
	switch strings.ToLower(language) {
	case "javascript", "jsx":
		return "javascript"
	case "typescript", "tsx":
		return "typescript"
	case "python":
		return "python"
	case "go":
		return "go"
	case "rust":
		return "rust"
	case "java", "kotlin", "scala":
		return "java"
	default:
		return ""
	}
}

// stripNoise replaces comments and string literals with one space per
// character (newlines kept), so line numbers are preserved for any caller
// that cares about them.
func stripNoise(content string) string {
	content = pyTripleQuotePattern.ReplaceAllStringFunc(content, blank)
	content = blockCommentPattern.ReplaceAllStringFunc(content, blank)
	content = lineCommentPattern.ReplaceAllStringFunc(content, blank)
	content = backtickPattern.ReplaceAllStringFunc(content, blank)
	content = doubleQuotePattern.ReplaceAllStringFunc(content, blank)
	content = singleQuotePattern.ReplaceAllStringFunc(content, blank)
	return content
}

func blank(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' {
			b.WriteRune('\n')
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// ExtractCallData derives { definitions, calls } for a single file: calls
// that coincide with this file's own definitions are removed as self-loops.
func ExtractCallData(content, language string) *FileCallData {
	stripped := stripNoiseForComments(content, language)

	defs := make(map[string]bool)
	family := languageFamily(language)
	for _, fam := range candidateFamilies(family) {
		for _, pat := range definitionPatterns[fam] {
			for _, m := range pat.FindAllStringSubmatch(content, -1) {
				name := m[len(m)-1]
				if isValidSymbol(name) {
					defs[name] = true
				}
			}
		}
	}

	calls := make(map[string]bool)
	for _, m := range callPattern.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if !isValidSymbol(name) {
			continue
		}
		if defs[name] {
			continue // self-reference suppression
		}
		calls[name] = true
	}

	return &FileCallData{Definitions: defs, Calls: calls}
}

// stripNoiseForComments strips Python-style comments too when the language
// doesn't use C-style line comments, so python/ruby/shell files don't leak
// "#"-prefixed text into identifier scanning.
func stripNoiseForComments(content, language string) string {
	stripped := stripNoise(content)
	switch strings.ToLower(language) {
	case "python", "ruby", "shell", "perl", "r":
		stripped = hashCommentPattern.ReplaceAllStringFunc(stripped, blank)
	}
	return stripped
}

func candidateFamilies(primary string) []string {
	if primary != "" {
		return []string{primary}
	}
	// Unknown language: try every family, heuristics rarely false-positive
	// badly enough to matter for a secondary side index.
	return []string{"javascript", "typescript", "python", "go", "rust", "java"}
}

func isValidSymbol(name string) bool {
	if len(name) <= 1 {
		return false
	}
	return !denyList[strings.ToLower(name)]
}

// symbolCallPattern is the smaller pattern set used when extracting symbols
// from a handful of top search results, favoring precision over recall.
var symbolCallPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]{2,})\s*\(`)

// ExtractSymbols pulls candidate symbol names out of content for call-graph
// proximity lookups. Minimum symbol length is 3 to reduce noise; dedupes
// while preserving first-seen order.
func ExtractSymbols(content string) []string {
	stripped := stripNoise(content)
	seen := make(map[string]bool)
	var out []string
	for _, m := range symbolCallPattern.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if len(name) < 3 || denyList[strings.ToLower(name)] {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
