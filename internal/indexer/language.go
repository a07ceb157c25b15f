package indexer

import (
	"strings"

	"github.com/sourcelens/sourcelens/internal/store"
)

// languageByExt maps file extensions (and a few exact basenames) to the
// language label stored on Chunk/File records.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "markdown",
	".txt":   "text",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".xml":   "xml",
}

var languageByName = map[string]string{
	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
}

// contentTypeByLanguage classifies a detected language into the coarse
// content-type buckets the chunker and search filters operate on.
var contentTypeByLanguage = map[string]store.ContentType{
	"markdown": store.ContentTypeMarkdown,
	"text":     store.ContentTypeText,
	"yaml":     store.ContentTypeText,
	"json":     store.ContentTypeText,
	"toml":     store.ContentTypeText,
	"xml":      store.ContentTypeText,
}

// DetectLanguage infers a language label from a file's relative path.
func DetectLanguage(path string) string {
	base := path
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		base = path[idx+1:]
	}
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		if lang, ok := languageByExt[base[idx:]]; ok {
			return lang
		}
	}
	return ""
}

// DetectContentType classifies a language into code, markdown, or text.
// Unknown languages default to code, since this indexer only walks files
// it already recognizes as source-like.
func DetectContentType(language string) store.ContentType {
	if ct, ok := contentTypeByLanguage[language]; ok {
		return ct
	}
	return store.ContentTypeCode
}
