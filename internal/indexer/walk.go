package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/sourcelens/sourcelens/internal/config"
	"github.com/sourcelens/sourcelens/internal/gitignore"
)

// maxFileSize caps how large a single file can be before the walker skips
// it outright; oversized files are almost always generated artifacts or
// binary blobs that would dominate a chunker's token budget for no benefit.
const maxFileSize = 5 * 1024 * 1024

// discoveredFile is one walk result: an indexable file with content already
// read into memory, since the indexer needs it for both hashing and
// chunking.
type discoveredFile struct {
	RelPath string
	Content []byte
	ModTime int64
}

// walk discovers every file under root that DetectLanguage recognizes,
// honoring .gitignore rules and the config's own exclude globs. It always
// skips .git and the workspace's own data directory.
func walk(root string, cfg *config.Config, dataDirName string) ([]discoveredFile, error) {
	matcher := gitignore.New()
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		for _, p := range gitignore.ParsePatterns(string(content)) {
			matcher.AddPattern(p)
		}
	}

	var out []discoveredFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}

		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == dataDirName {
				return filepath.SkipDir
			}
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher.Match(rel, false) {
			return nil
		}
		if gitignore.MatchesAnyPattern(rel, cfg.Paths.Exclude) {
			return nil
		}
		if DetectLanguage(rel) == "" {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil //nolint:nilerr // transient read failure, skip for this pass
		}

		out = append(out, discoveredFile{RelPath: filepath.ToSlash(rel), Content: content, ModTime: info.ModTime().UnixNano()})
		return nil
	})
	return out, err
}

// hashContent returns the content hash stored on File.ContentHash, used to
// detect whether a previously indexed file has changed.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
