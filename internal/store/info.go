package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ProjectKey derives a Project.ID from a workspace's absolute root path, per
// the data model's "SHA256(absolute_path)" convention.
func ProjectKey(absRootPath string) string {
	sum := sha256.Sum256([]byte(absRootPath))
	return hex.EncodeToString(sum[:])
}

// EmbedderInfoInput describes the embedder currently configured, so
// GetIndexInfo can compare it against what the index was actually built
// with and flag a dimension mismatch.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// IndexInfo is the `index info` command's report: the index's own recorded
// embedding configuration and size/timestamp statistics, plus (optionally)
// a compatibility check against the currently configured embedder.
type IndexInfo struct {
	Location    string
	ProjectRoot string

	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// GetIndexInfo assembles an IndexInfo from the metadata store plus the
// on-disk layout under dataDir (<workspace>/.sourcelens/). current, when
// non-nil, is compared against the index's own recorded model/dimensions
// to flag a dimension mismatch before the caller attempts a search.
func GetIndexInfo(ctx context.Context, metadata *SQLiteStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	projectRoot := filepath.Dir(dataDir)
	projectID := ProjectKey(projectRoot)

	project, err := metadata.GetProject(ctx, projectID)
	if err != nil {
		project = &Project{ID: projectID, RootPath: projectRoot}
	}

	indexModel, _ := metadata.GetState(ctx, StateKeyIndexModel)
	dimStr, _ := metadata.GetState(ctx, StateKeyIndexDimension)
	indexDims := 0
	fmt.Sscanf(dimStr, "%d", &indexDims)

	info := &IndexInfo{
		Location:        dataDir,
		ProjectRoot:     projectRoot,
		IndexModel:      indexModel,
		IndexBackend:    inferBackendFromModel(indexModel),
		IndexDimensions: indexDims,
		ChunkCount:      project.ChunkCount,
		DocumentCount:   project.FileCount,
		IndexSizeBytes:  getDirSize(dataDir),
		BM25SizeBytes:   getDirSize(filepath.Join(dataDir, "bm25")),
		VectorSizeBytes: fileSize(filepath.Join(dataDir, "vectors.hnsw")),
		CreatedAt:       project.IndexedAt,
		UpdatedAt:       project.IndexedAt,
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = indexDims == 0 || current.Dimensions == 0 || indexDims == current.Dimensions
	} else {
		info.Compatible = true
	}

	return info, nil
}

// fileSize returns the size in bytes of a single file, or 0 if it does not
// exist.
func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// FormatBytes renders a byte count in human-readable units, used by the
// `index info` reporting surface.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(b)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel classifies an embedding model identifier into the
// external-model backend that would serve it: "static" for the bundled
// deterministic fallback, "mlx" for local Apple-silicon model paths, and
// "ollama" (the default) for everything else.
func inferBackendFromModel(model string) string {
	switch {
	case model == "static" || model == "static768":
		return "static"
	case filepath.IsAbs(model), containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

// getDirSize returns the total size in bytes of all regular files under dir,
// recursively. Returns 0 if dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
