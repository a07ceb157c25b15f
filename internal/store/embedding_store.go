package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// ErrVectorMissing indicates a stored record's vector is absent or truncated
// on disk (shorter than dim*4 bytes). The caller should skip the record
// rather than fail the query.
type ErrVectorMissing struct{ Index int }

func (e ErrVectorMissing) Error() string {
	return fmt.Sprintf("vector missing for record %d", e.Index)
}

// Record is a single stored chunk: its source span, text, and embedding.
// It is the unit addressed by the dense integer index space shared with
// the ANN side index (invariant I2).
type Record struct {
	Index      int
	File       string
	StartLine  int
	EndLine    int
	Content    string
	Vector     []float32
	TokenCount int
}

// RecordView is a lightweight projection of a Record, returned by Iterate
// when the caller does not need content and/or vector data.
type RecordView struct {
	Index     int
	File      string
	StartLine int
	EndLine   int
	Content   string   // empty unless requested
	Vector    []float32 // nil unless requested
}

// IterateOptions controls which fields Iterate populates.
type IterateOptions struct {
	IncludeContent bool
	IncludeVector  bool
}

// StoreMeta is the embedding store's metadata key-value set.
type StoreMeta struct {
	Version        int
	EmbeddingModel string
	Dim            int
	Count          int
	CreatedAt      time.Time
}

const (
	stateKeyStoreVersion   = "embedding_store_version"
	stateKeyStoreCreatedAt = "embedding_store_created_at"
)

// EmbeddingStore is the persistent, dense-integer-indexed sequence of
// (file, startLine, endLine, content, vector) records described by the
// data model. It is backed by the same SQLite image as the rest of the
// workspace cache (chunks + embeddings + state tables), so "the single
// on-disk image per workspace cache" is the metadata.db file itself: a
// keyed record table (chunks/embeddings) plus a metadata key-value set
// (state). Durability comes from SQLite's WAL commit rather than a
// hand-rolled temp-then-rename blob, since a torn write can never be
// observed by a reader either way.
type EmbeddingStore struct {
	db        *SQLiteStore
	projectID string
}

// NewEmbeddingStore wraps db, scoping all operations to a single project
// (one embedding store per workspace).
func NewEmbeddingStore(db *SQLiteStore, projectID string) *EmbeddingStore {
	return &EmbeddingStore{db: db, projectID: projectID}
}

// FileKey canonicalizes a file path for use as a map key, matching the
// platform-normalization rule in the data model (lowercased on
// case-insensitive filesystems is left to the caller; this function only
// performs the deterministic hashing used for the project-scoped File.ID).
func FileKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

// Length returns the number of stored records.
func (e *EmbeddingStore) Length(ctx context.Context) (int, error) {
	var n int
	err := e.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`,
		e.projectID).Scan(&n)
	return n, err
}

func (e *EmbeddingStore) recordRow(ctx context.Context, where string, args ...any) (*Record, error) {
	row := e.db.db.QueryRowContext(ctx, `
		SELECT c.seq, c.file_path, c.start_line, c.end_line, c.content, e.vector
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.file_id IN (SELECT id FROM files WHERE project_id = ?) AND `+where,
		append([]any{e.projectID}, args...)...)

	var r Record
	var vec []byte
	if err := row.Scan(&r.Index, &r.File, &r.StartLine, &r.EndLine, &r.Content, &vec); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.Vector = bytesToEmbedding(vec)
	return &r, nil
}

// GetRecord returns the full record at dense index i.
func (e *EmbeddingStore) GetRecord(ctx context.Context, i int) (*Record, error) {
	return e.recordRow(ctx, "c.seq = ?", i)
}

// GetVector returns the vector at dense index i, or ErrVectorMissing if
// absent or truncated.
func (e *EmbeddingStore) GetVector(ctx context.Context, i int) ([]float32, error) {
	var vec []byte
	err := e.db.db.QueryRowContext(ctx, `
		SELECT e.vector FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.seq = ? AND c.file_id IN (SELECT id FROM files WHERE project_id = ?)`, i, e.projectID).Scan(&vec)
	if err == sql.ErrNoRows || len(vec) == 0 {
		return nil, ErrVectorMissing{Index: i}
	}
	if err != nil {
		return nil, err
	}
	dim, err := e.dim(ctx)
	if err == nil && dim > 0 && len(vec) < dim*4 {
		return nil, ErrVectorMissing{Index: i}
	}
	return bytesToEmbedding(vec), nil
}

// GetContent returns the content at dense index i.
func (e *EmbeddingStore) GetContent(ctx context.Context, i int) (string, error) {
	var content string
	err := e.db.db.QueryRowContext(ctx, `
		SELECT content FROM chunks WHERE seq = ? AND file_id IN (SELECT id FROM files WHERE project_id = ?)`,
		i, e.projectID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return content, err
}

// ChunkMeta is the filtering-relevant metadata the hot scoring path skips
// fetching, used only when the searcher needs to apply a language/symbol/
// content-type filter.
type ChunkMeta struct {
	Language    string
	ContentType ContentType
	Symbols     []*Symbol
}

// GetChunkMeta returns the language, content type, and symbols for the chunk
// at dense index i.
func (e *EmbeddingStore) GetChunkMeta(ctx context.Context, i int) (ChunkMeta, error) {
	var m ChunkMeta
	var chunkID string
	var contentType string
	err := e.db.db.QueryRowContext(ctx, `
		SELECT c.id, c.language, c.content_type FROM chunks c
		WHERE c.seq = ? AND c.file_id IN (SELECT id FROM files WHERE project_id = ?)`,
		i, e.projectID).Scan(&chunkID, &m.Language, &contentType)
	if err != nil {
		return m, err
	}
	m.ContentType = ContentType(contentType)

	rows, err := e.db.db.QueryContext(ctx, `
		SELECT name, type, start_line, end_line, signature, doc_comment FROM symbols WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Symbol
		var symType string
		if err := rows.Scan(&s.Name, &symType, &s.StartLine, &s.EndLine, &s.Signature, &s.DocComment); err != nil {
			return m, err
		}
		s.Type = SymbolType(symType)
		m.Symbols = append(m.Symbols, &s)
	}
	return m, rows.Err()
}

// Iterate returns an ordered sequence of lightweight views over every
// record, in dense-index order.
func (e *EmbeddingStore) Iterate(ctx context.Context, opts IterateOptions) ([]RecordView, error) {
	cols := "c.seq, c.file_path, c.start_line, c.end_line"
	if opts.IncludeContent {
		cols += ", c.content"
	}
	if opts.IncludeVector {
		cols += ", e.vector"
	}

	query := `SELECT ` + cols + ` FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.file_id IN (SELECT id FROM files WHERE project_id = ?) ORDER BY c.seq`
	rows, err := e.db.db.QueryContext(ctx, query, e.projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordView
	for rows.Next() {
		var v RecordView
		dest := []any{&v.Index, &v.File, &v.StartLine, &v.EndLine}
		var content sql.NullString
		var vec []byte
		if opts.IncludeContent {
			dest = append(dest, &content)
		}
		if opts.IncludeVector {
			dest = append(dest, &vec)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if opts.IncludeContent {
			v.Content = content.String
		}
		if opts.IncludeVector {
			v.Vector = bytesToEmbedding(vec)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RemoveFileChunks removes all chunks belonging to file, then renumbers the
// dense index so it remains contiguous over [0, count).
func (e *EmbeddingStore) RemoveFileChunks(ctx context.Context, file string) error {
	tx, err := e.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE file_path = ? AND file_id IN (SELECT id FROM files WHERE project_id = ?)`,
		file, e.projectID); err != nil {
		return err
	}
	if err := renumberSeq(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// renumberSeq compacts the dense index so it is contiguous starting at 0,
// preserving existing relative order.
func renumberSeq(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE chunks SET seq = (
			SELECT rn - 1 FROM (
				SELECT id, ROW_NUMBER() OVER (ORDER BY seq) AS rn FROM chunks
			) t WHERE t.id = chunks.id
		)`)
	return err
}

// AppendChunks appends chunks and their vectors. Fails if any vector's
// length does not match the store's established dimension (the first
// vector ever appended fixes it).
func (e *EmbeddingStore) AppendChunks(ctx context.Context, chunks []*Chunk, vectors [][]float32, model string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	dim, err := e.dim(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return ErrDimensionMismatch{Expected: dim, Got: len(v)}
		}
		_ = i
	}

	if err := e.db.SaveChunks(ctx, chunks); err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := e.db.SaveChunkEmbeddings(ctx, ids, vectors, model); err != nil {
		return err
	}

	meta, err := e.Meta(ctx)
	if err != nil {
		return err
	}
	meta.Dim = dim
	meta.EmbeddingModel = model
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	count, err := e.Length(ctx)
	if err != nil {
		return err
	}
	meta.Count = count
	return e.setMeta(ctx, meta)
}

// Clear drops every chunk, file, and embedding owned by this project.
func (e *EmbeddingStore) Clear(ctx context.Context) error {
	return e.db.DeleteFilesByProject(ctx, e.projectID)
}

// FileModTime returns a tracked file's last modification time, for the
// searcher's recency-boost prep (invariant I4 guarantees file-meta presence
// for every file with stored chunks).
func (e *EmbeddingStore) FileModTime(ctx context.Context, path string) (time.Time, error) {
	f, err := e.db.GetFileByPath(ctx, e.projectID, path)
	if err != nil {
		return time.Time{}, err
	}
	return f.ModTime, nil
}

func (e *EmbeddingStore) dim(ctx context.Context) (int, error) {
	v, err := e.db.GetState(ctx, StateKeyIndexDimension)
	if err != nil || v == "" {
		return 0, err
	}
	var dim int
	_, err = fmt.Sscanf(v, "%d", &dim)
	return dim, err
}

// Meta returns the embedding store's metadata record.
func (e *EmbeddingStore) Meta(ctx context.Context) (StoreMeta, error) {
	var m StoreMeta
	dim, err := e.dim(ctx)
	if err != nil {
		return m, err
	}
	m.Dim = dim

	model, err := e.db.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return m, err
	}
	m.EmbeddingModel = model

	count, err := e.Length(ctx)
	if err != nil {
		return m, err
	}
	m.Count = count

	versionStr, err := e.db.GetState(ctx, stateKeyStoreVersion)
	if err != nil {
		return m, err
	}
	if versionStr != "" {
		fmt.Sscanf(versionStr, "%d", &m.Version)
	} else {
		m.Version = CurrentSchemaVersion
	}

	createdStr, err := e.db.GetState(ctx, stateKeyStoreCreatedAt)
	if err != nil {
		return m, err
	}
	if createdStr != "" {
		var unixSec int64
		fmt.Sscanf(createdStr, "%d", &unixSec)
		m.CreatedAt = time.Unix(unixSec, 0)
	}

	return m, nil
}

func (e *EmbeddingStore) setMeta(ctx context.Context, m StoreMeta) error {
	if err := e.db.SetState(ctx, StateKeyIndexDimension, fmt.Sprintf("%d", m.Dim)); err != nil {
		return err
	}
	if err := e.db.SetState(ctx, StateKeyIndexModel, m.EmbeddingModel); err != nil {
		return err
	}
	if err := e.db.SetState(ctx, stateKeyStoreVersion, fmt.Sprintf("%d", CurrentSchemaVersion)); err != nil {
		return err
	}
	if !m.CreatedAt.IsZero() {
		existing, err := e.db.GetState(ctx, stateKeyStoreCreatedAt)
		if err != nil {
			return err
		}
		if existing == "" {
			if err := e.db.SetState(ctx, stateKeyStoreCreatedAt, fmt.Sprintf("%d", m.CreatedAt.Unix())); err != nil {
				return err
			}
		}
	}
	return nil
}
