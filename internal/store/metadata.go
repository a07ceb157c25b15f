package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// StoreConfig configures the SQLite-backed metadata store.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes. Zero uses the default.
	CacheSizeMB int
}

// DefaultStoreConfig returns the default metadata store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// SQLiteStore implements MetadataStore over a modernc.org/sqlite database.
//
// The database is the single on-disk image for a workspace cache: a keyed
// record table (projects/files/chunks/symbols/embeddings) plus a metadata
// key-value set (the state table). Durability of a write is delivered by
// SQLite's own WAL transaction commit rather than a temp-file-then-rename
// dance: a committed transaction can never be observed half-written, which
// satisfies the same "readers never see a torn write" requirement.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if absent) a metadata store at path using
// default configuration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens a metadata store at path with a custom cache size.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	// Multiple readers, one writer at a time; WAL makes that non-blocking for reads.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database handle for diagnostics and the
// consistency checker.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		project_type TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		file_count INTEGER NOT NULL DEFAULT 0,
		indexed_at INTEGER,
		version TEXT
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER,
		content_hash TEXT,
		language TEXT,
		content_type TEXT,
		indexed_at INTEGER,
		UNIQUE(project_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		file_path TEXT,
		seq INTEGER,
		content TEXT,
		raw_content TEXT,
		context TEXT,
		content_type TEXT,
		language TEXT,
		start_line INTEGER,
		end_line INTEGER,
		metadata_json TEXT,
		created_at INTEGER,
		updated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_seq ON chunks(seq);

	CREATE TABLE IF NOT EXISTS symbols (
		chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT,
		start_line INTEGER,
		end_line INTEGER,
		signature TEXT,
		doc_comment TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_chunk ON symbols(chunk_id);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		vector BLOB NOT NULL,
		model TEXT
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (` + strconv.Itoa(CurrentSchemaVersion) + `);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// --- Project operations ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			project_type = excluded.project_type,
			version = excluded.version
	`, p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, timeToUnix(p.IndexedAt), p.Version)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version
		FROM projects WHERE id = ?`, id)

	var p Project
	var indexedAt sql.NullInt64
	var projectType, version sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &projectType, &p.ChunkCount, &p.FileCount, &indexedAt, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.ProjectType = projectType.String
	p.Version = version.String
	p.IndexedAt = unixToTime(indexedAt.Int64)
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET file_count = ?, chunk_count = ? WHERE id = ?`, fileCount, chunkCount, id)
	return err
}

func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	var fileCount, chunkCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, id).Scan(&fileCount); err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`, id).Scan(&chunkCount); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?`,
		fileCount, chunkCount, timeToUnix(time.Now()), id)
	return err
}

// --- File operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			id = excluded.id,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			content_type = excluded.content_type,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectID, f.Path, f.Size, timeToUnix(f.ModTime),
			f.ContentHash, f.Language, f.ContentType, timeToUnix(f.IndexedAt)); err != nil {
			return fmt.Errorf("failed to save file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var modTime, indexedAt sql.NullInt64
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt); err != nil {
		return nil, err
	}
	f.ModTime = unixToTime(modTime.Int64)
	f.IndexedAt = unixToTime(indexedAt.Int64)
	return &f, nil
}

const fileColumns = `id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at`

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE project_id = ? AND mod_time > ?`,
		projectID, timeToUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	offset := 0
	if cursor != "" {
		decoded, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 || parts[0] != "offset" {
			return nil, "", fmt.Errorf("invalid cursor format")
		}
		offset, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor offset: %w", err)
		}
		if offset < 0 {
			return nil, "", fmt.Errorf("cursor offset must be non-negative")
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE project_id = ?
		ORDER BY path LIMIT ? OFFSET ?`, projectID, limit+1, offset)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(out) > limit {
		out = out[:limit]
		nextCursor = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset+limit)))
	}
	return out, nextCursor, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.Path] = f
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	dirPrefix = strings.TrimSuffix(dirPrefix, "/")
	var rows *sql.Rows
	var err error
	if dirPrefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ? AND path LIKE ?`,
			projectID, dirPrefix+"/%")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	return err
}

// --- Chunk operations ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var nextSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM chunks`).Scan(&nextSeq); err != nil {
		return err
	}

	existing := make(map[string]bool, len(chunks))
	existingRows, err := tx.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return err
	}
	for existingRows.Next() {
		var id string
		if err := existingRows.Scan(&id); err != nil {
			existingRows.Close()
			return err
		}
		existing[id] = true
	}
	if err := existingRows.Err(); err != nil {
		existingRows.Close()
		return err
	}
	existingRows.Close()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_id, file_path, seq, content, raw_content, context, content_type,
			language, start_line, end_line, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			raw_content = excluded.raw_content,
			context = excluded.context,
			content_type = excluded.content_type,
			language = excluded.language,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	delSymStmt, err := tx.PrepareContext(ctx, `DELETE FROM symbols WHERE chunk_id = ?`)
	if err != nil {
		return err
	}
	defer delSymStmt.Close()

	symStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (chunk_id, name, type, start_line, end_line, signature, doc_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer symStmt.Close()

	for _, c := range chunks {
		meta := encodeMetadata(c.Metadata)
		createdAt, updatedAt := c.CreatedAt, c.UpdatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		seq := nextSeq
		if existing[c.ID] {
			seq = 0 // ignored: ON CONFLICT UPDATE never touches seq
		} else {
			nextSeq++
		}
		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.FileID, c.FilePath, seq, c.Content, c.RawContent,
			c.Context, string(c.ContentType), c.Language, c.StartLine, c.EndLine, meta,
			timeToUnix(createdAt), timeToUnix(updatedAt)); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}

		if _, err := delSymStmt.ExecContext(ctx, c.ID); err != nil {
			return err
		}
		for _, sym := range c.Symbols {
			if _, err := symStmt.ExecContext(ctx, c.ID, sym.Name, string(sym.Type), sym.StartLine, sym.EndLine,
				sym.Signature, sym.DocComment); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, file_id, file_path, content, raw_content, context, content_type, language, start_line, end_line, metadata_json, created_at, updated_at`

func (s *SQLiteStore) scanChunk(ctx context.Context, row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var contentType, metaJSON sql.NullString
	var createdAt, updatedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.FileID, &c.FilePath, &c.Content, &c.RawContent, &c.Context, &contentType,
		&c.Language, &c.StartLine, &c.EndLine, &metaJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType.String)
	c.CreatedAt = unixToTime(createdAt.Int64)
	c.UpdatedAt = unixToTime(updatedAt.Int64)
	c.Metadata = decodeMetadata(metaJSON.String)

	symRows, err := s.db.QueryContext(ctx, `SELECT name, type, start_line, end_line, signature, doc_comment
		FROM symbols WHERE chunk_id = ?`, c.ID)
	if err != nil {
		return nil, err
	}
	defer symRows.Close()
	for symRows.Next() {
		var sym Symbol
		var typ string
		if err := symRows.Scan(&sym.Name, &typ, &sym.StartLine, &sym.EndLine, &sym.Signature, &sym.DocComment); err != nil {
			return nil, err
		}
		sym.Type = SymbolType(typ)
		c.Symbols = append(c.Symbols, &sym)
	}
	return &c, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := s.scanChunk(ctx, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := s.scanChunk(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE file_id = ? ORDER BY seq`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := s.scanChunk(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	return err
}

// --- Symbol operations ---

func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, start_line, end_line, signature, doc_comment
		FROM symbols WHERE name LIKE ? LIMIT ?`, "%"+name+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		var sym Symbol
		var typ string
		if err := rows.Scan(&sym.Name, &typ, &sym.StartLine, &sym.EndLine, &sym.Signature, &sym.DocComment); err != nil {
			return nil, err
		}
		sym.Type = SymbolType(typ)
		out = append(out, &sym)
	}
	return out, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// --- Embedding operations ---

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("chunkIDs and embeddings length mismatch: %d != %d", len(chunkIDs), len(embeddings))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, model) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, model = excluded.model`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id, embeddingToBytes(embeddings[i]), model); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, vector FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out[id] = bytesToEmbedding(raw)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error) {
	if err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE id IN (SELECT chunk_id FROM embeddings)`).Scan(&withEmbedding); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE id NOT IN (SELECT chunk_id FROM embeddings)`).Scan(&withoutEmbedding); err != nil {
		return 0, 0, err
	}
	return withEmbedding, withoutEmbedding, nil
}

// --- Checkpoint operations ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	pairs := map[string]string{
		StateKeyCheckpointStage:         stage,
		StateKeyCheckpointTotal:         strconv.Itoa(total),
		StateKeyCheckpointEmbedded:      strconv.Itoa(embeddedCount),
		StateKeyCheckpointTimestamp:     strconv.FormatInt(time.Now().Unix(), 10),
		StateKeyCheckpointEmbedderModel: embedderModel,
	}
	for k, v := range pairs {
		if err := s.SetState(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil {
		return nil, err
	}
	if stage == "" || stage == "complete" {
		return nil, nil
	}

	total, err := s.getStateInt(ctx, StateKeyCheckpointTotal)
	if err != nil {
		return nil, err
	}
	embedded, err := s.getStateInt(ctx, StateKeyCheckpointEmbedded)
	if err != nil {
		return nil, err
	}
	tsStr, err := s.GetState(ctx, StateKeyCheckpointTimestamp)
	if err != nil {
		return nil, err
	}
	model, err := s.GetState(ctx, StateKeyCheckpointEmbedderModel)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if tsStr != "" {
		if sec, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(sec, 0)
		}
	}

	return &IndexCheckpoint{
		Stage:         stage,
		Total:         total,
		EmbeddedCount: embedded,
		Timestamp:     ts,
		EmbedderModel: model,
	}, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	keys := []string{
		StateKeyCheckpointStage, StateKeyCheckpointTotal, StateKeyCheckpointEmbedded,
		StateKeyCheckpointTimestamp, StateKeyCheckpointEmbedderModel,
	}
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) getStateInt(ctx context.Context, key string) (int, error) {
	v, err := s.GetState(ctx, key)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}

// --- helpers ---

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var b strings.Builder
	first := true
	for k, v := range m {
		if !first {
			b.WriteByte('\x1f')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('\x1e')
		b.WriteString(v)
	}
	return b.String()
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, "\x1f") {
		kv := strings.SplitN(pair, "\x1e", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// embeddingToBytes encodes a float32 vector as little-endian bytes.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding decodes a little-endian float32 vector from bytes.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
