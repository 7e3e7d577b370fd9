package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sandbridge/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
)

// Ensure interfaces are implemented.
var (
	_ driven.KnowledgeIndex        = (*Store)(nil)
	_ driven.KnowledgeIndexFactory = (*Factory)(nil)
)

// timelinePreviewLen caps the text preview in timeline entries.
const timelinePreviewLen = 200

// Factory opens per-project knowledge indexes under a shared data
// directory. Open indexes are cached; concurrent Open calls for the
// same project share one Store.
type Factory struct {
	mu      sync.Mutex
	dataDir string
	open    map[string]*Store
}

// NewFactory creates an index factory rooted at dataDir.
// If dataDir is empty, defaults to ~/.sandbridge/knowledge.
func NewFactory(dataDir string) (*Factory, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sandbridge", "knowledge")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating knowledge directory: %w", err)
	}

	return &Factory{
		dataDir: dataDir,
		open:    make(map[string]*Store),
	}, nil
}

// Open opens (creating if needed) the index for a project ID.
func (f *Factory) Open(projectID string) (driven.KnowledgeIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.open[projectID]; ok {
		return s, nil
	}

	s, err := NewStore(filepath.Join(f.dataDir, projectID+".db"))
	if err != nil {
		return nil, err
	}
	s.onClose = func() {
		f.mu.Lock()
		delete(f.open, projectID)
		f.mu.Unlock()
	}
	f.open[projectID] = s
	return s, nil
}

// Remove closes and deletes the index for a project ID.
func (f *Factory) Remove(projectID string) error {
	f.mu.Lock()
	s, ok := f.open[projectID]
	delete(f.open, projectID)
	f.mu.Unlock()

	if ok {
		s.onClose = nil
		if err := s.Close(); err != nil {
			return fmt.Errorf("closing index: %w", err)
		}
	}

	path := filepath.Join(f.dataDir, projectID+".db")
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// CloseAll closes every open index.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	stores := make([]*Store, 0, len(f.open))
	for _, s := range f.open {
		s.onClose = nil
		stores = append(stores, s)
	}
	f.open = make(map[string]*Store)
	f.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Store is one project's SQLite-backed knowledge index.
type Store struct {
	db      *sql.DB
	path    string
	onClose func()
}

// NewStore opens (creating if needed) an index at the given file path.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// AddDocument stores a document and its chunks in one transaction.
// Returns domain.ErrAlreadyExists when a document with the same label
// and content hash is already indexed.
func (s *Store) AddDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling document metadata: %w", err)
	}

	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var exists bool
	row := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM documents WHERE label = ? AND content_hash = ?)
	`, doc.Label, doc.ContentHash)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("checking for duplicate: %w", err)
	}
	if exists {
		return domain.ErrAlreadyExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, label, thread, text, metadata, content_hash, simhash, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, doc.Label, doc.Thread, doc.Text, string(metadataJSON),
		doc.ContentHash, int64(doc.Simhash), doc.IngestedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		chunkMetaJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling chunk metadata: %w", err)
		}

		embeddingBlob := float32SliceToBytes(chunk.Embedding)

		if _, err := stmt.ExecContext(ctx, chunk.ID, doc.ID, chunk.ChunkIndex,
			chunk.Content, embeddingBlob, string(chunkMetaJSON)); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// HasDocument reports whether a document with the same label and
// content hash is already indexed.
func (s *Store) HasDocument(ctx context.Context, label, contentHash string) (bool, error) {
	var exists bool
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM documents WHERE label = ? AND content_hash = ?)
	`, label, contentHash)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("checking document: %w", err)
	}
	return exists, nil
}

// Simhashes returns the simhash fingerprints of documents under a label.
func (s *Store) Simhashes(ctx context.Context, label string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT simhash FROM documents WHERE label = ? AND simhash != 0", label)
	if err != nil {
		return nil, fmt.Errorf("listing simhashes: %w", err)
	}
	defer rows.Close()

	var hashes []uint64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning simhash: %w", err)
		}
		hashes = append(hashes, uint64(h))
	}
	return hashes, rows.Err()
}

// SearchLexical runs BM25 full-text search over chunk content.
// Scores are negated BM25 values, so higher is better.
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) ([]driven.ScoredChunk, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []driven.ScoredChunk
	for rows.Next() {
		var sc driven.ScoredChunk
		var rank float64
		if err := rows.Scan(&sc.ChunkID, &rank); err != nil {
			return nil, fmt.Errorf("scanning lexical hit: %w", err)
		}
		// bm25() returns lower-is-better values; negate so callers see
		// higher-is-better.
		sc.Score = -rank
		results = append(results, sc)
	}
	return results, rows.Err()
}

// SearchVector runs cosine-similarity search over chunk embeddings.
// The scan is brute force; chunk counts per project stay small enough
// that this beats maintaining a separate ANN index.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, limit int) ([]driven.ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []driven.ScoredChunk
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}

		candidate := bytesToFloat32Slice(blob)
		if len(candidate) != len(embedding) {
			continue
		}

		results = append(results, driven.ScoredChunk{
			ChunkID: id,
			Score:   cosineSimilarity(embedding, candidate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetChunk retrieves a chunk with its parent document context.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.metadata, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ?
	`, chunkID)

	var chunk domain.Chunk
	var embeddingBlob []byte
	var metadataJSON string
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
		&chunk.Content, &embeddingBlob, &metadataJSON, &chunk.ParentTitle); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	chunk.Embedding = bytesToFloat32Slice(embeddingBlob)

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
		}
	}

	return &chunk, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, label, thread, text, metadata, content_hash, simhash, ingested_at
		FROM documents WHERE id = ?
	`, id)

	var doc domain.Document
	var metadataJSON string
	var simhash int64
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Label, &doc.Thread, &doc.Text,
		&metadataJSON, &doc.ContentHash, &simhash, &doc.IngestedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.Simhash = uint64(simhash)

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling document metadata: %w", err)
		}
	}

	return &doc, nil
}

// Timeline lists documents in ingestion order, newest first.
func (s *Store) Timeline(ctx context.Context, since, until time.Time, limit int) ([]domain.TimelineEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT title, label, ingested_at, substr(text, 1, ?)
		FROM documents
	`
	args := []any{timelinePreviewLen + 1}

	var conds []string
	if !since.IsZero() {
		conds = append(conds, "ingested_at >= ?")
		args = append(args, since)
	}
	if !until.IsZero() {
		conds = append(conds, "ingested_at <= ?")
		args = append(args, until)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ingested_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("timeline query: %w", err)
	}
	defer rows.Close()

	var entries []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.Title, &e.Label, &e.IngestedAt, &e.Preview); err != nil {
			return nil, fmt.Errorf("scanning timeline entry: %w", err)
		}
		if len(e.Preview) > timelinePreviewLen {
			e.Preview = domain.Truncate(e.Preview, timelinePreviewLen) + "..."
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Status summarises the index contents.
func (s *Store) Status(ctx context.Context) (domain.StoreStatus, error) {
	status := domain.StoreStatus{
		Labels: make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents")
	if err := row.Scan(&status.DocCount); err != nil {
		return status, fmt.Errorf("counting documents: %w", err)
	}

	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks")
	if err := row.Scan(&status.ChunkCount); err != nil {
		return status, fmt.Errorf("counting chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT label, COUNT(*) FROM documents GROUP BY label")
	if err != nil {
		return status, fmt.Errorf("counting labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return status, fmt.Errorf("scanning label count: %w", err)
		}
		status.Labels[label] = count
	}
	if err := rows.Err(); err != nil {
		return status, err
	}

	threadRows, err := s.db.QueryContext(ctx, "SELECT DISTINCT thread FROM documents WHERE thread != '' ORDER BY thread")
	if err != nil {
		return status, fmt.Errorf("listing threads: %w", err)
	}
	defer threadRows.Close()
	for threadRows.Next() {
		var thread string
		if err := threadRows.Scan(&thread); err != nil {
			return status, fmt.Errorf("scanning thread: %w", err)
		}
		status.Threads = append(status.Threads, thread)
	}
	if err := threadRows.Err(); err != nil {
		return status, err
	}

	if info, err := os.Stat(s.path); err == nil {
		status.SizeBytes = info.Size()
	}

	return status, nil
}

// ==================== Helper Functions ====================

// buildFTSQuery turns free text into a safe FTS5 MATCH expression.
// Each token is quoted and tokens are OR-ed for recall.
func buildFTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
