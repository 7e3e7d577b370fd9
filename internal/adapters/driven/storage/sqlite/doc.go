// Package sqlite provides a SQLite-based implementation of the knowledge
// index driven port.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO, enabling easy cross-compilation. Each project gets its own
// database file holding:
//
//   - documents: full document records with labels, threads and hashes
//   - chunks: chunked content with embedding BLOBs
//   - chunks_fts: an FTS5 index kept in sync by triggers, queried with BM25
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory.
//
// # Data Location
//
// By default, databases are stored at ~/.sandbridge/knowledge/<project>.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking
// provided by SQLite in WAL mode.
package sqlite
