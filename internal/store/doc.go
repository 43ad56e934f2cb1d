// Package store persists the semantic file index in a single SQLite
// database.
//
// Two tables carry the index: indexed_files maps an absolute path to file
// metadata plus an optional text embedding, and image_index holds visual
// embeddings in their own embedding space. Embedding vectors are stored as
// BLOBs of little-endian float32 values, dimension x 4 bytes; a blob of any
// other size is treated as "no embedding" on read so a corrupt row degrades
// to a re-index instead of an error.
//
// The store is safe for one writer and many readers. Writes are serialized
// by an internal mutex and the database runs in WAL mode with NORMAL
// durability. Schema changes are applied as ordered migrations on Open; a
// crash mid-migration leaves the previous version fully usable.
//
// Build tags select the SQLite driver: the default build uses the pure Go
// modernc.org/sqlite driver, while -tags sqlite_fast uses mattn/go-sqlite3
// (requires cgo).
package store
