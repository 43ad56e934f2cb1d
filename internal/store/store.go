package store

import (
	"errors"
	"path/filepath"

	"github.com/filescope/filescope/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")
)

// Record is one indexed file. Embedding is nil until the first successful
// encode; ContentHash is nil unless the duplicate analyzer has filled it in.
type Record struct {
	ID          int64
	Path        string // absolute, canonical; unique key
	Name        string // trailing path component
	Kind        types.FileKind
	ByteSize    int64
	ModifiedAt  int64 // seconds since epoch, source of truth for staleness
	IndexedAt   int64 // seconds since epoch, when the embedding was written
	Embedding   []float32
	ContentHash []byte
}

// NewRecord builds a Record for a path with metadata filled in from the
// caller's stat. Kind is derived from the extension.
func NewRecord(path string, byteSize, modifiedAt int64) *Record {
	return &Record{
		Path:       path,
		Name:       filepath.Base(path),
		Kind:       types.KindForPath(path),
		ByteSize:   byteSize,
		ModifiedAt: modifiedAt,
	}
}

// ImageRecord is one indexed image. Its embedding lives in the visual
// embedding space and must never be compared against text embeddings.
type ImageRecord struct {
	Path       string // primary key
	Name       string
	Embedding  []float32
	Width      int
	Height     int
	ByteSize   int64
	ModifiedAt int64
}

// Stats aggregates index-wide counters for status displays.
type Stats struct {
	Files      int64
	TotalBytes int64
	Embedded   int64
	Images     int64
	ByKind     map[types.FileKind]int64
}
