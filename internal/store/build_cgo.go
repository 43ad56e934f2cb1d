//go:build sqlite_fast
// +build sqlite_fast

package store

// Compiled when building with CGO and the sqlite_fast tag. The C driver is
// noticeably faster for large scans.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_fast ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
