package indexer

import (
	"path/filepath"
	"strings"
	"time"
)

// Config carries every runtime knob for the indexer. Zero values are
// replaced by the defaults below on Start.
type Config struct {
	// WatchDirs are the absolute roots to crawl and watch.
	WatchDirs []string

	// ExcludePatterns match against individual path components, as a
	// substring or a glob. A match on any component excludes the path.
	ExcludePatterns []string

	// IndexHidden includes dot-files and dot-directories when true.
	IndexHidden bool

	// Recursive descends into subdirectories. Default true.
	Recursive bool

	// MaxFileSizeMB skips files larger than this many megabytes.
	MaxFileSizeMB int64

	// BatchSize is the number of files embedded and written per store
	// transaction.
	BatchSize int

	// BatchDelay is slept after each batch flush to yield CPU and IO.
	BatchDelay time.Duration

	// EnableWatching transitions into watch mode after the initial crawl
	// instead of stopping.
	EnableWatching bool
}

// DefaultExcludePatterns skip version control, dependency caches, and
// system index cruft.
var DefaultExcludePatterns = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	".cache",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
}

// DefaultConfig returns a config with the standard knobs filled in.
func DefaultConfig() Config {
	return Config{
		ExcludePatterns: append([]string(nil), DefaultExcludePatterns...),
		Recursive:       true,
		MaxFileSizeMB:   50,
		BatchSize:       32,
		BatchDelay:      100 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 50
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
}

// excluded reports whether name (one path component) matches any exclude
// pattern, or is hidden while hidden files are off.
func (c *Config) excluded(name string) bool {
	if !c.IndexHidden && strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	for _, pattern := range c.ExcludePatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(name, pattern) {
			return true
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// excludedPath applies excluded to every component of a path. Watch events
// arrive as full paths, so the per-level check from the crawl has to be
// replayed component by component.
func (c *Config) excludedPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" {
			continue
		}
		if c.excluded(part) {
			return true
		}
	}
	return false
}
