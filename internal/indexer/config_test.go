package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.excluded(".git"))
	assert.True(t, cfg.excluded("node_modules"))
	assert.True(t, cfg.excluded("__pycache__"))
	assert.True(t, cfg.excluded(".DS_Store"))
	assert.True(t, cfg.excluded("scratch.tmp"), "glob patterns apply")

	assert.False(t, cfg.excluded("src"))
	assert.False(t, cfg.excluded("notes.txt"))
}

func TestExcludedHidden(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.excluded(".env"))

	cfg.IndexHidden = true
	assert.False(t, cfg.excluded(".env"))
	// explicit patterns still apply to hidden names
	assert.True(t, cfg.excluded(".git"))
}

func TestExcludedCustomPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludePatterns = append(cfg.ExcludePatterns, "*.bak")

	assert.True(t, cfg.excluded("old.bak"))
	assert.False(t, cfg.excluded("old.bat"))
}

func TestExcludedPathChecksEveryComponent(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.excludedPath("/home/u/project/node_modules/pkg/index.js"))
	assert.True(t, cfg.excludedPath("/home/u/.config/app.toml"))
	assert.False(t, cfg.excludedPath("/home/u/project/src/main.go"))
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, int64(50), cfg.MaxFileSizeMB)
	assert.NotZero(t, cfg.BatchSize)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Recursive)
	assert.NotEmpty(t, cfg.ExcludePatterns)
}
