// Package dupes finds duplicate files three ways: byte-identical content,
// visually similar images, and semantically similar text. Detection is
// read-only; cleanup is a separate, explicit step.
package dupes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/filescope/filescope/internal/embed"
	"github.com/filescope/filescope/pkg/types"
)

// MaxFiles caps one analysis run; larger corpora must be split by
// directory.
const MaxFiles = 10000

var (
	// ErrTooManyFiles is returned when discovery exceeds MaxFiles.
	ErrTooManyFiles = fmt.Errorf("more than %d files in scope", MaxFiles)
	// ErrCancelled is returned when Cancel interrupts a run.
	ErrCancelled = errors.New("analysis cancelled")
)

// GroupType labels what kind of similarity binds a group.
type GroupType string

const (
	GroupExact GroupType = "exact"
	GroupImage GroupType = "image"
	GroupText  GroupType = "text"
)

// FileInfo describes one member of a duplicate group.
type FileInfo struct {
	Path       string `json:"path"`
	ByteSize   int64  `json:"byte_size"`
	ModifiedAt int64  `json:"modified_at"`
}

// Group is one set of duplicates. Similarity is 1.0 for exact groups.
// SuggestedKeep indexes the member the configured keep policy would retain.
type Group struct {
	Type             GroupType  `json:"type"`
	Files            []FileInfo `json:"files"`
	Similarity       float64    `json:"similarity"`
	TotalBytes       int64      `json:"total_bytes"`
	ReclaimableBytes int64      `json:"reclaimable_bytes"`
	SuggestedKeep    int        `json:"suggested_keep"`
}

// Config controls one analysis run.
type Config struct {
	Dirs            []string
	ExcludePatterns []string
	MinSizeBytes    int64
	MaxSizeBytes    int64 // 0 means unlimited
	Recursive       bool

	DetectExact         bool
	DetectSimilarImages bool
	DetectSimilarText   bool

	// SimilarityThreshold applies to image and text grouping; exact
	// matching ignores it. Range (0, 1]; default 0.9.
	SimilarityThreshold float64

	// KeepPolicy picks each group's SuggestedKeep. KeepUserChoice leaves
	// it at the policy default (index 0).
	KeepPolicy KeepPolicy
}

// DefaultConfig returns the standard analysis parameters.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Dirs:                dirs,
		Recursive:           true,
		DetectExact:         true,
		DetectSimilarImages: true,
		DetectSimilarText:   true,
		SimilarityThreshold: 0.9,
		KeepPolicy:          KeepNewest,
	}
}

// Analyzer runs duplicate detection. A text producer is only needed when
// DetectSimilarText is set.
type Analyzer struct {
	cfg       Config
	text      embed.TextProducer
	cancelled atomic.Bool
}

// New creates an analyzer. text may be nil when Config.DetectSimilarText is
// false.
func New(cfg Config, text embed.TextProducer) *Analyzer {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.9
	}
	if cfg.KeepPolicy == "" {
		cfg.KeepPolicy = KeepNewest
	}
	return &Analyzer{cfg: cfg, text: text}
}

// Cancel requests a cooperative stop; the running Analyze returns
// ErrCancelled at its next poll.
func (a *Analyzer) Cancel() {
	a.cancelled.Store(true)
}

func (a *Analyzer) checkCancel(ctx context.Context) error {
	if a.cancelled.Load() {
		return ErrCancelled
	}
	return ctx.Err()
}

// Analyze discovers files under the configured directories and groups
// them by the enabled similarity modes.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	start := time.Now()
	a.cancelled.Store(false)

	files, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}

	var groups []Group

	if a.cfg.DetectExact {
		exact, err := a.exactGroups(ctx, files)
		if err != nil {
			return nil, err
		}
		groups = append(groups, exact...)
	}

	if a.cfg.DetectSimilarImages {
		imgs, err := a.imageGroups(ctx, files)
		if err != nil {
			return nil, err
		}
		groups = append(groups, imgs...)
	}

	if a.cfg.DetectSimilarText {
		if a.text == nil || !a.text.IsLoaded() {
			return nil, embed.ErrNotLoaded
		}
		txt, err := a.textGroups(ctx, files)
		if err != nil {
			return nil, err
		}
		groups = append(groups, txt...)
	}

	for i := range groups {
		if keep, err := ChooseKeeper(groups[i], a.cfg.KeepPolicy); err == nil {
			groups[i].SuggestedKeep = keep
		}
	}

	// biggest savings first
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ReclaimableBytes > groups[j].ReclaimableBytes
	})

	return newReport(groups, len(files), time.Since(start)), nil
}

// discover walks the configured directories and returns every regular
// file passing the size and exclude gates.
func (a *Analyzer) discover(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	seen := make(map[string]bool)

	excluded := func(name string) bool {
		for _, pat := range a.cfg.ExcludePatterns {
			if ok, _ := filepath.Match(pat, name); ok {
				return true
			}
		}
		return false
	}

	for _, dir := range a.cfg.Dirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		stack := []string{root}
		for len(stack) > 0 {
			if err := a.checkCancel(ctx); err != nil {
				return nil, err
			}
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := os.ReadDir(cur)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				name := entry.Name()
				if excluded(name) {
					continue
				}
				full := filepath.Join(cur, name)
				if entry.Type()&fs.ModeSymlink != 0 {
					continue
				}
				if entry.IsDir() {
					if a.cfg.Recursive {
						stack = append(stack, full)
					}
					continue
				}
				if !entry.Type().IsRegular() || seen[full] {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				size := info.Size()
				if size < a.cfg.MinSizeBytes {
					continue
				}
				if a.cfg.MaxSizeBytes > 0 && size > a.cfg.MaxSizeBytes {
					continue
				}
				seen[full] = true
				files = append(files, FileInfo{
					Path:       full,
					ByteSize:   size,
					ModifiedAt: info.ModTime().Unix(),
				})
				if len(files) > MaxFiles {
					return nil, ErrTooManyFiles
				}
			}
		}
	}
	return files, nil
}

// isImage reports whether the path looks like a decodable image.
func isImage(path string) bool {
	return types.KindForPath(path) == types.KindImage && embed.IsSupportedImage(path)
}

func isTextual(path string) bool {
	return types.KindForPath(path).IsTextual()
}
