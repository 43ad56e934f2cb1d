package dupes

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/filescope/filescope/pkg/types"
)

// Report is the complete result of one analysis run.
type Report struct {
	Status           string  `json:"status"`
	Groups           []Group `json:"groups"`
	FilesScanned     int     `json:"files_scanned"`
	DuplicateFiles   int     `json:"duplicate_files"`
	TotalBytes       int64   `json:"total_bytes"`
	ReclaimableBytes int64   `json:"reclaimable_bytes"`
	ScanTimeMs       float64 `json:"scan_time_ms"`
}

func newReport(groups []Group, scanned int, elapsed time.Duration) *Report {
	r := &Report{
		Status:       "ok",
		Groups:       groups,
		FilesScanned: scanned,
		ScanTimeMs:   float64(elapsed.Microseconds()) / 1000.0,
	}
	if r.Groups == nil {
		r.Groups = []Group{}
	}
	for _, g := range groups {
		r.DuplicateFiles += len(g.Files)
		r.TotalBytes += g.TotalBytes
		r.ReclaimableBytes += g.ReclaimableBytes
	}
	return r
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// KeepPolicy selects which member of a group survives cleanup.
type KeepPolicy string

const (
	KeepNewest       KeepPolicy = "newest"
	KeepOldest       KeepPolicy = "oldest"
	KeepLargest      KeepPolicy = "largest"
	KeepShortestPath KeepPolicy = "shortest-path"
	// KeepMostAccessed falls back to modification time; access times are
	// unreliable under relatime/noatime mounts.
	KeepMostAccessed KeepPolicy = "most-accessed"
	// KeepUserChoice defers the pick to the caller; ChooseKeeper returns
	// an error so the caller knows to supply an index.
	KeepUserChoice KeepPolicy = "user-choice"
)

// ChooseKeeper picks the surviving file index for a group under a policy.
func ChooseKeeper(g Group, policy KeepPolicy) (int, error) {
	if len(g.Files) == 0 {
		return 0, fmt.Errorf("%w: empty group", types.ErrInvalidInput)
	}
	if policy == KeepUserChoice {
		return 0, fmt.Errorf("%w: user-choice needs an explicit index", types.ErrInvalidInput)
	}
	best := 0
	for i := 1; i < len(g.Files); i++ {
		f, b := g.Files[i], g.Files[best]
		switch policy {
		case KeepNewest, KeepMostAccessed:
			if f.ModifiedAt > b.ModifiedAt {
				best = i
			}
		case KeepOldest:
			if f.ModifiedAt < b.ModifiedAt {
				best = i
			}
		case KeepLargest:
			if f.ByteSize > b.ByteSize {
				best = i
			}
		case KeepShortestPath:
			if len(f.Path) < len(b.Path) {
				best = i
			}
		default:
			return 0, fmt.Errorf("%w: unknown keep policy %q", types.ErrInvalidInput, policy)
		}
	}
	return best, nil
}

// CleanupGroup removes every file in the group except the keeper. With
// useTrash, files move to a .Trash directory beside each file instead of
// being unlinked. Already-missing and permission-denied members are skipped.
// Returns how many files were removed and the bytes freed.
func CleanupGroup(g Group, keepIndex int, useTrash bool) (int, int64, error) {
	if keepIndex < 0 || keepIndex >= len(g.Files) {
		return 0, 0, fmt.Errorf("%w: keep index %d out of range", types.ErrInvalidInput, keepIndex)
	}
	var removed int
	var freed int64
	for i, f := range g.Files {
		if i == keepIndex {
			continue
		}
		var err error
		if useTrash {
			err = moveToTrash(f.Path)
		} else {
			err = os.Remove(f.Path)
		}
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				continue
			}
			return removed, freed, err
		}
		removed++
		freed += f.ByteSize
	}
	return removed, freed, nil
}

func moveToTrash(path string) error {
	trashDir := filepath.Join(filepath.Dir(path), ".Trash")
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(trashDir, filepath.Base(path))
	// keep both when a prior cleanup already trashed the same name
	if _, err := os.Lstat(dest); err == nil {
		dest = fmt.Sprintf("%s.%d", dest, time.Now().UnixNano())
	}
	return os.Rename(path, dest)
}
