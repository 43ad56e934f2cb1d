package dupes

import (
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// exactGroups finds byte-identical files: group by size, hash candidates
// in parallel, then verify hash collisions byte for byte.
func (a *Analyzer) exactGroups(ctx context.Context, files []FileInfo) ([]Group, error) {
	bySize := make(map[int64][]FileInfo)
	for _, f := range files {
		bySize[f.ByteSize] = append(bySize[f.ByteSize], f)
	}

	var candidates []FileInfo
	for _, set := range bySize {
		if len(set) > 1 {
			candidates = append(candidates, set...)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	type hashed struct {
		file FileInfo
		sum  [md5.Size]byte
	}
	results := make([]hashed, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range candidates {
		i, f := i, f
		g.Go(func() error {
			if err := a.checkCancel(gctx); err != nil {
				return err
			}
			sum, err := hashFile(f.Path)
			if err != nil {
				return nil // unreadable file drops out of consideration
			}
			results[i] = hashed{file: f, sum: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byHash := make(map[[md5.Size]byte][]FileInfo)
	for _, r := range results {
		if r.file.Path == "" {
			continue
		}
		byHash[r.sum] = append(byHash[r.sum], r.file)
	}

	var groups []Group
	for _, set := range byHash {
		if len(set) < 2 {
			continue
		}
		// MD5 collisions are constructible, so confirm before reporting
		for _, verified := range verifyIdentical(set) {
			if len(verified) < 2 {
				continue
			}
			groups = append(groups, makeExactGroup(verified))
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Files[0].Path < groups[j].Files[0].Path
	})
	return groups, nil
}

func hashFile(path string) ([md5.Size]byte, error) {
	var sum [md5.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// verifyIdentical splits a hash-equal set into byte-identical subsets.
func verifyIdentical(set []FileInfo) [][]FileInfo {
	var subsets [][]FileInfo
	remaining := append([]FileInfo(nil), set...)
	for len(remaining) > 0 {
		pivot := remaining[0]
		same := []FileInfo{pivot}
		var rest []FileInfo
		for _, other := range remaining[1:] {
			eq, err := filesEqual(pivot.Path, other.Path)
			if err == nil && eq {
				same = append(same, other)
			} else {
				rest = append(rest, other)
			}
		}
		subsets = append(subsets, same)
		remaining = rest
	}
	return subsets
}

var comparePool = sync.Pool{
	New: func() interface{} { return make([]byte, 64*1024) },
}

func filesEqual(pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer func() { _ = fa.Close() }()
	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer func() { _ = fb.Close() }()

	bufA := comparePool.Get().([]byte)
	bufB := comparePool.Get().([]byte)
	defer comparePool.Put(bufA)
	defer comparePool.Put(bufB)

	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		aDone := errA == io.EOF || errA == io.ErrUnexpectedEOF
		bDone := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if aDone && bDone {
			return true, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

func makeExactGroup(files []FileInfo) Group {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	g := Group{Type: GroupExact, Files: files, Similarity: 1.0}
	for _, f := range files {
		g.TotalBytes += f.ByteSize
	}
	// identical copies: keep any one
	g.ReclaimableBytes = g.TotalBytes - files[0].ByteSize
	return g
}
