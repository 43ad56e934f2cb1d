package dupes

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filescope/filescope/internal/embed"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func exactOnlyConfig(dirs ...string) Config {
	cfg := DefaultConfig(dirs...)
	cfg.DetectSimilarImages = false
	cfg.DetectSimilarText = false
	return cfg
}

func TestExactDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "same payload")
	b := writeFile(t, dir, "sub/b.bin", "same payload")
	writeFile(t, dir, "c.bin", "different payload")

	report, err := New(exactOnlyConfig(dir), nil).Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	g := report.Groups[0]
	assert.Equal(t, GroupExact, g.Type)
	assert.Equal(t, 1.0, g.Similarity)

	var paths []string
	for _, f := range g.Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{a, b}, paths)

	// keep one copy, reclaim the rest
	assert.Equal(t, int64(len("same payload")*2), g.TotalBytes)
	assert.Equal(t, int64(len("same payload")), g.ReclaimableBytes)
	assert.Less(t, g.SuggestedKeep, len(g.Files))
	assert.Equal(t, 3, report.FilesScanned)
}

func TestExactSameSizeDifferentContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", "payload-one")
	writeFile(t, dir, "b.bin", "payload-two")

	report, err := New(exactOnlyConfig(dir), nil).Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Groups)
}

func TestDiscoverRespectsSizeGates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tiny.bin", "xx")
	writeFile(t, dir, "a.bin", "large enough payload")
	writeFile(t, dir, "b.bin", "large enough payload")

	cfg := exactOnlyConfig(dir)
	cfg.MinSizeBytes = 5
	report, err := New(cfg, nil).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesScanned)
	assert.Len(t, report.Groups, 1)
}

func TestDiscoverRespectsExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.log", "same")
	writeFile(t, dir, "b.log", "same")
	writeFile(t, dir, "keep1.txt", "other same")
	writeFile(t, dir, "keep2.txt", "other same")

	cfg := exactOnlyConfig(dir)
	cfg.ExcludePatterns = []string{"*.log"}
	report, err := New(cfg, nil).Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Contains(t, report.Groups[0].Files[0].Path, "keep")
}

func TestNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", "same")
	writeFile(t, dir, "deep/b.bin", "same")

	cfg := exactOnlyConfig(dir)
	cfg.Recursive = false
	report, err := New(cfg, nil).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesScanned)
	assert.Empty(t, report.Groups)
}

func TestAnalyzeCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(exactOnlyConfig(dir), nil).Analyze(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writePNG(t *testing.T, dir, name string, tweak func(x, y int) color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, tweak(x, y))
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// gradient renders a high-contrast pattern so the average hash carries
// structure instead of collapsing to all-zero or all-one bits.
func gradient(x, y int) color.RGBA {
	v := uint8((x * 4) % 256)
	if y > 32 {
		v = 255 - v
	}
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

func TestImageNearDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", gradient)
	// a few flipped pixels: visually the same image
	b := writePNG(t, dir, "b.png", func(x, y int) color.RGBA {
		if x == 0 && y == 0 {
			return color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return gradient(x, y)
	})
	// inverted pattern: visually different
	writePNG(t, dir, "c.png", func(x, y int) color.RGBA {
		p := gradient(x, y)
		return color.RGBA{R: 255 - p.R, G: 255 - p.G, B: 255 - p.B, A: 255}
	})

	cfg := DefaultConfig(dir)
	cfg.DetectSimilarText = false
	cfg.SimilarityThreshold = 0.9
	report, err := New(cfg, nil).Analyze(context.Background())
	require.NoError(t, err)

	var imageGroups []Group
	for _, g := range report.Groups {
		if g.Type == GroupImage {
			imageGroups = append(imageGroups, g)
		}
	}
	require.Len(t, imageGroups, 1)

	var paths []string
	for _, f := range imageGroups[0].Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{a, b}, paths)
	assert.GreaterOrEqual(t, imageGroups[0].Similarity, 0.9)
}

func TestAverageHashIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", gradient)
	b := writePNG(t, dir, "b.png", gradient)

	ha, err := averageHash(a)
	require.NoError(t, err)
	hb, err := averageHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestTextSimilarDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "identical body of text")
	b := writeFile(t, dir, "b.txt", "identical body of text")
	writeFile(t, dir, "c.txt", "a wholly different subject")

	cfg := DefaultConfig(dir)
	cfg.DetectSimilarImages = false
	cfg.SimilarityThreshold = 0.95
	report, err := New(cfg, embed.NewStubTextProducer()).Analyze(context.Background())
	require.NoError(t, err)

	var textGroups []Group
	for _, g := range report.Groups {
		if g.Type == GroupText {
			textGroups = append(textGroups, g)
		}
	}
	require.Len(t, textGroups, 1)

	var paths []string
	for _, f := range textGroups[0].Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{a, b}, paths)
}

func TestTextModeRequiresProducer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "x")

	cfg := DefaultConfig(dir)
	cfg.DetectSimilarImages = false
	_, err := New(cfg, nil).Analyze(context.Background())
	assert.ErrorIs(t, err, embed.ErrNotLoaded)
}

func TestChooseKeeper(t *testing.T) {
	g := Group{Files: []FileInfo{
		{Path: "/long/path/a.txt", ByteSize: 10, ModifiedAt: 100},
		{Path: "/b.txt", ByteSize: 30, ModifiedAt: 300},
		{Path: "/mid/c.txt", ByteSize: 20, ModifiedAt: 200},
	}}

	i, err := ChooseKeeper(g, KeepNewest)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = ChooseKeeper(g, KeepOldest)
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	i, err = ChooseKeeper(g, KeepLargest)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = ChooseKeeper(g, KeepShortestPath)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = ChooseKeeper(g, KeepMostAccessed)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = ChooseKeeper(g, KeepUserChoice)
	assert.Error(t, err, "user-choice defers to the caller")

	_, err = ChooseKeeper(g, KeepPolicy("bogus"))
	assert.Error(t, err)

	_, err = ChooseKeeper(Group{}, KeepNewest)
	assert.Error(t, err)
}

func TestCleanupGroupRemoves(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "payload")
	b := writeFile(t, dir, "b.bin", "payload")

	g := Group{Files: []FileInfo{
		{Path: a, ByteSize: 7},
		{Path: b, ByteSize: 7},
	}}
	removed, freed, err := CleanupGroup(g, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(7), freed)

	_, err = os.Stat(a)
	assert.NoError(t, err, "keeper survives")
	_, err = os.Stat(b)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupGroupSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "payload")

	g := Group{Files: []FileInfo{
		{Path: a, ByteSize: 7},
		{Path: filepath.Join(dir, "already-gone.bin"), ByteSize: 7},
	}}
	removed, freed, err := CleanupGroup(g, 0, false)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Zero(t, freed)
}

func TestCleanupGroupTrash(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "payload")
	b := writeFile(t, dir, "b.bin", "payload")

	g := Group{Files: []FileInfo{
		{Path: a, ByteSize: 7},
		{Path: b, ByteSize: 7},
	}}
	_, _, err := CleanupGroup(g, 0, true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ".Trash", "b.bin"))
	assert.NoError(t, err, "trashed file is recoverable")
}

func TestCleanupGroupBadIndex(t *testing.T) {
	_, _, err := CleanupGroup(Group{Files: []FileInfo{{Path: "/x"}}}, 5, false)
	assert.Error(t, err)
}

func TestReportTotalsAndJSON(t *testing.T) {
	groups := []Group{
		{Type: GroupExact, Files: []FileInfo{{Path: "/a", ByteSize: 10}, {Path: "/b", ByteSize: 10}},
			Similarity: 1.0, TotalBytes: 20, ReclaimableBytes: 10},
	}
	r := newReport(groups, 5, 30*time.Millisecond)
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, 2, r.DuplicateFiles)
	assert.Equal(t, int64(20), r.TotalBytes)
	assert.Equal(t, int64(10), r.ReclaimableBytes)
	assert.InDelta(t, 30.0, r.ScanTimeMs, 1.0)

	var buf []byte
	w := &sliceWriter{buf: &buf}
	require.NoError(t, r.WriteJSON(w))
	assert.Contains(t, string(buf), `"status": "ok"`)
	assert.Contains(t, string(buf), `"reclaimable_bytes": 10`)
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
