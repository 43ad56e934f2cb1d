package dupes

import (
	"context"
	"image"
	"math"
	"math/bits"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	// decoders for the supported still-image formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const hashBits = 64 // 8x8 average hash

// imageGroups clusters visually similar images by perceptual hash.
// Threshold t maps to a Hamming budget of round((1-t)*64) differing bits.
func (a *Analyzer) imageGroups(ctx context.Context, files []FileInfo) ([]Group, error) {
	var images []FileInfo
	for _, f := range files {
		if isImage(f.Path) {
			images = append(images, f)
		}
	}
	if len(images) < 2 {
		return nil, nil
	}

	hashes := make([]uint64, len(images))
	ok := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range images {
		i, f := i, f
		g.Go(func() error {
			if err := a.checkCancel(gctx); err != nil {
				return err
			}
			h, err := averageHash(f.Path)
			if err != nil {
				return nil // undecodable image drops out
			}
			hashes[i] = h
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	maxDistance := int(math.Round((1.0 - a.cfg.SimilarityThreshold) * hashBits))

	// greedy clustering: each unclaimed image seeds a group and claims
	// every later image within the Hamming budget
	claimed := make([]bool, len(images))
	var groups []Group
	for i := range images {
		if !ok[i] || claimed[i] {
			continue
		}
		members := []FileInfo{images[i]}
		var worst int
		for j := i + 1; j < len(images); j++ {
			if !ok[j] || claimed[j] {
				continue
			}
			d := bits.OnesCount64(hashes[i] ^ hashes[j])
			if d <= maxDistance {
				members = append(members, images[j])
				claimed[j] = true
				if d > worst {
					worst = d
				}
			}
		}
		if len(members) < 2 {
			continue
		}
		claimed[i] = true
		groups = append(groups, makeImageGroup(members, worst))
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Files[0].Path < groups[j].Files[0].Path
	})
	return groups, nil
}

// averageHash computes the 8x8 grayscale average hash: downsample, take
// the mean luma, set a bit per cell above the mean.
func averageHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, err
	}

	var cells [hashBits]float64
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0, image.ErrFormat
	}

	// area-average each source pixel into its 8x8 cell
	counts := [hashBits]float64{}
	for y := 0; y < h; y++ {
		cy := y * 8 / h
		for x := 0; x < w; x++ {
			cx := x * 8 / w
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			cells[cy*8+cx] += luma
			counts[cy*8+cx]++
		}
	}

	var mean float64
	for i := range cells {
		if counts[i] > 0 {
			cells[i] /= counts[i]
		}
		mean += cells[i]
	}
	mean /= hashBits

	var hash uint64
	for i, v := range cells {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

func makeImageGroup(files []FileInfo, worstDistance int) Group {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	g := Group{
		Type:       GroupImage,
		Files:      files,
		Similarity: 1.0 - float64(worstDistance)/hashBits,
	}
	var largest int64
	for _, f := range files {
		g.TotalBytes += f.ByteSize
		if f.ByteSize > largest {
			largest = f.ByteSize
		}
	}
	// near-duplicates: keep the largest, likely highest quality
	g.ReclaimableBytes = g.TotalBytes - largest
	return g
}
