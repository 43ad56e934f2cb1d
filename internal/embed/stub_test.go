package embed

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubTextDeterministic(t *testing.T) {
	p := NewStubTextProducer()
	ctx := context.Background()

	a, err := p.EncodeText(ctx, "hello world")
	require.NoError(t, err)
	b, err := p.EncodeText(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, StubTextDimension)
}

func TestStubTextDistinctInputs(t *testing.T) {
	p := NewStubTextProducer()
	ctx := context.Background()

	a, err := p.EncodeText(ctx, "alpha")
	require.NoError(t, err)
	b, err := p.EncodeText(ctx, "beta")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStubTextUnitNorm(t *testing.T) {
	p := NewStubTextProducer()
	vec, err := p.EncodeText(context.Background(), "normalize me")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestStubTextTruncatesBeyondWindow(t *testing.T) {
	p := NewStubTextProducer()
	ctx := context.Background()

	long := make([]byte, stubMaxInputBytes+500)
	for i := range long {
		long[i] = 'x'
	}
	a, err := p.EncodeText(ctx, string(long))
	require.NoError(t, err)
	b, err := p.EncodeText(ctx, string(long[:stubMaxInputBytes]))
	require.NoError(t, err)
	assert.Equal(t, a, b, "bytes past the input window must not affect the vector")
}

func TestStubTextEmptyInput(t *testing.T) {
	p := NewStubTextProducer()
	_, err := p.EncodeText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestStubTextUnloaded(t *testing.T) {
	p := NewStubTextProducer()
	p.Unload()
	_, err := p.EncodeText(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, p.Load(""))
	_, err = p.EncodeText(context.Background(), "x")
	assert.NoError(t, err)
}

func TestStubTextLoadMissingModel(t *testing.T) {
	p := NewStubTextProducer()
	err := p.Load("/no/such/model.bin")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestStubTextBatchAligned(t *testing.T) {
	p := NewStubTextProducer()
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	vecs, err := p.EncodeBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		single, err := p.EncodeText(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func writeTestPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestStubVisualEncodeImage(t *testing.T) {
	p := NewStubVisualProducer()
	ctx := context.Background()

	path := writeTestPNG(t, t.TempDir(), "a.png", 16, 9)
	enc, err := p.EncodeImage(ctx, path)
	require.NoError(t, err)
	assert.Len(t, enc.Vector, StubVisualDimension)
	assert.Equal(t, 16, enc.Width)
	assert.Equal(t, 9, enc.Height)

	again, err := p.EncodeImage(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, enc.Vector, again.Vector)
}

func TestStubVisualUnsupportedExtension(t *testing.T) {
	p := NewStubVisualProducer()
	_, err := p.EncodeImage(context.Background(), "/tmp/file.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestStubVisualSharedSpace(t *testing.T) {
	p := NewStubVisualProducer()
	vec, err := p.EncodeText(context.Background(), "a photo of a cat")
	require.NoError(t, err)
	assert.Len(t, vec, StubVisualDimension)
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("/x/a.png"))
	assert.True(t, IsSupportedImage("/x/a.JPEG"))
	assert.True(t, IsSupportedImage("/x/a.heic"))
	assert.False(t, IsSupportedImage("/x/a.svg"))
	assert.False(t, IsSupportedImage("/x/a.txt"))
}

func TestCacheCopyOnGet(t *testing.T) {
	c := NewCache(4)
	c.Set("k", []float32{1, 2, 3})

	got, ok := c.Get("k")
	require.True(t, ok)
	got[0] = 99

	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0], "caller mutations must not reach the cache")
}

func TestCacheMiss(t *testing.T) {
	c := NewCache(4)
	_, ok := c.Get("absent")
	assert.False(t, ok)
}
