package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrNotLoaded        = errors.New("producer not loaded")
	ErrModelNotFound    = errors.New("model file not found")
	ErrModelLoad        = errors.New("model load failed")
	ErrEmptyText        = errors.New("text cannot be empty")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrProviderFailed   = errors.New("embedding provider failed")
)

// TextProducer maps text to unit vectors in the text embedding space.
type TextProducer interface {
	// EncodeText encodes one string to a unit vector of Dimension() floats.
	// Input beyond MaxInputBytes is truncated.
	EncodeText(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch encodes several strings. The result is positionally
	// aligned with the input.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension, fixed at construction.
	Dimension() int

	// MaxInputBytes returns the producer's input window in bytes.
	MaxInputBytes() int

	IsLoaded() bool
	Load(modelPath string) error
	Unload()
}

// ImageEncoding is the result of encoding an image: its vector in the
// visual space plus the pixel dimensions observed while decoding.
type ImageEncoding struct {
	Vector []float32
	Width  int
	Height int
}

// VisualProducer maps images and text into one shared visual embedding
// space, so a text query can rank images.
type VisualProducer interface {
	EncodeImage(ctx context.Context, path string) (*ImageEncoding, error)
	EncodeText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	IsLoaded() bool
	Load(modelPath string) error
	Unload()
}

// imageExtensions are the formats the visual producer accepts.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".heic": true,
}

// IsSupportedImage reports whether the path's extension is an accepted
// image format (case-insensitive).
func IsSupportedImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Cache provides in-memory LRU caching of vectors keyed by content hash.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of a cached vector, so caller mutations never reach
// the cache.
func (c *Cache) Get(hash string) ([]float32, bool) {
	vec, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a vector with automatic LRU eviction.
func (c *Cache) Set(hash string, vec []float32) {
	c.cache.Add(hash, vec)
}

// Len returns the current cache size.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// ComputeHash returns the SHA-256 hash of text for cache keys.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
