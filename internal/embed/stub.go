package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"os"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/filescope/filescope/internal/store"
)

// Reference dimensions of the stub embedding spaces.
const (
	StubTextDimension   = 384
	StubVisualDimension = 512

	stubMaxInputBytes = 8192
)

// stubVector expands a seed into a reproducible unit vector. The output is
// deterministic per input and semantically meaningless; it exists so tests
// and offline runs can exercise the pipeline without a model file.
func stubVector(seed []byte, dim int) []float32 {
	vec := make([]float32, dim)
	block := sha256.Sum256(seed)
	for i := 0; i < dim; i++ {
		if i > 0 && i%sha256.Size == 0 {
			block = sha256.Sum256(block[:])
		}
		vec[i] = float32(block[i%sha256.Size])/127.5 - 1.0
	}
	return store.NormalizeVector(vec)
}

// StubTextProducer is a deterministic offline TextProducer.
type StubTextProducer struct {
	mu     sync.Mutex
	loaded bool
}

// NewStubTextProducer returns a loaded stub producer.
func NewStubTextProducer() *StubTextProducer {
	return &StubTextProducer{loaded: true}
}

func (p *StubTextProducer) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if !p.IsLoaded() {
		return nil, ErrNotLoaded
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	if len(text) > stubMaxInputBytes {
		text = text[:stubMaxInputBytes]
	}
	return stubVector([]byte(text), StubTextDimension), nil
}

func (p *StubTextProducer) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.EncodeText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *StubTextProducer) Dimension() int     { return StubTextDimension }
func (p *StubTextProducer) MaxInputBytes() int { return stubMaxInputBytes }

func (p *StubTextProducer) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Load accepts an optional model path; the stub only verifies it exists.
func (p *StubTextProducer) Load(modelPath string) error {
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
	}
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

func (p *StubTextProducer) Unload() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

// StubVisualProducer is a deterministic offline VisualProducer. Image and
// text inputs land in the same 512-dim stub space.
type StubVisualProducer struct {
	mu     sync.Mutex
	loaded bool
}

// NewStubVisualProducer returns a loaded stub producer.
func NewStubVisualProducer() *StubVisualProducer {
	return &StubVisualProducer{loaded: true}
}

func (p *StubVisualProducer) EncodeImage(ctx context.Context, path string) (*ImageEncoding, error) {
	if !p.IsLoaded() {
		return nil, ErrNotLoaded
	}
	if !IsSupportedImage(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	enc := &ImageEncoding{Vector: stubVector(data, StubVisualDimension)}

	// Pixel dimensions are best-effort; formats without a registered
	// decoder (heic) report 0x0.
	f, err := os.Open(path)
	if err == nil {
		if cfg, _, cErr := image.DecodeConfig(f); cErr == nil {
			enc.Width = cfg.Width
			enc.Height = cfg.Height
		}
		_ = f.Close()
	}

	return enc, nil
}

func (p *StubVisualProducer) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if !p.IsLoaded() {
		return nil, ErrNotLoaded
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	if len(text) > stubMaxInputBytes {
		text = text[:stubMaxInputBytes]
	}
	return stubVector([]byte(text), StubVisualDimension), nil
}

func (p *StubVisualProducer) Dimension() int { return StubVisualDimension }

func (p *StubVisualProducer) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *StubVisualProducer) Load(modelPath string) error {
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
	}
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

func (p *StubVisualProducer) Unload() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}
