package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/filescope/filescope/internal/store"
)

const (
	remoteMaxBatch      = 100
	remoteMaxInputBytes = 32768
)

// RemoteTextProducer calls an OpenAI-style embeddings endpoint over HTTP.
// It is the production TextProducer; the model itself runs elsewhere.
type RemoteTextProducer struct {
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache

	mu     sync.Mutex
	loaded bool
}

// NewRemoteTextProducer configures a remote producer. dimension must match
// what the remote model emits; cache may be nil.
func NewRemoteTextProducer(endpoint, apiKey, model string, dimension int, cache *Cache) (*RemoteTextProducer, error) {
	if endpoint == "" || model == "" {
		return nil, fmt.Errorf("%w: endpoint and model required", ErrModelLoad)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrModelLoad)
	}
	return &RemoteTextProducer{
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  cache,
		loaded: true,
	}, nil
}

func (p *RemoteTextProducer) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if p.cache != nil {
		if vec, ok := p.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vecs, err := p.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *RemoteTextProducer) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.IsLoaded() {
		return nil, ErrNotLoaded
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrEmptyText)
	}
	if len(texts) > remoteMaxBatch {
		return nil, fmt.Errorf("%w: max %d texts per batch", ErrProviderFailed, remoteMaxBatch)
	}

	clipped := make([]string, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
		if len(text) > remoteMaxInputBytes {
			text = text[:remoteMaxInputBytes]
		}
		clipped[i] = text
	}

	vecs, err := retryWithBackoff(ctx, func() ([][]float32, error) {
		return p.callAPI(ctx, clipped)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, maxRetries, err)
	}

	if p.cache != nil {
		for i, vec := range vecs {
			p.cache.Set(ComputeHash(clipped[i]), vec)
		}
	}

	return vecs, nil
}

func (p *RemoteTextProducer) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(apiResp.Data), len(texts))
	}

	vecs := make([][]float32, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if len(data.Embedding) != p.dimension {
			return nil, fmt.Errorf("got dimension %d, want %d", len(data.Embedding), p.dimension)
		}
		vecs[i] = normalizeCopy(data.Embedding)
	}
	return vecs, nil
}

func (p *RemoteTextProducer) Dimension() int     { return p.dimension }
func (p *RemoteTextProducer) MaxInputBytes() int { return remoteMaxInputBytes }

func (p *RemoteTextProducer) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Load marks the producer ready. The model lives on the remote side, so
// there is no file to check.
func (p *RemoteTextProducer) Load(modelPath string) error {
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

func (p *RemoteTextProducer) Unload() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	p.httpClient.CloseIdleConnections()
}

// normalizeCopy returns a unit-norm copy so the provider's own scaling
// never leaks into the store.
func normalizeCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return store.NormalizeVector(out)
}
