package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, dim int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i, text := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(len(text)) // any deterministic non-zero value
			vec[1] = 1
			resp.Data = append(resp.Data, item{Embedding: vec, Index: i})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRemoteEncodeBatch(t *testing.T) {
	srv, _ := embeddingServer(t, 4)
	p, err := NewRemoteTextProducer(srv.URL, "key", "test-model", 4, nil)
	require.NoError(t, err)

	vecs, err := p.EncodeBatch(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, vec := range vecs {
		assert.Len(t, vec, 4)
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-3, "responses are renormalized")
	}
}

func TestRemoteEncodeTextUsesCache(t *testing.T) {
	srv, calls := embeddingServer(t, 4)
	p, err := NewRemoteTextProducer(srv.URL, "", "test-model", 4, NewCache(16))
	require.NoError(t, err)

	ctx := context.Background()
	a, err := p.EncodeText(ctx, "cached input")
	require.NoError(t, err)
	b, err := p.EncodeText(ctx, "cached input")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), calls.Load(), "second encode must hit the cache")
}

func TestRemoteDimensionMismatch(t *testing.T) {
	srv, _ := embeddingServer(t, 4)
	p, err := NewRemoteTextProducer(srv.URL, "", "test-model", 8, nil)
	require.NoError(t, err)

	_, err = p.EncodeBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestRemoteRejectsEmptyInputs(t *testing.T) {
	p, err := NewRemoteTextProducer("http://unused", "", "m", 4, nil)
	require.NoError(t, err)

	_, err = p.EncodeText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = p.EncodeBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = p.EncodeBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestRemoteConstructorValidation(t *testing.T) {
	_, err := NewRemoteTextProducer("", "", "m", 4, nil)
	assert.ErrorIs(t, err, ErrModelLoad)

	_, err = NewRemoteTextProducer("http://x", "", "", 4, nil)
	assert.ErrorIs(t, err, ErrModelLoad)

	_, err = NewRemoteTextProducer("http://x", "", "m", 0, nil)
	assert.ErrorIs(t, err, ErrModelLoad)
}
