// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/config"
)

func TestVectorConversion(t *testing.T) {
	original := []float32{1.0, -2.5, 3.14159, 0}

	blob := Float32SliceToBlob(original)
	assert.Len(t, blob, 16)
	assert.Equal(t, original, BlobToFloat32Slice(blob))

	assert.Nil(t, BlobToFloat32Slice([]byte{1, 2, 3}))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}

	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestLocalClient(t *testing.T) {
	ctx := context.Background()
	client := NewLocalClient(0)
	assert.Equal(t, DefaultLocalDimensions, client.GetModelInfo().Dimensions)

	a, err := client.Embed(ctx, "Я работаю программистом")
	require.NoError(t, err)
	b, err := client.Embed(ctx, "я РАБОТАЮ программистом!")
	require.NoError(t, err)
	c, err := client.Embed(ctx, "погода сегодня солнечная")
	require.NoError(t, err)

	assert.Len(t, a, DefaultLocalDimensions)
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-6, "case and punctuation are ignored")
	assert.Less(t, CosineSimilarity(a, c), 0.5)

	batch, err := client.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	empty, err := client.Embed(ctx, "   ")
	require.NoError(t, err)
	assert.Len(t, empty, DefaultLocalDimensions)
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	mock := &MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			if text == "fail" {
				return nil, errors.New("boom")
			}
			return []float32{1, 2, 3}, nil
		},
	}

	vec, err := mock.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, err = mock.EmbedBatch(ctx, []string{"ok", "fail"})
	assert.Error(t, err)
	assert.Equal(t, 2, mock.CallCount)
	assert.Equal(t, "mock-model", mock.GetModelInfo().Name)
}

func TestOpenAIClient_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])
		assert.EqualValues(t, 2, body["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
				{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "text-embedding-3-small", 2)
	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])

	info := client.GetModelInfo()
	assert.Equal(t, "openai", info.Provider)
	assert.Equal(t, 2, info.Dimensions)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad input", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "k", "m", 0)
	_, err := client.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding request failed")
}

func TestNewFromConfig(t *testing.T) {
	client, err := NewFromConfig(config.EmbeddingConfig{Provider: "local", Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, client.GetModelInfo().Dimensions)

	t.Setenv("TEST_EMBED_KEY", "")
	_, err = NewFromConfig(config.EmbeddingConfig{Provider: "openai", APIKeyEnv: "TEST_EMBED_KEY"})
	assert.Error(t, err)

	t.Setenv("TEST_EMBED_KEY", "secret")
	client, err = NewFromConfig(config.EmbeddingConfig{Provider: "openai", APIKeyEnv: "TEST_EMBED_KEY", Model: "m", Dimensions: 8})
	require.NoError(t, err)
	assert.Equal(t, "m", client.GetModelInfo().Name)

	_, err = NewFromConfig(config.EmbeddingConfig{Provider: "cohere"})
	assert.Error(t, err)
}
