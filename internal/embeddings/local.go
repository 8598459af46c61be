// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultLocalDimensions matches small sentence-transformer models
const DefaultLocalDimensions = 384

// LocalClient is a deterministic feature-hashing embedder. Each token is
// hashed into a bucket and the resulting vector is L2-normalized, so texts
// sharing words score a high cosine similarity. No network access.
type LocalClient struct {
	dimensions int
}

// NewLocalClient creates a hashing embedder with the given dimensionality
func NewLocalClient(dimensions int) *LocalClient {
	if dimensions <= 0 {
		dimensions = DefaultLocalDimensions
	}
	return &LocalClient{dimensions: dimensions}
}

// Embed hashes the tokens of text into a normalized vector
func (c *LocalClient) Embed(_ context.Context, text string) ([]float32, error) {
	return c.embedOne(text), nil
}

// EmbedBatch embeds each text independently
func (c *LocalClient) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = c.embedOne(text)
	}
	return vectors, nil
}

// GetModelInfo returns the hashing model description
func (c *LocalClient) GetModelInfo() ModelInfo {
	return ModelInfo{
		Name:       "local-fnv-hashing",
		Version:    "v1",
		Dimensions: c.dimensions,
		Provider:   "local",
	}
}

func (c *LocalClient) embedOne(text string) []float32 {
	vector := make([]float32, c.dimensions)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vector[h.Sum64()%uint64(c.dimensions)] += 1
	}
	return Normalize(vector)
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}
