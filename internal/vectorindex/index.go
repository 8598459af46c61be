// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package vectorindex keeps one embedding per memory record and answers
// per-user cosine nearest-neighbor queries over them.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/companion-memory/internal/embeddings"
)

// ErrNotInitialized is returned by backends used before Init
var ErrNotInitialized = errors.New("vector index not initialized")

// DefaultSimilarityThreshold is the similarity floor applied to search results
const DefaultSimilarityThreshold = 0.7

// Metadata keys every point carries
const (
	KeyUserID     = "user_id"
	KeyMemoryType = "memory_type"
	KeyImportance = "importance"
	KeyTags       = "tags"
)

// Metadata is the flat key/value payload stored next to a vector.
// Values are strings, numbers or booleans; nil is never stored.
type Metadata map[string]interface{}

// String returns the string value for key, or "" when absent
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Entry describes one memory to embed
type Entry struct {
	ID         uint
	UserID     int64
	Content    string
	MemoryType string
	Importance string
	Tags       []string
	Extra      map[string]interface{}
}

// SearchQuery restricts a nearest-neighbor query to one user
type SearchQuery struct {
	UserID     int64
	Query      string
	Types      []string
	Importance []string
	Limit      int
}

// Result is a search hit that passed the similarity floor
type Result struct {
	ID         uint
	Content    string
	Metadata   Metadata
	Similarity float64
	Distance   float64
}

// Stats is diagnostic information about the collection
type Stats struct {
	Count          int64  `json:"count"`
	CollectionName string `json:"collection_name"`
	ModelName      string `json:"model_name"`
	Backend        string `json:"backend"`
}

// Point is what a backend persists
type Point struct {
	ID         uint
	UserID     int64
	MemoryType string
	Importance string
	Content    string
	Vector     []float32
	Metadata   Metadata
}

// Filter narrows a backend search. UserID is always applied.
type Filter struct {
	UserID     int64
	Types      []string
	Importance []string
}

// Hit is a raw backend result ordered by ascending cosine distance
type Hit struct {
	ID       uint
	Content  string
	Metadata Metadata
	Distance float64
}

// Backend is a vector store holding one logical collection
type Backend interface {
	Name() string
	// Init creates the collection if missing. Must be safe to repeat.
	Init(ctx context.Context, collection string, dimensions int) error
	Upsert(ctx context.Context, p Point) error
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error)
	SetContent(ctx context.Context, id uint, content string, vector []float32) error
	// SetMetadata merges meta into the stored payload
	SetMetadata(ctx context.Context, id uint, meta Metadata) error
	Delete(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)
	// MissingIDs returns the candidates that have no stored vector
	MissingIDs(ctx context.Context, candidates []uint) ([]uint, error)
	Close() error
}

// Options configures an Index
type Options struct {
	Collection string
	// SimilarityThreshold is the minimum 1 - cosine distance a hit needs.
	// Zero selects DefaultSimilarityThreshold.
	SimilarityThreshold float64
	SearchLimit         int
	Logger              *log.Logger
	// OnEmbedFailure is invoked when an embedding could not be stored
	OnEmbedFailure func()
}

// Index is the process-wide semantic index. Safe for concurrent use;
// writes are serialized only as far as the backend serializes them.
type Index struct {
	backend  Backend
	embedder embeddings.Client
	opts     Options
	logger   *log.Logger
	mu       sync.Mutex
	ready    bool
}

// New creates an index over backend using embedder for vectors
func New(backend Backend, embedder embeddings.Client, opts Options) *Index {
	if opts.Collection == "" {
		opts.Collection = "user_memories"
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Index{
		backend:  backend,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "vectorindex", "backend", backend.Name()),
	}
}

// Initialize prepares the backend collection. Repeated calls after a
// success are no-ops; a failed call can be retried.
func (i *Index) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.ready {
		return nil
	}

	dims := i.embedder.GetModelInfo().Dimensions
	if err := i.backend.Init(ctx, i.opts.Collection, dims); err != nil {
		return fmt.Errorf("failed to initialize %s collection %s: %w", i.backend.Name(), i.opts.Collection, err)
	}

	i.ready = true
	i.logger.Info("vector index initialized", "collection", i.opts.Collection, "model", i.embedder.GetModelInfo().Name, "dimensions", dims)
	return nil
}

// Threshold returns the configured similarity floor
func (i *Index) Threshold() float64 {
	return i.opts.SimilarityThreshold
}

// AddEmbedding embeds and stores e. It reports false instead of failing so
// callers can treat the index as best-effort.
func (i *Index) AddEmbedding(ctx context.Context, e Entry) bool {
	if err := i.Initialize(ctx); err != nil {
		i.fail("initialize failed", "memory_id", e.ID, "error", err)
		return false
	}

	vector, err := i.embedder.Embed(ctx, e.Content)
	if err != nil {
		i.fail("embedding failed", "memory_id", e.ID, "error", err)
		return false
	}

	meta := CleanMetadata(e.Extra)
	meta[KeyUserID] = e.UserID
	meta[KeyMemoryType] = e.MemoryType
	meta[KeyImportance] = e.Importance
	meta[KeyTags] = strings.Join(e.Tags, ",")

	err = i.backend.Upsert(ctx, Point{
		ID:         e.ID,
		UserID:     e.UserID,
		MemoryType: e.MemoryType,
		Importance: e.Importance,
		Content:    e.Content,
		Vector:     vector,
		Metadata:   meta,
	})
	if err != nil {
		i.fail("upsert failed", "memory_id", e.ID, "error", err)
		return false
	}

	i.logger.Debug("embedding stored", "memory_id", e.ID, "user_id", e.UserID)
	return true
}

// Search embeds q.Query and returns hits for q.UserID whose similarity is
// at least the configured threshold, best first, capped at q.Limit.
func (i *Index) Search(ctx context.Context, q SearchQuery) ([]Result, error) {
	if err := i.Initialize(ctx); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = i.opts.SearchLimit
	}

	vector, err := i.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := i.backend.Search(ctx, vector, Filter{
		UserID:     q.UserID,
		Types:      q.Types,
		Importance: q.Importance,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		similarity := 1 - h.Distance
		if similarity < i.opts.SimilarityThreshold {
			continue
		}
		results = append(results, Result{
			ID:         h.ID,
			Content:    h.Content,
			Metadata:   h.Metadata,
			Similarity: similarity,
			Distance:   h.Distance,
		})
		if len(results) == limit {
			break
		}
	}

	i.logger.Debug("semantic search", "user_id", q.UserID, "hits", len(hits), "kept", len(results))
	return results, nil
}

// Delete removes the embedding for id
func (i *Index) Delete(ctx context.Context, id uint) bool {
	if err := i.Initialize(ctx); err != nil {
		i.logger.Error("initialize failed", "error", err)
		return false
	}
	if err := i.backend.Delete(ctx, id); err != nil {
		i.logger.Error("delete failed", "memory_id", id, "error", err)
		return false
	}
	return true
}

// Update re-embeds when content is given and merges meta when non-empty.
// A metadata-only update never calls the embedder.
func (i *Index) Update(ctx context.Context, id uint, content *string, meta Metadata) bool {
	if err := i.Initialize(ctx); err != nil {
		i.logger.Error("initialize failed", "error", err)
		return false
	}

	if content != nil {
		vector, err := i.embedder.Embed(ctx, *content)
		if err != nil {
			i.fail("embedding failed", "memory_id", id, "error", err)
			return false
		}
		if err := i.backend.SetContent(ctx, id, *content, vector); err != nil {
			i.logger.Error("content update failed", "memory_id", id, "error", err)
			return false
		}
	}

	if cleaned := CleanMetadata(meta); len(cleaned) > 0 {
		if err := i.backend.SetMetadata(ctx, id, cleaned); err != nil {
			i.logger.Error("metadata update failed", "memory_id", id, "error", err)
			return false
		}
	}

	return true
}

// Stats reports the collection size and naming
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	if err := i.Initialize(ctx); err != nil {
		return Stats{}, err
	}
	count, err := i.backend.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return Stats{
		Count:          count,
		CollectionName: i.opts.Collection,
		ModelName:      i.embedder.GetModelInfo().Name,
		Backend:        i.backend.Name(),
	}, nil
}

// MissingIDs reports which memory ids have no embedding projection
func (i *Index) MissingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if err := i.Initialize(ctx); err != nil {
		return nil, err
	}
	return i.backend.MissingIDs(ctx, ids)
}

// Close releases the backend
func (i *Index) Close() error {
	return i.backend.Close()
}

func (i *Index) fail(msg string, keyvals ...interface{}) {
	i.logger.Warn(msg, keyvals...)
	if i.opts.OnEmbedFailure != nil {
		i.opts.OnEmbedFailure()
	}
}

// CleanMetadata copies m without nil values. Non-nil pointers are
// dereferenced and slices of strings are comma-joined, since vector stores
// only accept scalar payload values.
func CleanMetadata(m map[string]interface{}) Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case []string:
			out[k] = strings.Join(val, ",")
			continue
		case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
			out[k] = val
			continue
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339)
			continue
		case *time.Time:
			if val != nil {
				out[k] = val.UTC().Format(time.RFC3339)
			}
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				continue
			}
			out[k] = rv.Elem().Interface()
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// decodeMetadata parses a JSON payload read back from a relational backend
func decodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&m); err != nil {
		return nil, err
	}
	return normalizeMetadata(m), nil
}

// normalizeMetadata turns json.Number values into int64 or float64 so every
// backend hands back the same scalar types
func normalizeMetadata(m map[string]interface{}) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil {
			out[k] = i
		} else if f, err := n.Float64(); err == nil {
			out[k] = f
		} else {
			out[k] = n.String()
		}
	}
	return out
}
