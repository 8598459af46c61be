// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PgvectorBackend stores vectors in PostgreSQL using the pgvector
// extension and its <=> cosine distance operator.
type PgvectorBackend struct {
	db         *gorm.DB
	collection string
	logger     *log.Logger
}

// NewPgvectorBackend creates a backend over a PostgreSQL connection
func NewPgvectorBackend(db *gorm.DB, logger *log.Logger) *PgvectorBackend {
	if logger == nil {
		logger = log.Default()
	}
	return &PgvectorBackend{db: db, logger: logger.With("component", "pgvector")}
}

// Name identifies the backend
func (b *PgvectorBackend) Name() string { return "pgvector" }

// Init enables the extension and creates the table and HNSW index
func (b *PgvectorBackend) Init(ctx context.Context, collection string, dimensions int) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_vectors (
			memory_id   BIGINT PRIMARY KEY,
			collection  TEXT NOT NULL,
			user_id     BIGINT NOT NULL,
			memory_type TEXT NOT NULL,
			importance  TEXT NOT NULL,
			content     TEXT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding   vector(%d) NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimensions),
		"CREATE INDEX IF NOT EXISTS idx_memory_vectors_user ON memory_vectors (collection, user_id, memory_type)",
		"CREATE INDEX IF NOT EXISTS idx_memory_vectors_hnsw ON memory_vectors USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range statements {
		if err := b.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("pgvector init: %w", err)
		}
	}
	b.collection = collection
	return nil
}

// Upsert inserts or replaces the vector for p.ID
func (b *PgvectorBackend) Upsert(ctx context.Context, p Point) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b.db.WithContext(ctx).Exec(`
		INSERT INTO memory_vectors (memory_id, collection, user_id, memory_type, importance, content, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?::jsonb, ?::vector, now())
		ON CONFLICT (memory_id)
		DO UPDATE SET collection = EXCLUDED.collection, user_id = EXCLUDED.user_id,
			memory_type = EXCLUDED.memory_type, importance = EXCLUDED.importance,
			content = EXCLUDED.content, metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding, updated_at = now()`,
		p.ID, b.collection, p.UserID, p.MemoryType, p.Importance, p.Content, string(meta), pgvec.NewVector(p.Vector),
	).Error
}

// Search orders the user's vectors by cosine distance
func (b *PgvectorBackend) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if b.collection == "" {
		return nil, ErrNotInitialized
	}
	vec := pgvec.NewVector(vector)

	query := b.db.WithContext(ctx).Table("memory_vectors").
		Select("memory_id, content, metadata, embedding <=> ?::vector AS distance", vec).
		Where("collection = ? AND user_id = ?", b.collection, filter.UserID)
	if len(filter.Types) > 0 {
		query = query.Where("memory_type IN ?", filter.Types)
	}
	if len(filter.Importance) > 0 {
		query = query.Where("importance IN ?", filter.Importance)
	}

	rows, err := query.Order(gorm.Expr("embedding <=> ?::vector", vec)).Limit(limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h       Hit
			id      int64
			rawMeta []byte
		)
		if err := rows.Scan(&id, &h.Content, &rawMeta, &h.Distance); err != nil {
			b.logger.Error("scan failed", "error", err)
			continue
		}
		h.ID = uint(id)
		meta, err := decodeMetadata(rawMeta)
		if err != nil {
			b.logger.Warn("undecodable metadata", "memory_id", id, "error", err)
		}
		h.Metadata = meta
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SetContent replaces the document text and vector
func (b *PgvectorBackend) SetContent(ctx context.Context, id uint, content string, vector []float32) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	res := b.db.WithContext(ctx).Exec(
		"UPDATE memory_vectors SET content = ?, embedding = ?::vector, updated_at = now() WHERE memory_id = ?",
		content, pgvec.NewVector(vector), id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("embedding %d not found", id)
	}
	return nil
}

// SetMetadata merges meta into the JSONB payload and the filter columns
func (b *PgvectorBackend) SetMetadata(ctx context.Context, id uint, meta Metadata) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	res := b.db.WithContext(ctx).Exec(`
		UPDATE memory_vectors SET
			metadata = metadata || ?::jsonb,
			memory_type = COALESCE(NULLIF(?, ''), memory_type),
			importance = COALESCE(NULLIF(?, ''), importance),
			updated_at = now()
		WHERE memory_id = ?`,
		string(raw), meta.String(KeyMemoryType), meta.String(KeyImportance), id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("embedding %d not found", id)
	}
	return nil
}

// Delete removes the vector for id
func (b *PgvectorBackend) Delete(ctx context.Context, id uint) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	return b.db.WithContext(ctx).Exec("DELETE FROM memory_vectors WHERE memory_id = ?", id).Error
}

// Count returns the number of vectors in the collection
func (b *PgvectorBackend) Count(ctx context.Context) (int64, error) {
	if b.collection == "" {
		return 0, ErrNotInitialized
	}
	var count int64
	err := b.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM memory_vectors WHERE collection = ?", b.collection).Scan(&count).Error
	return count, err
}

// MissingIDs reports candidates without a stored vector
func (b *PgvectorBackend) MissingIDs(ctx context.Context, candidates []uint) ([]uint, error) {
	if b.collection == "" {
		return nil, ErrNotInitialized
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	var present []uint
	if err := b.db.WithContext(ctx).Raw("SELECT memory_id FROM memory_vectors WHERE memory_id IN ?", candidates).
		Scan(&present).Error; err != nil {
		return nil, err
	}
	return subtract(candidates, present), nil
}

// Close is a no-op; the connection pool is owned by the caller
func (b *PgvectorBackend) Close() error { return nil }
