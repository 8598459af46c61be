// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tejzpr/companion-memory/internal/embeddings"
)

// MemoryEmbedding is one vector row of the relational fallback backend.
// It deliberately has no foreign key to memories: the index is a
// secondary store and may lag or miss rows.
type MemoryEmbedding struct {
	MemoryID   uint              `gorm:"primaryKey;autoIncrement:false" json:"memory_id"`
	Collection string            `gorm:"size:128;not null;index" json:"collection"`
	UserID     int64             `gorm:"not null;index" json:"user_id"`
	MemoryType string            `gorm:"size:32;not null" json:"memory_type"`
	Importance string            `gorm:"size:16;not null" json:"importance"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	Dimensions int               `gorm:"not null" json:"dimensions"`
	Vector     []byte            `gorm:"not null" json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TableName specifies the table name for MemoryEmbedding
func (MemoryEmbedding) TableName() string {
	return "memory_embeddings"
}

// GormBackend stores vectors as little-endian blobs in the relational
// database and ranks them by brute-force cosine distance. It needs no
// extension and works on both SQLite and PostgreSQL.
type GormBackend struct {
	db         *gorm.DB
	collection string
	ready      atomic.Bool
}

// NewGormBackend creates a backend over db
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

// Name identifies the backend
func (b *GormBackend) Name() string { return "gorm" }

// Init migrates the embeddings table
func (b *GormBackend) Init(ctx context.Context, collection string, _ int) error {
	if err := b.db.WithContext(ctx).AutoMigrate(&MemoryEmbedding{}); err != nil {
		return fmt.Errorf("failed to migrate memory_embeddings: %w", err)
	}
	sql := "CREATE INDEX IF NOT EXISTS idx_memory_embeddings_user_type ON memory_embeddings (collection, user_id, memory_type)"
	if err := b.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}
	b.collection = collection
	b.ready.Store(true)
	return nil
}

// Upsert inserts or replaces the vector for p.ID
func (b *GormBackend) Upsert(ctx context.Context, p Point) error {
	if !b.ready.Load() {
		return ErrNotInitialized
	}
	row := MemoryEmbedding{
		MemoryID:   p.ID,
		Collection: b.collection,
		UserID:     p.UserID,
		MemoryType: p.MemoryType,
		Importance: p.Importance,
		Content:    p.Content,
		Metadata:   datatypes.JSONMap(p.Metadata),
		Dimensions: len(p.Vector),
		Vector:     embeddings.Float32SliceToBlob(p.Vector),
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Search loads the user's candidate rows and ranks them in memory
func (b *GormBackend) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if !b.ready.Load() {
		return nil, ErrNotInitialized
	}

	query := b.db.WithContext(ctx).
		Where("collection = ? AND user_id = ?", b.collection, filter.UserID)
	if len(filter.Types) > 0 {
		query = query.Where("memory_type IN ?", filter.Types)
	}
	if len(filter.Importance) > 0 {
		query = query.Where("importance IN ?", filter.Importance)
	}

	var rows []MemoryEmbedding
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		stored := embeddings.BlobToFloat32Slice(row.Vector)
		if len(stored) != len(vector) {
			continue
		}
		hits = append(hits, Hit{
			ID:       row.MemoryID,
			Content:  row.Content,
			Metadata: normalizeMetadata(row.Metadata),
			Distance: embeddings.CosineDistance(vector, stored),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SetContent replaces the document text and vector
func (b *GormBackend) SetContent(ctx context.Context, id uint, content string, vector []float32) error {
	if !b.ready.Load() {
		return ErrNotInitialized
	}
	res := b.db.WithContext(ctx).Model(&MemoryEmbedding{}).
		Where("memory_id = ?", id).
		Updates(map[string]interface{}{
			"content":    content,
			"vector":     embeddings.Float32SliceToBlob(vector),
			"dimensions": len(vector),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("embedding %d not found", id)
	}
	return nil
}

// SetMetadata merges meta into the stored payload and keeps the filter
// columns in sync with it
func (b *GormBackend) SetMetadata(ctx context.Context, id uint, meta Metadata) error {
	if !b.ready.Load() {
		return ErrNotInitialized
	}
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row MemoryEmbedding
		if err := tx.First(&row, "memory_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("embedding %d not found", id)
			}
			return err
		}
		if row.Metadata == nil {
			row.Metadata = datatypes.JSONMap{}
		}
		for k, v := range meta {
			row.Metadata[k] = v
		}
		if v := meta.String(KeyMemoryType); v != "" {
			row.MemoryType = v
		}
		if v := meta.String(KeyImportance); v != "" {
			row.Importance = v
		}
		return tx.Save(&row).Error
	})
}

// Delete removes the vector for id. Missing rows are not an error.
func (b *GormBackend) Delete(ctx context.Context, id uint) error {
	if !b.ready.Load() {
		return ErrNotInitialized
	}
	return b.db.WithContext(ctx).Delete(&MemoryEmbedding{}, "memory_id = ?", id).Error
}

// Count returns the number of vectors in the collection
func (b *GormBackend) Count(ctx context.Context) (int64, error) {
	if !b.ready.Load() {
		return 0, ErrNotInitialized
	}
	var count int64
	err := b.db.WithContext(ctx).Model(&MemoryEmbedding{}).
		Where("collection = ?", b.collection).
		Count(&count).Error
	return count, err
}

// MissingIDs returns ids from candidates that have no stored vector
func (b *GormBackend) MissingIDs(ctx context.Context, candidates []uint) ([]uint, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var present []uint
	if err := b.db.WithContext(ctx).Model(&MemoryEmbedding{}).
		Where("memory_id IN ?", candidates).
		Pluck("memory_id", &present).Error; err != nil {
		return nil, err
	}
	return subtract(candidates, present), nil
}

// Close is a no-op; the connection pool is owned by the caller
func (b *GormBackend) Close() error { return nil }

func subtract(all, present []uint) []uint {
	seen := make(map[uint]struct{}, len(present))
	for _, id := range present {
		seen[id] = struct{}{}
	}
	var missing []uint
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
