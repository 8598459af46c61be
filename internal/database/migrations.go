// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// AllModels returns all relational models in dependency order
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Memory{},
		&Emotion{},
		&Relationship{},
	}
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	// Drop in reverse order to avoid foreign key constraints
	models := AllModels()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}

// CreateIndexes creates composite indexes for the hot read paths
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
		name    string
	}{
		{
			table:   "memories",
			columns: []string{"user_id", "created_at"},
			name:    "idx_memories_user_created",
		},
		{
			table:   "memories",
			columns: []string{"user_id", "importance_rank"},
			name:    "idx_memories_user_importance",
		},
		{
			table:   "memories",
			columns: []string{"user_id", "memory_type"},
			name:    "idx_memories_user_type",
		},
		{
			table:   "emotions",
			columns: []string{"user_id", "recorded_at"},
			name:    "idx_emotions_user_recorded",
		},
		{
			table:   "relationships",
			columns: []string{"user_id", "importance_rank", "updated_at"},
			name:    "idx_relationships_user_importance",
		},
	}

	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		// Composite indexes via raw SQL; struct tags cannot express column order across fields cleanly
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.name,
			idx.table,
			strings.Join(idx.columns, ", "))

		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}
