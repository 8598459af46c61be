// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/companion-memory/internal/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := &Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	}

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(db))
	return db
}

func TestConnect_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cfg := &Config{
		Type:         "sqlite",
		SQLitePath:   dbPath,
		MaxOpenConns: 4,
		LogLevel:     logger.Silent,
	}

	db, err := Connect(cfg)
	require.NoError(t, err)
	require.NotNil(t, db)

	err = Ping(db)
	assert.NoError(t, err)

	mode, err := GetJournalMode(db)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	err = Close(db)
	assert.NoError(t, err)
}

func TestConnect_InvalidType(t *testing.T) {
	cfg := &Config{
		Type:     "mysql",
		LogLevel: logger.Silent,
	}

	db, err := Connect(cfg)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestEnsureSQLiteDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "another", "test.db")

	err := ensureSQLiteDir(dbPath)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DatabaseConfig{
		Type:         "postgres",
		PostgresDSN:  "postgresql://localhost/db",
		MaxOpenConns: 7,
		LogLevel:     "warn",
	})

	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, "postgresql://localhost/db", cfg.PostgresDSN)
	assert.Equal(t, 7, cfg.MaxOpenConns)
	assert.Equal(t, logger.Warn, cfg.LogLevel)
	assert.Equal(t, logger.Silent, ParseLogLevel("bogus"))
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"users", "memories", "emotions", "relationships"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s should exist", table)
	}
}

func TestCreateIndexes(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, CreateIndexes(db))
	// Second run must be a no-op
	require.NoError(t, CreateIndexes(db))

	assert.True(t, db.Migrator().HasIndex("memories", "idx_memories_user_importance"))
	assert.True(t, db.Migrator().HasIndex("emotions", "idx_emotions_user_recorded"))
}

func TestUserDelete_Cascades(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Create(&User{ID: 7}).Error)
	require.NoError(t, db.Create(&Memory{UserID: 7, Content: "likes tea", MemoryType: "preference", Importance: "medium", ImportanceRank: 1}).Error)
	require.NoError(t, db.Create(&Emotion{UserID: 7, Emotion: "happy", Intensity: 0.7}).Error)
	require.NoError(t, db.Create(&Relationship{UserID: 7, PersonName: "Anna", RelationshipType: "friend", Importance: "high", ImportanceRank: 2}).Error)

	require.NoError(t, db.Delete(&User{ID: 7}).Error)

	for _, model := range []interface{}{&Memory{}, &Emotion{}, &Relationship{}} {
		var count int64
		require.NoError(t, db.Model(model).Where("user_id = ?", 7).Count(&count).Error)
		assert.Zero(t, count)
	}
}

func TestMemory_TagsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Create(&User{ID: 1}).Error)
	mem := Memory{UserID: 1, Content: "c", MemoryType: "fact", Importance: "medium", ImportanceRank: 1, Tags: []string{"work", "family"}}
	require.NoError(t, db.Create(&mem).Error)

	var loaded Memory
	require.NoError(t, db.First(&loaded, mem.ID).Error)
	assert.Equal(t, []string{"work", "family"}, []string(loaded.Tags))
}

func TestDropAllTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, DropAllTables(db))

	for _, table := range []string{"users", "memories", "emotions", "relationships"} {
		assert.False(t, db.Migrator().HasTable(table), "table %s should be dropped", table)
	}
}
