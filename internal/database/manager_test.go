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
	"gorm.io/gorm/logger"
)

func TestManager_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "companion.db")

	mgr, err := NewManager(&Config{
		Type:       "sqlite",
		SQLitePath: dbPath,
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	defer mgr.Close()

	assert.NotNil(t, mgr.DB())
	assert.Equal(t, "sqlite", mgr.Type())

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)

	assert.NoError(t, Ping(mgr.DB()))
	assert.True(t, mgr.DB().Migrator().HasTable("memories"))
	assert.True(t, mgr.DB().Migrator().HasIndex("memories", "idx_memories_user_created"))
}

func TestManager_ConnectFailure(t *testing.T) {
	_, err := NewManager(&Config{Type: "oracle", LogLevel: logger.Silent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}
