// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"

	"gorm.io/gorm"
)

// Manager owns the process-wide connection pool. Components receive the
// *gorm.DB from it and open their own scoped transactions per operation.
type Manager struct {
	db     *gorm.DB
	config *Config
}

// NewManager connects, migrates and indexes the database
func NewManager(cfg *Config) (*Manager, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := CreateIndexes(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Manager{db: db, config: cfg}, nil
}

// DB returns the shared connection pool
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Type returns the configured database type
func (m *Manager) Type() string {
	return m.config.Type
}

// Close releases the connection pool
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return Close(m.db)
}
