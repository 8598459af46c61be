// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vectorindex

import (
	"fmt"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/tejzpr/companion-memory/internal/config"
)

// NewBackend builds the backend selected by cfg.Backend. db is used by the
// relational backends and may be nil for qdrant.
func NewBackend(cfg config.VectorConfig, db *gorm.DB, logger *log.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.VectorBackendGorm, "":
		if db == nil {
			return nil, fmt.Errorf("gorm vector backend requires a database")
		}
		return NewGormBackend(db), nil
	case config.VectorBackendPgvector:
		if db == nil {
			return nil, fmt.Errorf("pgvector backend requires a database")
		}
		return NewPgvectorBackend(db, logger), nil
	case config.VectorBackendQdrant:
		return NewQdrantBackend(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}
