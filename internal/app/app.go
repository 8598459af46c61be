// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package app wires the configured components together
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/database"
	"github.com/tejzpr/companion-memory/internal/embeddings"
	"github.com/tejzpr/companion-memory/internal/memory"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/persona"
	"github.com/tejzpr/companion-memory/internal/prompt"
	"github.com/tejzpr/companion-memory/internal/tools"
	"github.com/tejzpr/companion-memory/internal/vectorindex"
)

// App holds the process-wide components shared by every command
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	DB      *database.Manager
	Metrics *metrics.Metrics
	Index   *vectorindex.Index
	Store   *memory.Store
}

// New connects and migrates the database and builds the vector index and
// memory store. The index is initialized eagerly; a failure there is
// logged and retried on first use.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dbMgr, err := database.NewManager(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "type", dbMgr.Type())

	embedder, err := embeddings.NewFromConfig(cfg.Embeddings)
	if err != nil {
		_ = dbMgr.Close()
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	backend, err := vectorindex.NewBackend(cfg.Vector, dbMgr.DB(), logger)
	if err != nil {
		_ = dbMgr.Close()
		return nil, fmt.Errorf("failed to create vector backend: %w", err)
	}

	index := vectorindex.New(backend, embedder, vectorindex.Options{
		Collection:          cfg.Vector.Collection,
		SimilarityThreshold: cfg.Vector.SimilarityThreshold,
		SearchLimit:         cfg.Vector.SearchLimit,
		Logger:              logger,
		OnEmbedFailure:      m.EmbeddingFailed,
	})
	if err := index.Initialize(ctx); err != nil {
		logger.Warn("vector index not ready, will retry on first use", "error", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      dbMgr,
		Metrics: m,
		Index:   index,
		Store:   memory.NewStore(dbMgr.DB(), index, m, logger),
	}, nil
}

// Personas loads the persona catalog, or returns persona.None when no
// catalog is configured
func (a *App) Personas() (persona.Provider, error) {
	if a.Config.Personas.File == "" {
		return persona.None, nil
	}
	p, err := persona.LoadFile(a.Config.Personas.File)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("persona catalog loaded", "file", a.Config.Personas.File, "personas", len(p.Names()))
	return p, nil
}

// PromptBuilder builds prompts from this app's store
func (a *App) PromptBuilder() *prompt.Builder {
	return prompt.NewBuilder(a.Store, prompt.OptionsFrom(a.Config.Prompt), a.Metrics, a.Logger)
}

// ToolContext exposes the store and index to the MCP tools
func (a *App) ToolContext() *tools.ToolContext {
	return tools.NewToolContext(a.Store, a.Index, a.Logger)
}

// Close releases the index backend and the database
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close vector index: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
