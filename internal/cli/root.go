// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cli implements the companion commands
package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tejzpr/companion-memory/internal/app"
	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/logging"
)

var (
	configPath string
	logLevel   string
)

// RootCmd is the top-level command
var RootCmd = &cobra.Command{
	Use:          "companion",
	Short:        "Conversational companion with long-term memory",
	Long:         "Answers chat messages from a NATS queue with context drawn from per-user long-term memory, and exposes that memory to operators over MCP.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ~/.companion/configs/config.json)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}
	return config.Load()
}

func newLogger(cfg *config.Config) *log.Logger {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return logging.New(cfg.Log, nil)
}

// setup loads configuration and builds the shared components
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, newLogger(cfg))
}
