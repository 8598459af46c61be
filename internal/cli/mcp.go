// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tejzpr/companion-memory/internal/app"
	"github.com/tejzpr/companion-memory/internal/server"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory diagnostics tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE:  runMCP,
	})
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol; gorm must not print there
	cfg.Database.LogLevel = "silent"
	logger := newLogger(cfg)

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("MCP server ready (stdio mode)")
	return server.NewMCPServer(a.ToolContext(), logger).ServeStdio()
}
