// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tejzpr/companion-memory/internal/database"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// NewManager migrates and creates indexes
	dbMgr, err := database.NewManager(database.ConfigFrom(cfg.Database))
	if err != nil {
		return err
	}
	defer dbMgr.Close()

	logger.Info("database migrations completed", "type", dbMgr.Type())
	return nil
}
