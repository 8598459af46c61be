// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tejzpr/companion-memory/pkg/scheduler"
)

var reindexBatchSize int

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed memories that are missing from the vector index",
		Args:  cobra.NoArgs,
		RunE:  runReindex,
	}
	cmd.Flags().IntVar(&reindexBatchSize, "batch-size", 0, "Rows checked per batch (default: reindex.batch_size)")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	batch := a.Config.Reindex.BatchSize
	if reindexBatchSize > 0 {
		batch = reindexBatchSize
	}

	repaired := scheduler.NewScheduler(a.Store, 0, batch, a.Logger).RunOnce(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "re-embedded %d memories\n", repaired)
	return nil
}
