package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kebairia/contentbackup/internal/operations"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write one archive per rule now and apply retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := operations.NewOperator(cmd.Context(), cfg,
			operations.WithLogger(log),
			operations.WithRecovery(false),
		)
		if err != nil {
			return err
		}
		return op.BackupAll(cmd.Context())
	},
}
