package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/contentbackup/internal/operations"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load every archive in the backup directory, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := operations.NewOperator(cmd.Context(), cfg,
			operations.WithLogger(log),
			operations.WithRecovery(false),
		)
		if err != nil {
			return err
		}
		n, err := op.RestoreAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d archive(s) from %s\n", n, cfg.Backup.Directory)
		return nil
	},
}
