package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kebairia/contentbackup/internal/operations"
)

var (
	exportDir string
	fromRule  string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [archive]",
	Short: "Export a self-contained copy of an archive",
	Long: `consolidate copies an archive to the export directory and lets every
contributor add the data the periodic archive only references, such as
asset blobs. Pass an archive filename, or --rule to pick the newest archive
of a rule.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		switch {
		case len(args) == 1 && fromRule != "":
			return errors.New("pass either an archive name or --rule, not both")
		case len(args) == 1:
			name = args[0]
		case fromRule != "":
			latest, err := operations.LatestArchive(cfg, fromRule)
			if err != nil {
				return err
			}
			name = latest
		default:
			return errors.New("an archive name or --rule is required")
		}

		op, err := operations.NewOperator(cmd.Context(), cfg,
			operations.WithLogger(log),
			operations.WithRecovery(false),
			operations.WithExportDir(exportDir),
		)
		if err != nil {
			return err
		}
		path, err := op.Consolidate(cmd.Context(), name)
		if err != nil {
			return err
		}

		size := "unknown size"
		if info, err := os.Stat(path); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", path, size)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().
		StringVarP(&exportDir, "export-dir", "o", "", "directory for the exported archive (defaults to backup.export_directory)")
	consolidateCmd.Flags().
		StringVarP(&fromRule, "rule", "r", "", "consolidate the newest archive of this rule")
}
