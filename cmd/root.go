package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/contributor"
	"github.com/kebairia/contentbackup/internal/logger"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string

	cfg config.Config
	log logger.Logger = logger.Nop()

	// rootCmd is the base command for cbk.
	rootCmd = &cobra.Command{
		Use:   "cbk",
		Short: "Scheduled content backups with retention",
		Long: `cbk snapshots application content into timestamped zip archives
according to the backup rules in your YAML configuration, prunes old
archives and restores them on startup.

Contributor kinds: ` + strings.Join(contributor.Kinds(), ", ") + `.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Config{}
			if err := cfg.Load(ConfigFile); err != nil {
				return err
			}
			l, err := logger.Init(logger.Options{
				Level:       cfg.Logging.Level,
				Development: cfg.Logging.Development,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			log = l
			return nil
		},
	}
)

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Error("command failed", "error", err.Error())
	}
	logger.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(statusCmd)
}
