package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/contentbackup/internal/operations"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Restore existing archives, then back up on schedule until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		op, err := operations.NewOperator(ctx, cfg, operations.WithLogger(log))
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return op.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			// A second signal now terminates the process right away.
			stop()
			if ctx.Err() != nil {
				log.Info("shutdown requested, writing final backups",
					"timeout", cfg.Backup.ShutdownTimeout.String(),
				)
			}
			return nil
		})
		return g.Wait()
	},
}
