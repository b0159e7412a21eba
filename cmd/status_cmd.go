package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/spf13/cobra"

	"github.com/kebairia/contentbackup/internal/operations"
)

var statusCmd = &cobra.Command{
	Use:   "status [archive]",
	Short: "Show the archives of every backup rule, or the manifest of one archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return describeArchive(cmd, args[0])
		}

		statuses, err := operations.Status(cfg)
		if err != nil {
			return err
		}

		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tINTERVAL\tKEEP\tARCHIVES\tSIZE\tLAST BACKUP\tNEXT DUE")
		for _, st := range statuses {
			keep := "all"
			if st.MaxVersions > 0 {
				keep = fmt.Sprint(st.MaxVersions)
			}
			last, next := "never", "now"
			if !st.LastBackup.IsZero() {
				last = humanize.Time(st.LastBackup)
				if st.NextDue.After(now) {
					next = "in " + durafmt.Parse(st.NextDue.Sub(now).Truncate(time.Second)).LimitFirstN(2).String()
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				st.Name,
				durafmt.Parse(st.Interval).LimitFirstN(2).String(),
				keep,
				len(st.Archives),
				humanize.Bytes(uint64(st.SizeBytes)),
				last,
				next,
			)
		}
		return w.Flush()
	},
}

func describeArchive(cmd *cobra.Command, name string) error {
	m, err := operations.Describe(cfg, name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ARCHIVE\t%s\n", m.Archive)
	fmt.Fprintf(w, "ID\t%s\n", m.ID)
	fmt.Fprintf(w, "RULE\t%s\n", m.Rule)
	fmt.Fprintf(w, "CREATED\t%s (%s)\n", m.CreatedAt.Format(time.RFC3339), humanize.Time(m.CreatedAt))
	fmt.Fprintf(w, "DURATION\t%s\n", time.Duration(m.DurationMS)*time.Millisecond)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CONTRIBUTOR\tSTATUS\tERROR")
	for _, c := range m.Contributors {
		status := "ok"
		if !c.OK {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, status, c.Error)
	}
	return w.Flush()
}
