package cmd

import (
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		scheduleRef string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}

			scheduleID := ""
			if scheduleRef != "" {
				s, err := st.GetSchedule(scheduleRef)
				if err != nil {
					return err
				}
				scheduleID = s.ID
			}

			entries, err := st.History(scheduleID, limit)
			if err != nil {
				return err
			}
			return opts.newDisplay(cmd).History(entries)
		},
	}
	cmd.Flags().StringVarP(&scheduleRef, "schedule", "s", "", "only runs of this schedule (name or id)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs, 0 for all")
	return cmd
}
