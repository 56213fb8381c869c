package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/tmux"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tmux panes paneshift would use as workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := tmux.New()
		if err != nil {
			return err
		}
		ctx := context.Background()

		sessions, err := backend.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		own, _ := backend.ActiveSessionID(ctx)

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No tmux panes found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PANE\tWORKSPACE\tCWD\tTITLE\t")
		for _, s := range sessions {
			mark := ""
			if s.ID == own {
				mark = "(this pane, excluded)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Workspace, s.Cwd, s.Title, mark)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
