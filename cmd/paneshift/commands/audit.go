package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show operator actions",
	Long: `Show the operator actions recorded from the monitor and MCP clients:
scheduler and worker pauses, resumes, resets and hand-sent commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("last")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		events, err := audit.Recent(cfg.Audit.Path, n)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No operator actions recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSOURCE\tACTION\tWORKER\tTASK\tRESULT")
		for _, e := range events {
			worker := "-"
			if e.WorkerID != 0 {
				worker = fmt.Sprint(e.WorkerID)
			}
			task := e.TaskID
			if e.Command != "" {
				task += " " + e.Command
			}
			result := e.Result
			if e.Error != "" {
				result += ": " + e.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				formatWhen(e.Timestamp), e.Source, e.EventType, worker, task, result)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().IntP("last", "n", 20, "Show last N actions")
	rootCmd.AddCommand(auditCmd)
}
