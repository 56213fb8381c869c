package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state and recent dispatches",
	Long: `Display the persisted scheduler state (running, paused or stopped),
the workers an operator paused, and the most recent dispatch history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()

		active, err := st.LoadActive()
		if err != nil {
			return fmt.Errorf("loading active state: %w", err)
		}
		records, err := st.History(last)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		printStatus(cmd.OutOrStdout(), active, records)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntP("last", "n", 5, "Show last N dispatches")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(out io.Writer, active state.Active, records []state.Record) {
	fmt.Fprintf(out, "Scheduler: %s\n", strings.ToUpper(string(active.SchedulerState)))
	if !active.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Updated:   %s\n", active.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if len(active.PausedWorkers) > 0 {
		ids := make([]string, len(active.PausedWorkers))
		for i, id := range active.PausedWorkers {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(out, "Paused:    workers %s\n", strings.Join(ids, ", "))
	}

	fmt.Fprintln(out)
	if len(records) == 0 {
		fmt.Fprintln(out, "No dispatch history found.")
		return
	}
	fmt.Fprintf(out, "Last %d dispatches:\n\n", len(records))
	printRecords(out, records)
}

func printRecords(out io.Writer, records []state.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tWORKER\tTASK\tCOMMAND\tRESULT")
	for _, r := range records {
		task := r.TaskID
		if r.Project != "" {
			task = r.Project + "/" + r.TaskID
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			formatWhen(r.Timestamp), r.WorkerID, task, r.Command, formatResult(r.Result))
	}
	_ = w.Flush()
}

func formatResult(result string) string {
	switch result {
	case state.ResultSuccess:
		return "SUCCESS"
	case state.ResultError:
		return "ERROR"
	case state.ResultDispatchFailed:
		return "FAILED"
	default:
		return result
	}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("01-02 15:04:05")
}
