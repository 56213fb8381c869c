package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/state"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show dispatch history",
	Long: `Show recorded dispatches and completions, newest first.

Use --task to show one task's trail, and --output to include the screen
text captured when a step finished.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		taskID, _ := cmd.Flags().GetString("task")
		showOutput, _ := cmd.Flags().GetBool("output")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()

		var records []state.Record
		if taskID != "" {
			records, err = st.TaskHistory(taskID, limit)
		} else {
			records, err = st.History(limit)
		}
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No dispatch history found.")
			return nil
		}
		printRecords(out, records)

		if showOutput {
			for _, r := range records {
				if r.CapturedOutput == "" {
					continue
				}
				fmt.Fprintf(out, "\n--- %s %s (%s) ---\n%s\n", r.TaskID, r.Command, r.Result, r.CapturedOutput)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
	historyCmd.Flags().StringP("task", "t", "", "Only records for this task id")
	historyCmd.Flags().Bool("output", false, "Print captured screen output")
	rootCmd.AddCommand(historyCmd)
}
