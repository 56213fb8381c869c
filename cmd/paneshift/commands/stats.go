package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dispatch statistics",
	Long: `Summarize the dispatch history: how many commands were sent, how
many steps finished or failed, how long steps took, and per-worker counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()

		result, err := stats.New(st, limit).Compute()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printStats(out, result)
		return nil
	},
}

func init() {
	statsCmd.Flags().IntP("limit", "n", 0, "Only the newest N history records (0 for all)")
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}

func printStats(out io.Writer, r *stats.Result) {
	if r.TotalRecords == 0 {
		fmt.Fprintln(out, "No dispatch history found.")
		return
	}

	fmt.Fprintf(out, "Dispatch Statistics\n")
	fmt.Fprintf(out, "===================\n\n")
	fmt.Fprintf(out, "Period:     %s .. %s\n", formatWhen(*r.FirstAt), formatWhen(*r.LastAt))
	fmt.Fprintf(out, "Dispatched: %d (%d failed to send)\n", r.Dispatched, r.DispatchFailed)
	fmt.Fprintf(out, "Finished:   %d success, %d error (%.0f%% success)\n", r.Succeeded, r.Failed, r.SuccessRate)
	fmt.Fprintf(out, "Tasks:      %d\n", r.TasksTouched)
	if r.Steps > 0 {
		fmt.Fprintf(out, "Steps:      %d, avg %s\n", r.Steps, r.AvgStepDuration)
	}
	if r.LongestStep != nil {
		fmt.Fprintf(out, "Longest:    %s %s on worker %d (%s)\n",
			r.LongestStep.TaskID, r.LongestStep.Command, r.LongestStep.WorkerID, r.LongestStep.Duration)
	}

	if len(r.Commands) > 0 {
		cmds := make([]string, 0, len(r.Commands))
		for c := range r.Commands {
			cmds = append(cmds, c)
		}
		sort.Strings(cmds)
		fmt.Fprintf(out, "\nCommands sent:\n")
		for _, c := range cmds {
			fmt.Fprintf(out, "  - %s: %d\n", c, r.Commands[c])
		}
	}

	if len(r.Workers) > 0 {
		fmt.Fprintf(out, "\nWorkers:\n")
		for _, w := range r.Workers {
			fmt.Fprintf(out, "  - %d: %d sent, %d success, %d error\n", w.ID, w.Dispatched, w.Succeeded, w.Failed)
		}
	}
}
