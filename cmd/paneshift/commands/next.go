package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/policy"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/workflow"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show eligible tasks and the command each would receive",
	Long: `List the tasks the scheduler would dispatch now, in dispatch order,
with the command each would be sent. Nothing is sent and tmux is not needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		plan, err := planNext(cmd.Context(), cfg, modeFlag)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), cfg, plan)
		return nil
	},
}

func init() {
	nextCmd.Flags().String("mode", "", "Execution mode override")
	rootCmd.AddCommand(nextCmd)
}

// nextPlan is what one tick would consider.
type nextPlan struct {
	Mode       mode.Mode
	Total      int
	Candidates []policy.Candidate
	Deps       tasks.DependencyReport
}

func planNext(ctx context.Context, cfg *config.Config, modeName string) (*nextPlan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if modeName != "" {
		cfg.Mode = modeName
	}
	m, err := mode.Parse(cfg.Mode)
	if err != nil {
		return nil, err
	}
	modes, err := mode.NewTable(cfg.Modes)
	if err != nil {
		return nil, fmt.Errorf("mode settings: %w", err)
	}
	wf, err := workflow.NewConfig(cfg.WorkflowFile)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}
	engine := workflow.NewEngine(wf, modes)

	list, err := tasks.NewFileSource(cfg.TasksFile).Parse(ctx)
	if err != nil {
		return nil, err
	}
	return &nextPlan{
		Mode:       m,
		Total:      len(list),
		Candidates: policy.New(engine).Candidates(list, m),
		Deps:       tasks.CheckDependencies(list),
	}, nil
}

func printPlan(out io.Writer, cfg *config.Config, plan *nextPlan) {
	fmt.Fprintf(out, "Mode %s: %d of %d tasks eligible\n", plan.Mode, len(plan.Candidates), plan.Total)
	if err := plan.Deps.Err(); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}
	if len(plan.Candidates) == 0 {
		return
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tTASK\tSTATUS\tCOMMAND\tTITLE")
	for _, c := range plan.Candidates {
		ref := c.Task.Ref()
		if c.Task.Project == "" && cfg.Project != "" {
			ref = cfg.Project + "/" + c.Task.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Task.Priority, ref, c.Task.Status, cfg.CommandPrefix+c.Command, c.Task.Title)
	}
	_ = w.Flush()
}
