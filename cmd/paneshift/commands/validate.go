package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/workflow"
)

var errValidation = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, workflow file and task file",
	Long: `Check that the configuration loads, the workflow definition is
well formed, the task file parses, and task dependencies are complete and
acyclic. Exits non-zero on the first kind of failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return validateAll(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateAll(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true
	check := func(name string, err error) {
		if err != nil {
			ok = false
			fmt.Fprintf(out, "FAIL  %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "ok    %s\n", name)
	}

	check("config", config.Validate(cfg))

	if cfg.WorkflowFile == "" {
		check("workflow (built-in)", workflow.Builtin().Validate())
	} else {
		_, err := workflow.LoadFile(cfg.WorkflowFile)
		check("workflow "+cfg.WorkflowFile, err)
	}

	list, err := tasks.NewFileSource(cfg.TasksFile).Parse(ctx)
	check("tasks "+cfg.TasksFile, err)
	if err == nil {
		check(fmt.Sprintf("dependencies (%d tasks)", len(list)), tasks.CheckDependencies(list).Err())
	}

	if !ok {
		return errValidation
	}
	return nil
}
