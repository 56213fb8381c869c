package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create configuration file",
	Long: `Initialize a new paneshift configuration file.

By default, creates paneshift.yaml in the project directory (--project, or
the current directory). Use --global to create a global config at
~/.config/paneshift/config.yaml. Use --tasks to also write a sample task file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("global", false, "Create global config instead of project config")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing config without prompting")
	initCmd.Flags().Bool("tasks", false, "Also write a sample tasks.yaml if none exists")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	global, _ := cmd.Flags().GetBool("global")
	force, _ := cmd.Flags().GetBool("force")
	withTasks, _ := cmd.Flags().GetBool("tasks")
	projectPath, _ := cmd.Flags().GetString("project")

	dir := projectPath
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}

	configPath := filepath.Join(dir, config.ProjectConfigName)
	if global {
		configPath = config.GlobalConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !force && !isInteractive() {
		return fmt.Errorf("%s exists; use --force to overwrite", configPath)
	}

	out := cmd.OutOrStdout()
	written, err := writeConfig(configPath, generateDefaultConfig(global), force, cmd.InOrStdin(), out)
	if err != nil || !written {
		return err
	}

	if withTasks && !global {
		tasksPath := filepath.Join(dir, config.DefaultTasksFile)
		if _, err := os.Stat(tasksPath); err == nil {
			fmt.Fprintf(out, "%sTask file exists, left alone:%s %s\n", colorYellow, colorReset, tasksPath)
		} else if err := os.WriteFile(tasksPath, []byte(sampleTasks), 0644); err != nil {
			return fmt.Errorf("write tasks: %w", err)
		} else {
			fmt.Fprintf(out, "%sCreated sample task file:%s %s\n", colorGreen, colorReset, tasksPath)
		}
	}

	fmt.Fprintf(out, "\n%sNext steps:%s\n", colorCyan, colorReset)
	fmt.Fprintln(out, "  1. Start your agents in tmux panes")
	fmt.Fprintln(out, "  2. Run 'paneshift validate' to check the config and task file")
	fmt.Fprintln(out, "  3. Run 'paneshift next' to preview what would be dispatched")
	fmt.Fprintln(out, "  4. Run 'paneshift run --tui' from its own pane")
	fmt.Fprintln(out)
	return nil
}

// writeConfig writes content to path, asking before overwriting unless
// force is set. It reports whether the file was written.
func writeConfig(path, content string, force bool, in io.Reader, out io.Writer) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "%sConfig already exists:%s %s\n", colorYellow, colorReset, path)
		fmt.Fprint(out, "Overwrite? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(out, "\n%s%sCreated config:%s %s\n", colorBold, colorGreen, colorReset, path)
	return true, nil
}

// generateDefaultConfig creates the default config YAML with helpful comments.
func generateDefaultConfig(global bool) string {
	if global {
		return globalConfig
	}
	return projectConfig
}

const globalConfig = `# Paneshift Global Configuration
# Location: ~/.config/paneshift/config.yaml
#
# Defaults shared by every project. A project's paneshift.yaml overrides them.

# How often to look at the panes. Choose either cron OR interval.
schedule:
  interval: 10s
  # cron: "*/1 * * * *"
  # window:                      # Optional: only dispatch between these times
  #   start: "09:00"
  #   end: "18:00"
  #   timezone: "Local"

workers:
  max: 0                         # 0 uses every pane except paneshift's own
  grace_period: 20s              # ignore idle prompts this long after a dispatch
  min_task_duration: 30s         # ignore DONE markers older than this
  capture_lines: 100
  startup_grace: 3s

dispatch:
  clear_before_dispatch: false
  clear_command: /clear
  clear_delay: 2s
  key_delay: 300ms
  # dismiss_key: Escape          # sent after Enter to close autocomplete popups

recovery:
  default_wait: 60s              # rate limits without a reset time
  context_wait: 5s
  weekly_fallback: 1h            # usage limits whose reset time can't be read
  round_buffer: 10m              # added to a parsed reset time
  max_retries: 3
  resume_text: continue
  settle_delay: 3s
  inline_wait_max: 10s

history:
  max_records: 1000

audit:
  enabled: true                  # record pauses, resets and hand-sent commands
  path: ~/.local/share/paneshift/audit

logging:
  level: info                    # debug | info | warn | error
  path: ~/.local/share/paneshift/logs
  format: json                   # json | text
  retention_days: 7
`

const projectConfig = `# Paneshift Project Configuration
#
# Values here override ~/.config/paneshift/config.yaml.

project: ""                      # prefix for task references, e.g. "shop" -> shop/T1
mode: develop                    # design | quick | develop | force | test
tasks_file: tasks.yaml
# workflow_file: workflow.yaml   # omit to use the built-in workflow
command_prefix: "/wf:"

schedule:
  interval: 10s

# Per-mode overrides of the built-in settings.
# modes:
#   quick:
#     manual: [approve, done]    # commands never sent automatically
#   develop:
#     clear_before_dispatch: true
`

const sampleTasks = `project: ""
tasks:
  - id: T1
    title: First task
    category: development       # development | development-full | defect | infrastructure | simple-dev
    status: todo
    priority: high              # critical | high | medium | low
  - id: T2
    title: Depends on the first
    status: todo
    depends: [T1]
`
