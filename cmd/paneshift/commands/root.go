// Package commands implements the paneshift CLI commands using cobra.
package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "paneshift",
	Short: "Dispatch workflow commands to AI agent panes in tmux",
	Long: `Paneshift watches AI coding agents running in tmux panes, reads
their screens to tell when each one is idle, busy, finished or rate limited,
and hands the next workflow command for the next eligible task to whichever
pane is free.

Configure the task file and workflow in paneshift.yaml, start the agents in
tmux panes, then run paneshift from its own pane.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor || os.Getenv("NO_COLOR") != "" {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("project", "p", "", "Project directory holding paneshift.yaml (default: current directory)")
}
