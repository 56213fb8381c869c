package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/paneshift/internal/audit"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/mcpserver"
	"github.com/marcus/paneshift/internal/tmux"
	"github.com/marcus/paneshift/internal/watch"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the dispatch loop with MCP operator tools on stdio",
	Long: `Run the dispatch loop and serve Model Context Protocol tools on
stdin/stdout, so an MCP client can inspect workers and tasks, pause or resume
the scheduler or single workers, and send commands by hand.

Logs go to the log directory only; stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().String("mode", "", "Execution mode override")
	mcpCmd.Flags().Bool("dry-run", false, "Log dispatches without sending keystrokes")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	modeFlag, _ := cmd.Flags().GetString("mode")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cfg, nil, true); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	database, st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	backend, err := tmux.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfg, backend, st, runOptions{mode: modeFlag, dryRun: dryRun})
	if err != nil {
		return err
	}
	if err := rt.orch.Init(ctx, cfg.OwnSession, cfg.Workers.Max); err != nil {
		return err
	}
	defer rt.orch.Shutdown()

	sched, err := newTickScheduler(cfg, rt.orch)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()
	sched.RunNow()

	watcher := watch.New(func(string) { sched.RunNow() }, rt.watchedFiles())
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	auditLog, err := openAudit(cfg)
	if err != nil {
		return err
	}
	if auditLog != nil {
		defer func() { _ = auditLog.Close() }()
	}

	srv := mcpserver.NewServer(audit.Wrap(rt.orch, auditLog, "mcp"), st)
	g.Go(func() error {
		err := mcpserver.Serve(gctx, srv)
		// The client closing stdin ends the session.
		stop()
		return err
	})

	err = g.Wait()
	logging.Component("mcp").Info("shutting down")
	if err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
