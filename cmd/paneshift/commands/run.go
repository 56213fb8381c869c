package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/paneshift/internal/audit"
	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/scheduler"
	"github.com/marcus/paneshift/internal/tmux"
	"github.com/marcus/paneshift/internal/ui"
	"github.com/marcus/paneshift/internal/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispatch loop in the foreground",
	Long: `Run the dispatch loop in the foreground.

Paneshift discovers the agent panes in the current tmux server (excluding its
own pane), then on every tick reloads the task file, reads each pane, advances
finished tasks to their next workflow command and hands eligible tasks to idle
panes. Edits to the task or workflow file trigger an immediate tick.

Flags:
  --mode NAME   Override the configured execution mode
                (design, quick, develop, force, test).
  --tui         Show the interactive monitor instead of plain logs.
  --dry-run     Select tasks and log what would be sent without typing
                anything into the panes.

Examples:
  paneshift run
  paneshift run --mode quick --tui
  paneshift run --dry-run --verbose`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("mode", "", "Execution mode override")
	runCmd.Flags().Bool("tui", false, "Show the interactive monitor")
	runCmd.Flags().Bool("dry-run", false, "Log dispatches without sending keystrokes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	modeFlag, _ := cmd.Flags().GetString("mode")
	useTUI, _ := cmd.Flags().GetBool("tui")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if useTUI && !isInteractive() {
		return errors.New("--tui needs a terminal")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var (
		ring  *logging.Ring
		extra io.Writer
	)
	switch {
	case useTUI:
		ring = logging.NewRing(200)
		extra = ring
	case cfg.Logging.Path != "":
		extra = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	if err := initLogging(cfg, extra, useTUI); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("run")

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

	// The monitor is created after the orchestrator, so events are routed
	// through forward once it exists.
	var forward orchestrator.EventHandler
	handler := func(e orchestrator.Event) {
		if forward != nil {
			forward(e)
		}
	}

	rt, err := newRuntime(cfg, backend, st, runOptions{mode: modeFlag, dryRun: dryRun},
		orchestrator.WithEventHandler(handler))
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

	var program *tea.Program
	if useTUI {
		auditLog, err := openAudit(cfg)
		if err != nil {
			return err
		}
		if auditLog != nil {
			defer func() { _ = auditLog.Close() }()
		}
		model := ui.New(audit.Wrap(rt.orch, auditLog, "tui"))
		model.SetLogRing(ring)
		program = ui.NewProgram(model)
		forward = ui.Handler(program)
	} else {
		snap := rt.orch.Snapshot()
		fmt.Printf("paneshift %s: %d workers, %d tasks, mode %s", Version, len(snap.Workers), len(snap.Tasks), snap.Mode)
		if dryRun {
			fmt.Print(" (dry run)")
		}
		fmt.Println()
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()
	sched.RunNow()

	watcher := watch.New(func(path string) {
		log.DebugCtx("input changed", map[string]any{"path": path})
		sched.RunNow()
	}, rt.watchedFiles())
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if program != nil {
		g.Go(func() error {
			_, err := program.Run()
			stop()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			program.Quit()
			return nil
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newTickScheduler builds the scheduler from config with one job: a
// single orchestrator tick. Overlap is reported by the orchestrator and
// ignored here.
func newTickScheduler(cfg *config.Config, orch *orchestrator.Orchestrator) (*scheduler.Scheduler, error) {
	sched, err := scheduler.NewFromConfig(&cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	sched.AddJob(func(ctx context.Context) error {
		err := orch.Tick(ctx)
		if errors.Is(err, orchestrator.ErrTickInProgress) {
			return nil
		}
		return err
	})
	return sched, nil
}
