package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/audit"
	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/db"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/policy"
	"github.com/marcus/paneshift/internal/recovery"
	"github.com/marcus/paneshift/internal/state"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/tmux"
	"github.com/marcus/paneshift/internal/worker"
	"github.com/marcus/paneshift/internal/workflow"
)

// loadConfig loads configuration for the --project directory, or the
// working directory when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	projectPath, _ := cmd.Flags().GetString("project")

	var (
		cfg *config.Config
		err error
	)
	if projectPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFromPaths(projectPath, config.GlobalConfigPath())
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// initLogging initializes the logging subsystem. extra receives a copy of
// every line; quiet keeps logs off stderr when no log directory is set.
func initLogging(cfg *config.Config, extra io.Writer, quiet bool) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
		Extra:         extra,
		Quiet:         quiet,
	})
}

// openState opens the database and the state store over it.
func openState(cfg *config.Config) (*db.DB, *state.State, error) {
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening db: %w", err)
	}
	st, err := state.New(database, state.WithMaxRecords(cfg.History.MaxRecords))
	if err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("loading state: %w", err)
	}
	return database, st, nil
}

// openAudit opens the operator audit log, or returns nil when disabled.
func openAudit(cfg *config.Config) (*audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	l, err := audit.New(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return l, nil
}

// runtime is the assembled scheduler.
type runtime struct {
	cfg     *config.Config
	backend tmux.Backend
	source  *tasks.FileSource
	engine  *workflow.Engine
	filter  *policy.Filter
	orch    *orchestrator.Orchestrator
}

// runOptions are the command-line overrides applied on top of config.
type runOptions struct {
	mode   string
	dryRun bool
}

// newRuntime wires the detector, pool, workflow engine, recovery engine
// and task source into an orchestrator.
func newRuntime(cfg *config.Config, backend tmux.Backend, store orchestrator.Store, ro runOptions, opts ...orchestrator.Option) (*runtime, error) {
	if ro.mode != "" {
		cfg.Mode = ro.mode
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

	oc, err := orchestrator.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	oc.DryRun = ro.dryRun

	detector := detect.New(detect.WithStartupGrace(cfg.Workers.StartupGrace))
	pool := worker.NewPool(backend, detector, cfg.Workers)
	rec := recovery.New(backend, detector, cfg.Recovery, recovery.WithCaptureLines(cfg.Workers.CaptureLines))
	filter := policy.New(engine)
	source := tasks.NewFileSource(cfg.TasksFile)

	all := []orchestrator.Option{
		orchestrator.WithConfig(oc),
		orchestrator.WithSource(source),
		orchestrator.WithEngine(engine),
		orchestrator.WithPool(pool),
		orchestrator.WithBackend(backend),
		orchestrator.WithRecovery(rec),
		orchestrator.WithFilter(filter),
	}
	if store != nil {
		all = append(all, orchestrator.WithStore(store))
	}
	orch, err := orchestrator.New(append(all, opts...)...)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		backend: backend,
		source:  source,
		engine:  engine,
		filter:  filter,
		orch:    orch,
	}, nil
}

// watchedFiles lists the files whose changes should trigger a tick.
func (r *runtime) watchedFiles() []string {
	files := []string{r.source.Path()}
	if p := r.engine.Config().Path(); p != "" {
		files = append(files, p)
	}
	return files
}
