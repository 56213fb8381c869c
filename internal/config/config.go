// Package config handles loading and validating paneshift configuration.
// A global YAML file is merged with a project file; PANESHIFT_* environment
// variables override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values.
const (
	DefaultMode              = "develop"
	DefaultTasksFile         = "tasks.yaml"
	DefaultCommandPrefix     = "/wf:"
	DefaultInterval          = "10s"
	DefaultGracePeriod       = 20 * time.Second
	DefaultMinTaskDuration   = 30 * time.Second
	DefaultCaptureLines      = 100
	DefaultStartupGrace      = 3 * time.Second
	DefaultClearCommand      = "/clear"
	DefaultClearDelay        = 2 * time.Second
	DefaultKeyDelay          = 300 * time.Millisecond
	DefaultRecoveryWait      = 60 * time.Second
	DefaultContextWait       = 5 * time.Second
	DefaultWeeklyFallback    = time.Hour
	DefaultRoundBuffer       = 10 * time.Minute
	DefaultMaxRetries        = 3
	DefaultResumeText        = "continue"
	DefaultSettleDelay       = 3 * time.Second
	DefaultInlineWaitMax     = 10 * time.Second
	DefaultMaxHistoryRecords = 1000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultRetentionDays     = 7
	ProjectConfigName        = "paneshift.yaml"
	EnvPrefix                = "PANESHIFT"
)

// Validation errors.
var (
	ErrCronAndInterval    = errors.New("cannot set both cron and interval")
	ErrInvalidMode        = errors.New("mode must be one of design, quick, develop, force, test")
	ErrInvalidLogLevel    = errors.New("log level must be debug, info, warn, or error")
	ErrInvalidLogFormat   = errors.New("log format must be json or text")
	ErrInvalidMaxWorkers  = errors.New("workers.max must not be negative")
	ErrInvalidMaxRetries  = errors.New("recovery.max_retries must not be negative")
	ErrInvalidInterval    = errors.New("schedule.interval must be a positive duration")
	ErrInvalidHistorySize = errors.New("history.max_records must not be negative")
	ErrUnknownModeName    = errors.New("modes: unknown mode name")
)

// validModes mirrors the execution modes known to the mode package.
var validModes = map[string]bool{
	"design":  true,
	"quick":   true,
	"develop": true,
	"force":   true,
	"test":    true,
}

// Config holds all paneshift configuration.
type Config struct {
	Project       string                  `mapstructure:"project"`
	Mode          string                  `mapstructure:"mode"`
	TasksFile     string                  `mapstructure:"tasks_file"`
	WorkflowFile  string                  `mapstructure:"workflow_file"`
	CommandPrefix string                  `mapstructure:"command_prefix"`
	OwnSession    string                  `mapstructure:"own_session"`
	Schedule      ScheduleConfig          `mapstructure:"schedule"`
	Workers       WorkersConfig           `mapstructure:"workers"`
	Dispatch      DispatchConfig          `mapstructure:"dispatch"`
	Recovery      RecoveryConfig          `mapstructure:"recovery"`
	Modes         map[string]ModeOverride `mapstructure:"modes"`
	History       HistoryConfig           `mapstructure:"history"`
	DB            DBConfig                `mapstructure:"db"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// ScheduleConfig controls how often the dispatch loop ticks.
type ScheduleConfig struct {
	Cron     string        `mapstructure:"cron"`
	Interval string        `mapstructure:"interval"`
	Window   *WindowConfig `mapstructure:"window"`
}

// WindowConfig restricts ticks to a daily time window.
type WindowConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// WorkersConfig controls worker discovery and state tracking.
type WorkersConfig struct {
	Max             int           `mapstructure:"max"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	MinTaskDuration time.Duration `mapstructure:"min_task_duration"`
	CaptureLines    int           `mapstructure:"capture_lines"`
	StartupGrace    time.Duration `mapstructure:"startup_grace"`
}

// DispatchConfig controls command injection.
type DispatchConfig struct {
	ClearBeforeDispatch bool          `mapstructure:"clear_before_dispatch"`
	ClearCommand        string        `mapstructure:"clear_command"`
	ClearDelay          time.Duration `mapstructure:"clear_delay"`
	KeyDelay            time.Duration `mapstructure:"key_delay"`
	DismissKey          string        `mapstructure:"dismiss_key"`
}

// RecoveryConfig controls paused-worker recovery.
type RecoveryConfig struct {
	DefaultWait       time.Duration `mapstructure:"default_wait"`
	ContextWait       time.Duration `mapstructure:"context_wait"`
	WeeklyFallback    time.Duration `mapstructure:"weekly_fallback"`
	RoundBuffer       time.Duration `mapstructure:"round_buffer"`
	MaxRetries        int           `mapstructure:"max_retries"`
	ResumeText        string        `mapstructure:"resume_text"`
	ContextResumeText string        `mapstructure:"context_resume_text"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	InlineWaitMax     time.Duration `mapstructure:"inline_wait_max"`
}

// ModeOverride adjusts the built-in settings of one execution mode.
type ModeOverride struct {
	Manual              []string `mapstructure:"manual"`
	StopAfter           string   `mapstructure:"stop_after"`
	ClearBeforeDispatch *bool    `mapstructure:"clear_before_dispatch"`
}

// HistoryConfig bounds the dispatch history log.
type HistoryConfig struct {
	MaxRecords int `mapstructure:"max_records"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// AuditConfig controls the operator-action audit log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// GlobalConfigPath returns ~/.config/paneshift/config.yaml.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "paneshift", "config.yaml")
}

// DefaultDBPath returns the default SQLite path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "paneshift", "paneshift.db")
}

// DefaultAuditPath returns the default audit log directory.
func DefaultAuditPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "paneshift", "audit")
}

// DefaultLogPath returns the default log directory.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "paneshift", "logs")
}

// Load reads the global config and the project config in the working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return LoadFromPaths(cwd, GlobalConfigPath())
}

// LoadFromPaths merges globalPath then projectDir/paneshift.yaml over the defaults.
// Missing files are skipped.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	paths := []string{globalPath}
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ProjectConfigName))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		path = expandPath(path)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Schedule.Cron == "" && cfg.Schedule.Interval == "" {
		cfg.Schedule.Interval = DefaultInterval
	}
	cfg.TasksFile = resolvePath(projectDir, cfg.TasksFile)
	cfg.WorkflowFile = resolvePath(projectDir, cfg.WorkflowFile)
	cfg.DB.Path = expandPath(cfg.DB.Path)
	cfg.Logging.Path = expandPath(cfg.Logging.Path)
	cfg.Audit.Path = expandPath(cfg.Audit.Path)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("tasks_file", DefaultTasksFile)
	v.SetDefault("command_prefix", DefaultCommandPrefix)
	v.SetDefault("workers.max", 0)
	v.SetDefault("workers.grace_period", DefaultGracePeriod)
	v.SetDefault("workers.min_task_duration", DefaultMinTaskDuration)
	v.SetDefault("workers.capture_lines", DefaultCaptureLines)
	v.SetDefault("workers.startup_grace", DefaultStartupGrace)
	v.SetDefault("dispatch.clear_command", DefaultClearCommand)
	v.SetDefault("dispatch.clear_delay", DefaultClearDelay)
	v.SetDefault("dispatch.key_delay", DefaultKeyDelay)
	v.SetDefault("recovery.default_wait", DefaultRecoveryWait)
	v.SetDefault("recovery.context_wait", DefaultContextWait)
	v.SetDefault("recovery.weekly_fallback", DefaultWeeklyFallback)
	v.SetDefault("recovery.round_buffer", DefaultRoundBuffer)
	v.SetDefault("recovery.max_retries", DefaultMaxRetries)
	v.SetDefault("recovery.resume_text", DefaultResumeText)
	v.SetDefault("recovery.settle_delay", DefaultSettleDelay)
	v.SetDefault("recovery.inline_wait_max", DefaultInlineWaitMax)
	v.SetDefault("history.max_records", DefaultMaxHistoryRecords)
	v.SetDefault("db.path", DefaultDBPath())
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", DefaultAuditPath())
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", DefaultLogPath())
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.retention_days", DefaultRetentionDays)
}

// Default returns the configuration used when no files are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.Schedule.Interval = DefaultInterval
	return cfg
}

// Validate checks cfg for invalid values. Zero values are accepted where a
// default applies.
func Validate(cfg *Config) error {
	if cfg.Schedule.Cron != "" && cfg.Schedule.Interval != "" {
		return ErrCronAndInterval
	}
	if cfg.Schedule.Interval != "" {
		d, err := time.ParseDuration(cfg.Schedule.Interval)
		if err != nil || d <= 0 {
			return ErrInvalidInterval
		}
	}
	if cfg.Mode != "" && !validModes[cfg.Mode] {
		return ErrInvalidMode
	}
	for name := range cfg.Modes {
		if !validModes[name] {
			return fmt.Errorf("%w: %s", ErrUnknownModeName, name)
		}
	}
	if cfg.Workers.Max < 0 {
		return ErrInvalidMaxWorkers
	}
	if cfg.Recovery.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if cfg.History.MaxRecords < 0 {
		return ErrInvalidHistorySize
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// TickInterval returns the parsed schedule interval, or the default.
func (c *Config) TickInterval() time.Duration {
	if d, err := time.ParseDuration(c.Schedule.Interval); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultInterval)
	return d
}

func resolvePath(dir, path string) string {
	if path == "" {
		return ""
	}
	path = expandPath(path)
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
