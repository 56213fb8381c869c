package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"cron and interval", Config{Schedule: ScheduleConfig{Cron: "* * * * *", Interval: "10s"}}, ErrCronAndInterval},
		{"bad interval", Config{Schedule: ScheduleConfig{Interval: "soon"}}, ErrInvalidInterval},
		{"zero interval", Config{Schedule: ScheduleConfig{Interval: "0s"}}, ErrInvalidInterval},
		{"bad mode", Config{Mode: "yolo"}, ErrInvalidMode},
		{"negative workers", Config{Workers: WorkersConfig{Max: -1}}, ErrInvalidMaxWorkers},
		{"negative retries", Config{Recovery: RecoveryConfig{MaxRetries: -2}}, ErrInvalidMaxRetries},
		{"negative history", Config{History: HistoryConfig{MaxRecords: -1}}, ErrInvalidHistorySize},
		{"bad log level", Config{Logging: LoggingConfig{Level: "verbose"}}, ErrInvalidLogLevel},
		{"bad log format", Config{Logging: LoggingConfig{Format: "xml"}}, ErrInvalidLogFormat},
		{"valid", Config{Mode: "quick", Schedule: ScheduleConfig{Interval: "5s"}, Logging: LoggingConfig{Level: "debug", Format: "text"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(&tt.cfg); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_UnknownModeOverride(t *testing.T) {
	cfg := &Config{Modes: map[string]ModeOverride{"turbo": {}}}
	if err := Validate(cfg); !errors.Is(err, ErrUnknownModeName) {
		t.Errorf("Validate() = %v, want ErrUnknownModeName", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}
	for _, tc := range tests {
		if got := expandPath(tc.input); got != tc.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestLoadFromPaths_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := LoadFromPaths(tmpDir, filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if cfg.Mode != DefaultMode {
		t.Errorf("Mode = %q, want %q", cfg.Mode, DefaultMode)
	}
	if cfg.Schedule.Interval != DefaultInterval {
		t.Errorf("Schedule.Interval = %q, want %q", cfg.Schedule.Interval, DefaultInterval)
	}
	if cfg.Workers.GracePeriod != DefaultGracePeriod {
		t.Errorf("Workers.GracePeriod = %v, want %v", cfg.Workers.GracePeriod, DefaultGracePeriod)
	}
	if cfg.Workers.MinTaskDuration != DefaultMinTaskDuration {
		t.Errorf("Workers.MinTaskDuration = %v, want %v", cfg.Workers.MinTaskDuration, DefaultMinTaskDuration)
	}
	if cfg.Recovery.MaxRetries != DefaultMaxRetries {
		t.Errorf("Recovery.MaxRetries = %d, want %d", cfg.Recovery.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Recovery.ResumeText != DefaultResumeText {
		t.Errorf("Recovery.ResumeText = %q, want %q", cfg.Recovery.ResumeText, DefaultResumeText)
	}
	if cfg.CommandPrefix != DefaultCommandPrefix {
		t.Errorf("CommandPrefix = %q, want %q", cfg.CommandPrefix, DefaultCommandPrefix)
	}
	if cfg.TasksFile != filepath.Join(tmpDir, DefaultTasksFile) {
		t.Errorf("TasksFile = %q, want resolved against project dir", cfg.TasksFile)
	}
	if cfg.History.MaxRecords != DefaultMaxHistoryRecords {
		t.Errorf("History.MaxRecords = %d, want %d", cfg.History.MaxRecords, DefaultMaxHistoryRecords)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Path != DefaultAuditPath() {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
}

func TestLoadFromPaths_WithYAML(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
project: shop
mode: quick
schedule:
  cron: "*/1 * * * *"
workers:
  max: 3
  grace_period: 45s
recovery:
  max_retries: 5
modes:
  develop:
    manual: [approve]
    clear_before_dispatch: true
logging:
  level: debug
`
	if err := os.WriteFile(filepath.Join(tmpDir, ProjectConfigName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPaths(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if cfg.Project != "shop" || cfg.Mode != "quick" {
		t.Errorf("Project/Mode = %q/%q", cfg.Project, cfg.Mode)
	}
	if cfg.Schedule.Cron != "*/1 * * * *" || cfg.Schedule.Interval != "" {
		t.Errorf("Schedule = %+v, want cron only", cfg.Schedule)
	}
	if cfg.Workers.Max != 3 || cfg.Workers.GracePeriod != 45*time.Second {
		t.Errorf("Workers = %+v", cfg.Workers)
	}
	if cfg.Recovery.MaxRetries != 5 {
		t.Errorf("Recovery.MaxRetries = %d, want 5", cfg.Recovery.MaxRetries)
	}
	dev, ok := cfg.Modes["develop"]
	if !ok {
		t.Fatal("develop override missing")
	}
	if len(dev.Manual) != 1 || dev.Manual[0] != "approve" {
		t.Errorf("develop.Manual = %v", dev.Manual)
	}
	if dev.ClearBeforeDispatch == nil || !*dev.ClearBeforeDispatch {
		t.Errorf("develop.ClearBeforeDispatch = %v", dev.ClearBeforeDispatch)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadFromPaths_MergeConfigs(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(globalPath), 0755); err != nil {
		t.Fatal(err)
	}
	globalContent := `
mode: design
workers:
  max: 4
logging:
  level: info
`
	if err := os.WriteFile(globalPath, []byte(globalContent), 0644); err != nil {
		t.Fatal(err)
	}

	projectDir := filepath.Join(tmpDir, "project")
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}
	projectContent := `
workers:
  max: 2
logging:
  level: warn
`
	if err := os.WriteFile(filepath.Join(projectDir, ProjectConfigName), []byte(projectContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPaths(projectDir, globalPath)
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}
	if cfg.Workers.Max != 2 {
		t.Errorf("Workers.Max = %d, want 2 (project override)", cfg.Workers.Max)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn (project override)", cfg.Logging.Level)
	}
	if cfg.Mode != "design" {
		t.Errorf("Mode = %q, want design (from global)", cfg.Mode)
	}
}

func TestLoadFromPaths_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ProjectConfigName), []byte("mode: yolo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPaths(tmpDir, ""); err != ErrInvalidMode {
		t.Errorf("LoadFromPaths() error = %v, want ErrInvalidMode", err)
	}
}

func TestLoadFromPaths_EnvOverride(t *testing.T) {
	t.Setenv("PANESHIFT_MODE", "force")
	cfg, err := LoadFromPaths(t.TempDir(), "")
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}
	if cfg.Mode != "force" {
		t.Errorf("Mode = %q, want force from env", cfg.Mode)
	}
}

func TestTickInterval(t *testing.T) {
	cfg := &Config{Schedule: ScheduleConfig{Interval: "2s"}}
	if got := cfg.TickInterval(); got != 2*time.Second {
		t.Errorf("TickInterval() = %v, want 2s", got)
	}
	cfg.Schedule.Interval = ""
	if got := cfg.TickInterval(); got != 10*time.Second {
		t.Errorf("TickInterval() default = %v, want 10s", got)
	}
}
