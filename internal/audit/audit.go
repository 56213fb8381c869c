// Package audit keeps an append-only record of operator actions: pauses,
// resumes, resets and hand-sent commands, whether they came from the
// monitor or an MCP client.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	EventSchedulerPause  EventType = "scheduler_pause"
	EventSchedulerResume EventType = "scheduler_resume"
	EventWorkerPause     EventType = "worker_pause"
	EventWorkerResume    EventType = "worker_resume"
	EventWorkerReset     EventType = "worker_reset"
	EventManualDispatch  EventType = "manual_dispatch"
)

// Results recorded on events.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Source    string    `json:"source,omitempty"` // "tui", "mcp"
	WorkerID  int       `json:"worker_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Logger appends events to a dated JSONL file.
type Logger struct {
	logDir    string
	file      *os.File
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// DefaultDir returns the default audit directory.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "paneshift", "audit")
}

// New creates a logger writing under logDir, or DefaultDir when empty.
func New(logDir string) (*Logger, error) {
	if logDir == "" {
		logDir = DefaultDir()
	}
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit log dir: %w", err)
	}

	l := &Logger{
		logDir:    logDir,
		sessionID: "sess-" + uuid.NewString(),
		now:       time.Now,
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) pathFor(t time.Time) string {
	return filepath.Join(l.logDir, fmt.Sprintf("audit-%s.jsonl", t.Format("2006-01-02")))
}

func (l *Logger) openLogFile() error {
	f, err := os.OpenFile(l.pathFor(l.now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file = f
	return nil
}

// Log writes one event, rotating to a new file when the day changed.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	event.SessionID = l.sessionID
	if event.RequestID == "" {
		event.RequestID = "req-" + uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return l.file.Sync()
}

// rotateIfNeeded must be called with mu held.
func (l *Logger) rotateIfNeeded() error {
	want := l.pathFor(l.now())
	if l.file != nil {
		if l.file.Name() == want {
			return nil
		}
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("closing old audit log: %w", err)
		}
	}
	return l.openLogFile()
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LogFiles lists the audit files in dir, newest first.
func LogFiles(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "audit-") && filepath.Ext(name) == ".jsonl" {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// ReadEvents reads the events in one file. Malformed lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// Recent returns up to n of the newest events in dir, oldest first.
func Recent(dir string, n int) ([]Event, error) {
	files, err := LogFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, f := range files {
		if n > 0 && len(out) >= n {
			break
		}
		events, err := ReadEvents(f)
		if err != nil {
			return nil, err
		}
		out = append(events, out...)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
