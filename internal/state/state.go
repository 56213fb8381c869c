// Package state persists the scheduler's active state and its dispatch
// history in the paneshift database.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/paneshift/internal/db"
)

// SchedulerState is the run state of the scheduler.
type SchedulerState string

const (
	StateRunning SchedulerState = "running"
	StatePaused  SchedulerState = "paused"
	StateStopped SchedulerState = "stopped"
)

// Results recorded in history.
const (
	ResultSuccess        = "success"
	ResultError          = "error"
	ResultDispatched     = "dispatched"
	ResultDispatchFailed = "dispatch-failed"
)

// Active is the persisted active-state record.
type Active struct {
	PausedWorkers  []int          `json:"paused_workers"`
	SchedulerState SchedulerState `json:"scheduler_state"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Record is one dispatch history entry.
type Record struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	Project        string    `json:"project,omitempty"`
	Command        string    `json:"command"`
	Result         string    `json:"result"`
	WorkerID       int       `json:"worker_id"`
	Timestamp      time.Time `json:"timestamp"`
	CapturedOutput string    `json:"captured_output,omitempty"`
}

// State reads and writes scheduler state. Safe for concurrent use.
type State struct {
	mu         sync.Mutex
	db         *db.DB
	maxRecords int
	now        func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithMaxRecords caps history; 0 keeps everything.
func WithMaxRecords(n int) Option {
	return func(s *State) { s.maxRecords = n }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New creates a State backed by database.
func New(database *db.DB, opts ...Option) (*State, error) {
	if database == nil || database.SQL() == nil {
		return nil, errors.New("state: db is nil")
	}
	s := &State{db: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveActive writes the active-state record.
func (s *State) SaveActive(a Active) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.PausedWorkers == nil {
		a.PausedWorkers = []int{}
	}
	paused, err := json.Marshal(a.PausedWorkers)
	if err != nil {
		return fmt.Errorf("marshaling paused workers: %w", err)
	}
	_, err = s.db.SQL().Exec(`
		INSERT INTO scheduler_state (id, state, paused_workers, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			paused_workers = excluded.paused_workers,
			updated_at = excluded.updated_at`,
		string(a.SchedulerState), string(paused), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("saving scheduler state: %w", err)
	}
	return nil
}

// LoadActive reads the active-state record. A fresh database reports a
// stopped scheduler with no paused workers.
func (s *State) LoadActive() (Active, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state, paused, updated string
	err := s.db.SQL().QueryRow(`SELECT state, paused_workers, updated_at FROM scheduler_state WHERE id = 1`).
		Scan(&state, &paused, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Active{SchedulerState: StateStopped, PausedWorkers: []int{}}, nil
	}
	if err != nil {
		return Active{}, fmt.Errorf("loading scheduler state: %w", err)
	}

	a := Active{SchedulerState: SchedulerState(state), UpdatedAt: parseTime(updated)}
	if err := json.Unmarshal([]byte(paused), &a.PausedWorkers); err != nil {
		return Active{}, fmt.Errorf("parsing paused workers: %w", err)
	}
	return a, nil
}

// AppendHistory stores r, assigning an id and timestamp when missing, and
// drops the oldest records beyond the cap.
func (s *State) AppendHistory(r Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return r, fmt.Errorf("begin history append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO dispatch_history (id, seq, task_id, project, command, result, worker_id, timestamp, captured_output)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM dispatch_history), ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Project, r.Command, r.Result, r.WorkerID, formatTime(r.Timestamp), r.CapturedOutput)
	if err != nil {
		return r, fmt.Errorf("inserting history: %w", err)
	}

	if s.maxRecords > 0 {
		_, err = tx.Exec(`
			DELETE FROM dispatch_history WHERE seq NOT IN (
				SELECT seq FROM dispatch_history ORDER BY seq DESC LIMIT ?
			)`, s.maxRecords)
		if err != nil {
			return r, fmt.Errorf("trimming history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return r, fmt.Errorf("commit history append: %w", err)
	}
	return r, nil
}

// History returns up to limit records, newest first. limit <= 0 returns all.
func (s *State) History(limit int) ([]Record, error) {
	return s.query(`SELECT id, task_id, project, command, result, worker_id, timestamp, captured_output
		FROM dispatch_history ORDER BY seq DESC LIMIT ?`, sqlLimit(limit))
}

// TaskHistory returns up to limit records for taskID, newest first.
func (s *State) TaskHistory(taskID string, limit int) ([]Record, error) {
	return s.query(`SELECT id, task_id, project, command, result, worker_id, timestamp, captured_output
		FROM dispatch_history WHERE task_id = ? ORDER BY seq DESC LIMIT ?`, taskID, sqlLimit(limit))
}

func (s *State) query(q string, args ...any) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.SQL().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Project, &r.Command, &r.Result, &r.WorkerID, &ts, &r.CapturedOutput); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		r.Timestamp = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
