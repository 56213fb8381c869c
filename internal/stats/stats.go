// Package stats computes aggregate statistics from the dispatch history.
package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/paneshift/internal/state"
)

// Duration wraps time.Duration for clean JSON serialization as seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes Duration as integer seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(d.Seconds()))
}

// UnmarshalJSON deserializes Duration from integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// String returns a human-readable duration string.
func (d Duration) String() string {
	dur := d.Duration
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// Result holds all computed statistics, JSON-serializable.
type Result struct {
	TotalRecords int        `json:"total_records"`
	FirstAt      *time.Time `json:"first_at,omitempty"`
	LastAt       *time.Time `json:"last_at,omitempty"`

	Dispatched     int     `json:"dispatched"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	DispatchFailed int     `json:"dispatch_failed"`
	SuccessRate    float64 `json:"success_rate"`

	// Steps pairs each dispatch with the completion that followed it.
	Steps           int      `json:"steps"`
	TotalStepTime   Duration `json:"total_step_time"`
	AvgStepDuration Duration `json:"avg_step_duration"`
	LongestStep     *Step    `json:"longest_step,omitempty"`

	TasksTouched int            `json:"tasks_touched"`
	Commands     map[string]int `json:"commands,omitempty"`
	Workers      []WorkerStats  `json:"workers,omitempty"`
}

// Step is one dispatched command and how long it ran.
type Step struct {
	TaskID   string   `json:"task_id"`
	Command  string   `json:"command"`
	WorkerID int      `json:"worker_id"`
	Duration Duration `json:"duration"`
	Result   string   `json:"result"`
}

// WorkerStats summarizes one worker's activity.
type WorkerStats struct {
	ID         int `json:"id"`
	Dispatched int `json:"dispatched"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

// Source reads dispatch history.
type Source interface {
	History(limit int) ([]state.Record, error)
}

// Stats computes statistics over a history source.
type Stats struct {
	source Source
	limit  int
}

// New creates a Stats over source. limit bounds the records read; 0 reads all.
func New(source Source, limit int) *Stats {
	return &Stats{source: source, limit: limit}
}

// Compute reads the history and aggregates it.
func (s *Stats) Compute() (*Result, error) {
	records, err := s.source.History(s.limit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return Compute(records), nil
}

// Compute aggregates records, which may be in any order.
func Compute(records []state.Record) *Result {
	result := &Result{
		TotalRecords: len(records),
		Commands:     make(map[string]int),
	}
	if len(records) == 0 {
		return result
	}

	sorted := append([]state.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	first, last := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	result.FirstAt, result.LastAt = &first, &last

	workers := make(map[int]*WorkerStats)
	touched := make(map[string]struct{})
	// open holds the pending dispatch per worker.
	open := make(map[int]state.Record)

	for _, r := range sorted {
		ws, ok := workers[r.WorkerID]
		if !ok {
			ws = &WorkerStats{ID: r.WorkerID}
			workers[r.WorkerID] = ws
		}
		touched[taskKey(r)] = struct{}{}

		switch r.Result {
		case state.ResultDispatched:
			result.Dispatched++
			result.Commands[r.Command]++
			ws.Dispatched++
			open[r.WorkerID] = r
		case state.ResultSuccess, state.ResultError:
			if r.Result == state.ResultSuccess {
				result.Succeeded++
				ws.Succeeded++
			} else {
				result.Failed++
				ws.Failed++
			}
			if d, ok := open[r.WorkerID]; ok && d.TaskID == r.TaskID {
				result.addStep(d, r)
				delete(open, r.WorkerID)
			}
		case state.ResultDispatchFailed:
			result.DispatchFailed++
		}
	}

	result.TasksTouched = len(touched)
	if result.Steps > 0 {
		result.AvgStepDuration = Duration{result.TotalStepTime.Duration / time.Duration(result.Steps)}
	}
	if done := result.Succeeded + result.Failed; done > 0 {
		result.SuccessRate = float64(result.Succeeded) / float64(done) * 100
	}

	for _, ws := range workers {
		result.Workers = append(result.Workers, *ws)
	}
	sort.Slice(result.Workers, func(i, j int) bool {
		return result.Workers[i].ID < result.Workers[j].ID
	})
	return result
}

func (r *Result) addStep(dispatch, done state.Record) {
	d := done.Timestamp.Sub(dispatch.Timestamp)
	if d < 0 {
		return
	}
	r.Steps++
	r.TotalStepTime.Duration += d
	if r.LongestStep == nil || d > r.LongestStep.Duration.Duration {
		r.LongestStep = &Step{
			TaskID:   dispatch.TaskID,
			Command:  dispatch.Command,
			WorkerID: dispatch.WorkerID,
			Duration: Duration{d},
			Result:   done.Result,
		}
	}
}

func taskKey(r state.Record) string {
	if r.Project == "" {
		return r.TaskID
	}
	return r.Project + "/" + r.TaskID
}
