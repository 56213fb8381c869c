package orchestrator

import (
	"time"

	"github.com/marcus/paneshift/internal/detect"
)

// EventType classifies orchestrator events.
type EventType int

const (
	EventTick           EventType = iota // a tick finished
	EventWorkerState                     // a worker changed state
	EventDispatch                        // a command was delivered to a worker
	EventDispatchFailed                  // a hand-off was rolled back
	EventTaskComplete                    // a worker reported completion
	EventTaskReleased                    // a task's assignment was cleared
	EventWorkerResumed                   // recovery brought a worker back
	EventWorkerError                     // recovery gave up
	EventLog                             // internal log message
)

func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventWorkerState:
		return "worker-state"
	case EventDispatch:
		return "dispatch"
	case EventDispatchFailed:
		return "dispatch-failed"
	case EventTaskComplete:
		return "task-complete"
	case EventTaskReleased:
		return "task-released"
	case EventWorkerResumed:
		return "worker-resumed"
	case EventWorkerError:
		return "worker-error"
	default:
		return "log"
	}
}

// Event carries data about an orchestrator event.
type Event struct {
	Type      EventType
	Time      time.Time
	WorkerID  int
	TaskID    string
	TaskTitle string
	Command   string
	From      detect.State   // for EventWorkerState
	To        detect.State   // for EventWorkerState
	Message   string         // human-readable message
	Level     string         // "info", "warn", "error"
	Fields    map[string]any // structured fields
	Duration  time.Duration  // for EventTick: elapsed time
	Error     string         // error message if applicable
}

// EventHandler is a callback that receives orchestrator events.
type EventHandler func(Event)
