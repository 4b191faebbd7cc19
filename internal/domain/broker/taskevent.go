package broker

import "time"

// TaskEventKind marks a background-task session lifecycle transition.
type TaskEventKind int

const (
	TaskStarted TaskEventKind = iota
	TaskCompleted
	TaskTerminated
	TaskExpired
)

func (k TaskEventKind) String() string {
	switch k {
	case TaskStarted:
		return "started"
	case TaskCompleted:
		return "completed"
	case TaskTerminated:
		return "terminated"
	case TaskExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// BackgroundTaskEvent records one lifecycle transition of a background
// processing session on a mobile client. DurationSeconds is reported by the
// client on end markers and is untrusted; consumers must validate it.
type BackgroundTaskEvent struct {
	SessionID       string        `json:"session_id"`
	Kind            TaskEventKind `json:"kind"`
	Timestamp       time.Time     `json:"timestamp"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
}
