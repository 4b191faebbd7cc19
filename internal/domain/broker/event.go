package broker

import "time"

// EventKind identifies what happened to a broker job. The set is closed;
// switches over it are expected to be exhaustive.
type EventKind int

const (
	EventScanStarted EventKind = iota
	EventMatchesFound
	EventNoMatchFound
	EventReAppearance
	EventError
	EventOptOutStarted
	EventOptOutRequested
	EventOptOutConfirmed
	EventMatchRemovedByUser
)

func (k EventKind) String() string {
	switch k {
	case EventScanStarted:
		return "scan_started"
	case EventMatchesFound:
		return "matches_found"
	case EventNoMatchFound:
		return "no_match_found"
	case EventReAppearance:
		return "reappearance"
	case EventError:
		return "error"
	case EventOptOutStarted:
		return "optout_started"
	case EventOptOutRequested:
		return "optout_requested"
	case EventOptOutConfirmed:
		return "optout_confirmed"
	case EventMatchRemovedByUser:
		return "match_removed_by_user"
	default:
		return "unknown"
	}
}

// HistoryEvent is an immutable record of something that happened to a
// broker job. Histories are append-only; insertion order is usually
// chronological but not guaranteed, so windowed analysis must sort first.
type HistoryEvent struct {
	BrokerID       int64     `json:"broker_id"`
	ProfileQueryID int64     `json:"profile_query_id"`
	Kind           EventKind `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`

	// MatchesFound carries the match count payload; it is meaningful only
	// when Kind is EventMatchesFound.
	MatchesFound int `json:"matches_found,omitempty"`
}

// IsScanCompletion reports whether the event terminates a scan attempt.
func (e HistoryEvent) IsScanCompletion() bool {
	switch e.Kind {
	case EventNoMatchFound, EventMatchesFound, EventReAppearance, EventError:
		return true
	default:
		return false
	}
}

// IsOptOutCompletion reports whether the event terminates an opt-out attempt.
func (e HistoryEvent) IsOptOutCompletion() bool {
	switch e.Kind {
	case EventOptOutRequested, EventOptOutConfirmed, EventMatchRemovedByUser, EventError:
		return true
	default:
		return false
	}
}
