package weeklyreport

import (
	"sort"
	"time"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

// orphanAge is how old an unfinished session must be before it counts as
// orphaned rather than in flight.
const orphanAge = time.Hour

// maxValidDuration excludes absurd client-reported durations from the
// distribution. Invalid durations are dropped, not zeroed.
const maxValidDuration = 24 * time.Hour

// ComputeSessionStats classifies background-task sessions and summarizes
// their duration distribution. A session with a started marker and no end
// marker counts as orphaned once it is older than an hour; otherwise it is
// classified by whichever end marker is present.
func ComputeSessionStats(events []broker.BackgroundTaskEvent, now time.Time) SessionStats {
	type session struct {
		started    *broker.BackgroundTaskEvent
		completed  *broker.BackgroundTaskEvent
		terminated *broker.BackgroundTaskEvent
	}

	sessions := make(map[string]*session)
	for i := range events {
		e := events[i]
		s, ok := sessions[e.SessionID]
		if !ok {
			s = &session{}
			sessions[e.SessionID] = s
		}
		switch e.Kind {
		case broker.TaskStarted:
			if s.started == nil || e.Timestamp.Before(s.started.Timestamp) {
				s.started = &events[i]
			}
		case broker.TaskCompleted:
			s.completed = &events[i]
		case broker.TaskTerminated, broker.TaskExpired:
			s.terminated = &events[i]
		}
	}

	var stats SessionStats
	var durations []float64
	for _, s := range sessions {
		var end *broker.BackgroundTaskEvent
		switch {
		case s.completed != nil:
			stats.Completed++
			end = s.completed
		case s.terminated != nil:
			stats.Terminated++
			end = s.terminated
		case s.started != nil && now.Sub(s.started.Timestamp) > orphanAge:
			stats.Orphaned++
		}
		if end != nil && end.DurationSeconds != nil {
			d := *end.DurationSeconds
			if d >= 0 && d < maxValidDuration.Seconds() {
				durations = append(durations, d)
			}
		}
	}

	if len(durations) > 0 {
		sort.Float64s(durations)
		stats.MinDuration = durations[0]
		stats.MaxDuration = durations[len(durations)-1]
	}
	stats.MedianDuration = MedianDuration(durations)
	return stats
}

// MedianDuration returns the median of the given durations, 0 for an empty
// set. The input may arrive unsorted.
func MedianDuration(durations []float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
