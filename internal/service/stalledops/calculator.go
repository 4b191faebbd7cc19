// Package stalledops classifies broker job start events as completed or
// stalled. A start is stalled when no completion event lands inside its
// attributable window before the job's execution budget ran out.
package stalledops

import (
	"sort"
	"time"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

// lookback is the trailing window of operations considered per run.
const lookback = 7 * 24 * time.Hour

// Config describes one operation family to evaluate. Two fixed instances
// exist in production, built by ScanConfig and OptOutConfig at startup.
type Config struct {
	// Operation names the family in metrics output ("scan" or "optout").
	Operation string

	// IsStartEvent selects the start marker of an attempt.
	IsStartEvent func(broker.EventKind) bool

	// IsCompletionEvent selects any terminal event of an attempt.
	IsCompletionEvent func(broker.EventKind) bool

	// ExtractEvents yields the event-stream groups of one query data
	// record: the single scan history for scans, one history per opt-out
	// job for opt-outs.
	ExtractEvents func(broker.BrokerProfileQueryData) [][]broker.HistoryEvent

	// Timeout is the execution budget of one attempt. Starts younger than
	// the timeout are excluded so in-flight work is never counted stalled.
	Timeout time.Duration
}

// ScanConfig returns the scan-operation configuration.
func ScanConfig(timeout time.Duration) Config {
	return Config{
		Operation:    "scan",
		IsStartEvent: func(k broker.EventKind) bool { return k == broker.EventScanStarted },
		IsCompletionEvent: func(k broker.EventKind) bool {
			switch k {
			case broker.EventNoMatchFound, broker.EventMatchesFound, broker.EventReAppearance, broker.EventError:
				return true
			}
			return false
		},
		ExtractEvents: func(q broker.BrokerProfileQueryData) [][]broker.HistoryEvent {
			return [][]broker.HistoryEvent{q.ScanJob.HistoryEvents}
		},
		Timeout: timeout,
	}
}

// OptOutConfig returns the opt-out-operation configuration. One broker may
// run several opt-out attempts concurrently, one per matched profile, so
// each job history is evaluated as its own group.
func OptOutConfig(timeout time.Duration) Config {
	return Config{
		Operation:    "optout",
		IsStartEvent: func(k broker.EventKind) bool { return k == broker.EventOptOutStarted },
		IsCompletionEvent: func(k broker.EventKind) bool {
			switch k {
			case broker.EventOptOutRequested, broker.EventOptOutConfirmed, broker.EventMatchRemovedByUser, broker.EventError:
				return true
			}
			return false
		},
		ExtractEvents: func(q broker.BrokerProfileQueryData) [][]broker.HistoryEvent {
			groups := make([][]broker.HistoryEvent, 0, len(q.OptOutJobs))
			for _, job := range q.OptOutJobs {
				groups = append(groups, job.HistoryEvents)
			}
			return groups
		},
		Timeout: timeout,
	}
}

// Result aggregates start/stalled counts per run. The by-broker maps are
// sparse: a broker with zero occurrences has no entry.
type Result struct {
	Total           int            `json:"total"`
	Stalled         int            `json:"stalled"`
	TotalByBroker   map[string]int `json:"total_by_broker"`
	StalledByBroker map[string]int `json:"stalled_by_broker"`
}

// Calculator evaluates one operation family. It is immutable after
// construction and safe for reuse across runs.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Operation returns the configured family name.
func (c *Calculator) Operation() string {
	return c.cfg.Operation
}

// Calculate scans every query data record and counts, per event-stream
// group, start events inside [now-7d, now-timeout) that have no completion
// strictly inside their pairing window. The window of start i is
// [t_i, t_{i+1}) up to the next start; the last start's window is
// unbounded, so a completion arriving arbitrarily late still cures it,
// while superseded starts stay stalled.
func (c *Calculator) Calculate(queryData []broker.BrokerProfileQueryData, now time.Time) Result {
	res := Result{
		TotalByBroker:   make(map[string]int),
		StalledByBroker: make(map[string]int),
	}

	windowStart := now.Add(-lookback)
	windowEnd := now.Add(-c.cfg.Timeout)

	for _, q := range queryData {
		key := q.DataBroker.StatsKey()
		for _, group := range c.cfg.ExtractEvents(q) {
			total, stalled := c.evaluateGroup(group, windowStart, windowEnd)
			res.Total += total
			res.Stalled += stalled
			if total > 0 {
				res.TotalByBroker[key] += total
			}
			if stalled > 0 {
				res.StalledByBroker[key] += stalled
			}
		}
	}

	return res
}

func (c *Calculator) evaluateGroup(events []broker.HistoryEvent, windowStart, windowEnd time.Time) (total, stalled int) {
	// Histories are append-only but not guaranteed chronological.
	filtered := make([]broker.HistoryEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp.Before(windowStart) || !e.Timestamp.Before(windowEnd) {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	var startIdx []int
	for i, e := range filtered {
		if c.cfg.IsStartEvent(e.Kind) {
			startIdx = append(startIdx, i)
		}
	}

	total = len(startIdx)
	for n, si := range startIdx {
		end := len(filtered)
		var next *time.Time
		if n+1 < len(startIdx) {
			end = startIdx[n+1]
			next = &filtered[startIdx[n+1]].Timestamp
		}
		completed := false
		for _, e := range filtered[si+1 : end] {
			if !c.cfg.IsCompletionEvent(e.Kind) {
				continue
			}
			// The pairing window is half-open: strictly after this start,
			// strictly before the next one.
			if !e.Timestamp.After(filtered[si].Timestamp) {
				continue
			}
			if next != nil && !e.Timestamp.Before(*next) {
				continue
			}
			completed = true
			break
		}
		if !completed {
			stalled++
		}
	}
	return total, stalled
}
