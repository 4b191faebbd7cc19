package weeklyreport

import (
	"context"
	"time"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

// Pixel kinds fired by the weekly report. One pixel per metric group, plus
// one per emitted orphaned-opt-out metric.
const (
	PixelWeeklyStats       = "dbp.stats.weekly"
	PixelStalledOperations = "dbp.stats.stalled"
	PixelBackgroundTasks   = "dbp.stats.tasks"
	PixelOrphanedOptOuts   = "dbp.stats.orphaned"
)

// QueryDataRepository loads the broker/job snapshot the report runs over.
type QueryDataRepository interface {
	FetchAll(ctx context.Context) ([]broker.BrokerProfileQueryData, error)
}

// TaskEventRepository provides background-task session events.
type TaskEventRepository interface {
	FetchSince(ctx context.Context, since time.Time) ([]broker.BackgroundTaskEvent, error)
	// DeleteOlderThan is best effort; failures are logged, not propagated.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// StateStore persists the rolling 7-day gate.
type StateStore interface {
	// LastWeeklyPixel returns nil when no weekly pixel was ever recorded.
	LastWeeklyPixel(ctx context.Context) (*time.Time, error)
	MarkWeeklyPixelSent(ctx context.Context, at time.Time) error
}

// Sink delivers one metric event with string parameters. The production
// implementation is an HTTP pixel client; pixels are assumed idempotent,
// so a re-fire after a failed state write is acceptable.
type Sink interface {
	Fire(ctx context.Context, kind string, params map[string]string) error
}

// EngagementStats are the weekly scanning/removal KPIs.
type EngagementStats struct {
	NewMatches    int    `json:"new_matches"`
	Reappearances int    `json:"reappearances"`
	Removals      int    `json:"removals"`
	ScanCoverage  string `json:"scan_coverage"`
}

// SessionStats summarize background-task sessions over the week.
type SessionStats struct {
	Completed  int `json:"completed"`
	Terminated int `json:"terminated"`
	Orphaned   int `json:"orphaned"`

	// Duration distribution over sessions with a valid duration, seconds.
	MinDuration    float64 `json:"min_duration"`
	MaxDuration    float64 `json:"max_duration"`
	MedianDuration float64 `json:"median_duration"`
}
