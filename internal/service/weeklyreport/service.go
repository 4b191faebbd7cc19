// Package weeklyreport computes the weekly Data Broker Protection KPIs and
// delivers them to the reporting sink, at most once per rolling 7-day
// period.
package weeklyreport

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	"github.com/removalhq/broker-protection-backend/internal/domain/errors"
	"github.com/removalhq/broker-protection-backend/internal/metrics"
	"github.com/removalhq/broker-protection-backend/internal/service/orphans"
	"github.com/removalhq/broker-protection-backend/internal/service/stalledops"
)

const (
	// reportWindowDays is the trailing window every metric group covers.
	reportWindowDays = 7

	// taskEventRetention bounds how long background-task events are kept.
	taskEventRetention = 14 * 24 * time.Hour
)

// Service runs the weekly report. Computation is synchronous and
// single-threaded over an in-memory snapshot; the caller serializes
// invocations.
type Service struct {
	queryData  QueryDataRepository
	taskEvents TaskEventRepository
	state      StateStore
	sink       Sink
	scanCalc   *stalledops.Calculator
	optOutCalc *stalledops.Calculator
	orphanCalc orphans.Calculator
	clock      broker.Clock
	registry   *metrics.Registry
	logger     *slog.Logger
}

// New creates the weekly report service. All collaborators are required.
func New(
	queryData QueryDataRepository,
	taskEvents TaskEventRepository,
	state StateStore,
	sink Sink,
	scanCalc *stalledops.Calculator,
	optOutCalc *stalledops.Calculator,
	clock broker.Clock,
	registry *metrics.Registry,
	logger *slog.Logger,
) *Service {
	return &Service{
		queryData:  queryData,
		taskEvents: taskEvents,
		state:      state,
		sink:       sink,
		scanCalc:   scanCalc,
		optOutCalc: optOutCalc,
		clock:      clock,
		registry:   registry,
		logger:     logger,
	}
}

// RunIfDue fires the weekly report when the 7-day gate allows it. A gate
// read failure counts as a storage failure and skips this invocation; the
// next trigger retries naturally.
func (s *Service) RunIfDue(ctx context.Context) error {
	now := s.clock.Now()

	last, err := s.state.LastWeeklyPixel(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reading weekly pixel state failed", "error", err)
		return errors.NewStorageError("last_weekly_pixel", "reading weekly pixel state failed").WithCause(err)
	}
	if !ShouldFire(last, now) {
		s.logger.DebugContext(ctx, "weekly report not due", "last_fired", last)
		return nil
	}

	return s.run(ctx, now)
}

// ShouldFire implements the gate: fire when nothing was ever recorded, or
// when at least 7 whole calendar days have passed since the last fire.
func ShouldFire(lastFired *time.Time, now time.Time) bool {
	if lastFired == nil {
		return true
	}
	return broker.WholeDaysBetween(*lastFired, now) >= reportWindowDays
}

// run computes and fires every metric group. A query-data read failure
// aborts the whole run; after that, each group is computed and fired
// independently so one group's failure never blocks the others. The gate
// advances only when at least one pixel was delivered, so a fully dead
// sink re-fires the whole report on the next trigger.
func (s *Service) run(ctx context.Context, now time.Time) error {
	started := time.Now()
	logger := s.logger.With("run_id", uuid.NewString())

	fetchStarted := time.Now()
	queryData, err := s.queryData.FetchAll(ctx)
	s.registry.RecordQueryDataFetch(ctx, time.Since(fetchStarted).Seconds(), err == nil)
	if err != nil {
		logger.ErrorContext(ctx, "fetching broker query data failed, skipping weekly report", "error", err)
		s.registry.RecordReportRun(ctx, time.Since(started).Seconds(), false)
		return errors.NewStorageError("fetch_query_data", "fetching broker query data failed").WithCause(err)
	}

	var delivered int
	if err := s.fireEngagement(ctx, queryData, now, &delivered); err != nil {
		logger.ErrorContext(ctx, "weekly engagement pixel failed", "error", err)
	}
	if err := s.fireStalled(ctx, queryData, now, &delivered); err != nil {
		logger.ErrorContext(ctx, "stalled operations pixel failed", "error", err)
	}
	if err := s.fireOrphans(ctx, queryData, now, &delivered); err != nil {
		logger.ErrorContext(ctx, "orphaned opt-outs pixel failed", "error", err)
	}
	if err := s.fireBackgroundTasks(ctx, now, &delivered); err != nil {
		logger.ErrorContext(ctx, "background task pixel failed", "error", err)
	}

	if delivered == 0 {
		logger.ErrorContext(ctx, "no pixel was delivered, leaving weekly gate open")
		s.registry.RecordReportRun(ctx, time.Since(started).Seconds(), false)
		return errors.NewExternalError("pixel", "no weekly pixel was delivered")
	}

	if err := s.state.MarkWeeklyPixelSent(ctx, now); err != nil {
		// Pixels are idempotent; re-firing next trigger beats losing data.
		logger.ErrorContext(ctx, "marking weekly pixel sent failed", "error", err)
	}

	s.registry.RecordReportRun(ctx, time.Since(started).Seconds(), true)
	logger.InfoContext(ctx, "weekly report fired", "brokers", len(queryData), "pixels", delivered)
	return nil
}

func (s *Service) fireEngagement(ctx context.Context, queryData []broker.BrokerProfileQueryData, now time.Time, delivered *int) error {
	stats := ComputeEngagement(queryData, now)
	return s.fire(ctx, PixelWeeklyStats, map[string]string{
		"new_matches":   strconv.Itoa(stats.NewMatches),
		"reappearances": strconv.Itoa(stats.Reappearances),
		"removals":      strconv.Itoa(stats.Removals),
		"scan_coverage": stats.ScanCoverage,
	}, delivered)
}

func (s *Service) fireStalled(ctx context.Context, queryData []broker.BrokerProfileQueryData, now time.Time, delivered *int) error {
	for _, calc := range []*stalledops.Calculator{s.scanCalc, s.optOutCalc} {
		res := calc.Calculate(queryData, now)
		err := s.fire(ctx, PixelStalledOperations, map[string]string{
			"operation":         calc.Operation(),
			"total":             strconv.Itoa(res.Total),
			"stalled":           strconv.Itoa(res.Stalled),
			"total_by_broker":   EncodeBrokerMap(res.TotalByBroker),
			"stalled_by_broker": EncodeBrokerMap(res.StalledByBroker),
		}, delivered)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fireOrphans(ctx context.Context, queryData []broker.BrokerProfileQueryData, now time.Time, delivered *int) error {
	for _, m := range s.orphanCalc.Calculate(queryData, now) {
		if m.Suppressed() {
			continue
		}
		err := s.fire(ctx, PixelOrphanedOptOuts, map[string]string{
			"child":                    m.ChildURL,
			"child_key":                m.ChildKey,
			"parent":                   m.ParentURL,
			"orphaned":                 strconv.Itoa(m.Orphaned),
			"records_count_difference": strconv.Itoa(m.RecordsCountDifference),
		}, delivered)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fireBackgroundTasks(ctx context.Context, now time.Time, delivered *int) error {
	events, err := s.taskEvents.FetchSince(ctx, now.AddDate(0, 0, -reportWindowDays))
	if err != nil {
		return errors.NewStorageError("fetch_task_events", "fetching background task events failed").WithCause(err)
	}

	stats := ComputeSessionStats(events, now)
	err = s.fire(ctx, PixelBackgroundTasks, map[string]string{
		"sessions_completed":  strconv.Itoa(stats.Completed),
		"sessions_terminated": strconv.Itoa(stats.Terminated),
		"sessions_orphaned":   strconv.Itoa(stats.Orphaned),
		"duration_min":        formatSeconds(stats.MinDuration),
		"duration_max":        formatSeconds(stats.MaxDuration),
		"duration_median":     formatSeconds(stats.MedianDuration),
	}, delivered)
	if err != nil {
		return err
	}

	if err := s.taskEvents.DeleteOlderThan(ctx, now.Add(-taskEventRetention)); err != nil {
		s.logger.WarnContext(ctx, "pruning background task events failed", "error", err)
	}
	return nil
}

func (s *Service) fire(ctx context.Context, kind string, params map[string]string, delivered *int) error {
	err := s.sink.Fire(ctx, kind, params)
	s.registry.RecordPixel(ctx, kind, err == nil)
	if err != nil {
		return errors.NewExternalError("pixel", "firing "+kind+" failed").WithCause(err)
	}
	*delivered++
	return nil
}

// ComputeEngagement aggregates weekly new-match, reappearance and removal
// counts plus the scan-coverage bucket over all brokers.
func ComputeEngagement(queryData []broker.BrokerProfileQueryData, now time.Time) EngagementStats {
	var stats EngagementStats

	allBrokers := make(map[string]struct{})
	activeBrokers := make(map[string]struct{})

	for _, q := range queryData {
		allBrokers[q.DataBroker.URL] = struct{}{}
		for _, e := range q.AllHistoryEvents() {
			if !broker.WithinLastDays(e.Timestamp, now, reportWindowDays) {
				continue
			}
			activeBrokers[q.DataBroker.URL] = struct{}{}
			switch e.Kind {
			case broker.EventMatchesFound:
				stats.NewMatches += e.MatchesFound
			case broker.EventReAppearance:
				stats.Reappearances++
			case broker.EventOptOutConfirmed:
				stats.Removals++
			}
		}
	}

	pct := 0
	if len(allBrokers) > 0 {
		pct = int(math.Round(100 * float64(len(activeBrokers)) / float64(len(allBrokers))))
	}
	stats.ScanCoverage = CoverageBucket(pct)
	return stats
}

// CoverageBucket maps a coverage percentage onto its reporting label. The
// "error" label guards against out-of-range input without crashing.
func CoverageBucket(pct int) string {
	switch {
	case pct < 0:
		return "error"
	case pct < 25:
		return "0-25"
	case pct < 50:
		return "25-50"
	case pct < 75:
		return "50-75"
	case pct <= 100:
		return "75-100"
	default:
		return "error"
	}
}

// EncodeBrokerMap renders a per-broker count map as a canonical JSON
// object (encoding/json sorts map keys). Serialization failure degrades to
// an empty object rather than aborting the batch.
func EncodeBrokerMap(m map[string]int) string {
	if m == nil {
		m = map[string]int{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
