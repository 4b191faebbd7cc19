package weeklyreport_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	domainerrors "github.com/removalhq/broker-protection-backend/internal/domain/errors"
	"github.com/removalhq/broker-protection-backend/internal/metrics"
	"github.com/removalhq/broker-protection-backend/internal/service/stalledops"
	"github.com/removalhq/broker-protection-backend/internal/service/weeklyreport"
	"github.com/removalhq/broker-protection-backend/internal/testutil/fixtures"
)

// Test doubles

type fakeQueryDataRepo struct {
	data []broker.BrokerProfileQueryData
	err  error
}

func (f *fakeQueryDataRepo) FetchAll(ctx context.Context) ([]broker.BrokerProfileQueryData, error) {
	return f.data, f.err
}

type fakeTaskEventRepo struct {
	events    []broker.BackgroundTaskEvent
	fetchErr  error
	deleteErr error
	deleted   *time.Time
}

func (f *fakeTaskEventRepo) FetchSince(ctx context.Context, since time.Time) ([]broker.BackgroundTaskEvent, error) {
	return f.events, f.fetchErr
}

func (f *fakeTaskEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	f.deleted = &cutoff
	return f.deleteErr
}

type fakeStateStore struct {
	last     *time.Time
	readErr  error
	writeErr error
	marked   *time.Time
}

func (f *fakeStateStore) LastWeeklyPixel(ctx context.Context) (*time.Time, error) {
	return f.last, f.readErr
}

func (f *fakeStateStore) MarkWeeklyPixelSent(ctx context.Context, at time.Time) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.marked = &at
	return nil
}

type firedPixel struct {
	kind   string
	params map[string]string
}

type fakeSink struct {
	fired   []firedPixel
	failFor map[string]error
}

func (f *fakeSink) Fire(ctx context.Context, kind string, params map[string]string) error {
	if err, ok := f.failFor[kind]; ok {
		return err
	}
	f.fired = append(f.fired, firedPixel{kind: kind, params: params})
	return nil
}

func (f *fakeSink) kinds() []string {
	out := make([]string, 0, len(f.fired))
	for _, p := range f.fired {
		out = append(out, p.kind)
	}
	return out
}

type harness struct {
	service   *weeklyreport.Service
	queryData *fakeQueryDataRepo
	tasks     *fakeTaskEventRepo
	state     *fakeStateStore
	sink      *fakeSink
	clock     *broker.MockClock
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	registry, err := metrics.NewRegistry("weeklyreport-test")
	require.NoError(t, err)

	h := &harness{
		queryData: &fakeQueryDataRepo{},
		tasks:     &fakeTaskEventRepo{},
		state:     &fakeStateStore{},
		sink:      &fakeSink{},
		clock:     &broker.MockClock{CurrentTime: now},
	}
	h.service = weeklyreport.New(
		h.queryData,
		h.tasks,
		h.state,
		h.sink,
		stalledops.NewCalculator(stalledops.ScanConfig(2*time.Hour)),
		stalledops.NewCalculator(stalledops.OptOutConfig(72*time.Hour)),
		h.clock,
		registry,
		slog.New(slog.DiscardHandler),
	)
	return h
}

func TestShouldFire(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, weeklyreport.ShouldFire(nil, now), "never fired means due")

	for d := 0; d <= 6; d++ {
		last := now.AddDate(0, 0, -d)
		assert.Falsef(t, weeklyreport.ShouldFire(&last, now), "%d whole days elapsed must not fire", d)
	}

	last := now.AddDate(0, 0, -7)
	assert.True(t, weeklyreport.ShouldFire(&last, now), "7 whole days elapsed must fire")

	last = now.AddDate(0, 0, -30)
	assert.True(t, weeklyreport.ShouldFire(&last, now))
}

func TestShouldFire_UsesCalendarDaysNotElapsedSeconds(t *testing.T) {
	// 6 days and 23 hours elapsed, but midnight was crossed 7 times.
	last := time.Date(2026, time.June, 8, 23, 30, 0, 0, time.UTC)
	now := time.Date(2026, time.June, 15, 22, 30, 0, 0, time.UTC)

	assert.True(t, weeklyreport.ShouldFire(&last, now))
}

func TestRunIfDue_FiresAllGroupsAndMarksState(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	recent := now.Add(-48 * time.Hour)
	h.queryData.data = []broker.BrokerProfileQueryData{
		fixtures.NewQueryDataBuilder(t).
			WithBroker("brokerx", "1.0", "brokerx.com").
			WithScanEvent(broker.EventScanStarted, recent).
			WithMatchesFound(3, recent.Add(time.Minute)).
			WithOptOut(fixtures.Profile("Jane Roe", "42"), recent,
				broker.EventOptOutStarted, broker.EventOptOutConfirmed).
			Build(),
	}

	require.NoError(t, h.service.RunIfDue(context.Background()))

	kinds := h.sink.kinds()
	assert.Contains(t, kinds, weeklyreport.PixelWeeklyStats)
	assert.Contains(t, kinds, weeklyreport.PixelBackgroundTasks)
	// One stalled pixel per operation family.
	stalledCount := 0
	for _, k := range kinds {
		if k == weeklyreport.PixelStalledOperations {
			stalledCount++
		}
	}
	assert.Equal(t, 2, stalledCount)

	require.NotNil(t, h.state.marked)
	assert.Equal(t, now, *h.state.marked)
	require.NotNil(t, h.tasks.deleted, "old task events should be pruned")

	var weekly firedPixel
	for _, p := range h.sink.fired {
		if p.kind == weeklyreport.PixelWeeklyStats {
			weekly = p
		}
	}
	assert.Equal(t, "3", weekly.params["new_matches"])
	assert.Equal(t, "1", weekly.params["removals"])
	assert.Equal(t, "0", weekly.params["reappearances"])
	assert.Equal(t, "75-100", weekly.params["scan_coverage"])
}

func TestRunIfDue_NotDueDoesNothing(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	last := now.AddDate(0, 0, -3)
	h.state.last = &last

	require.NoError(t, h.service.RunIfDue(context.Background()))
	assert.Empty(t, h.sink.fired)
	assert.Nil(t, h.state.marked)
}

func TestRunIfDue_QueryDataFailureAbortsEverything(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.queryData.err = errors.New("connection refused")

	err := h.service.RunIfDue(context.Background())
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeStorage))
	assert.Empty(t, h.sink.fired, "no pixel may fire on a failed snapshot read")
	assert.Nil(t, h.state.marked, "state must not advance on a failed run")
}

func TestRunIfDue_StateReadFailureSkipsRun(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.state.readErr = errors.New("redis down")

	err := h.service.RunIfDue(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.sink.fired)
}

func TestRunIfDue_GroupFailureDoesNotBlockOtherGroups(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.queryData.data = []broker.BrokerProfileQueryData{
		fixtures.NewQueryDataBuilder(t).Build(),
	}
	h.sink.failFor = map[string]error{weeklyreport.PixelWeeklyStats: errors.New("503")}

	require.NoError(t, h.service.RunIfDue(context.Background()))

	kinds := h.sink.kinds()
	assert.NotContains(t, kinds, weeklyreport.PixelWeeklyStats)
	assert.Contains(t, kinds, weeklyreport.PixelStalledOperations)
	assert.Contains(t, kinds, weeklyreport.PixelBackgroundTasks)
	require.NotNil(t, h.state.marked, "partial delivery still advances the gate")
}

func TestRunIfDue_TaskEventFetchFailureOnlySkipsTaskGroup(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.tasks.fetchErr = errors.New("table missing")

	require.NoError(t, h.service.RunIfDue(context.Background()))
	kinds := h.sink.kinds()
	assert.NotContains(t, kinds, weeklyreport.PixelBackgroundTasks)
	assert.Contains(t, kinds, weeklyreport.PixelWeeklyStats)
}

func TestRunIfDue_NothingDeliveredLeavesGateOpen(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.queryData.data = []broker.BrokerProfileQueryData{
		fixtures.NewQueryDataBuilder(t).Build(),
	}
	down := errors.New("503")
	h.sink.failFor = map[string]error{
		weeklyreport.PixelWeeklyStats:       down,
		weeklyreport.PixelStalledOperations: down,
		weeklyreport.PixelBackgroundTasks:   down,
		weeklyreport.PixelOrphanedOptOuts:   down,
	}

	err := h.service.RunIfDue(context.Background())
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeExternal))
	assert.Empty(t, h.sink.fired)
	assert.Nil(t, h.state.marked, "a fully dead sink must not advance the gate")
}

func TestRunIfDue_StateWriteFailureDoesNotUndoPixels(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	h.state.writeErr = errors.New("redis down")

	require.NoError(t, h.service.RunIfDue(context.Background()))
	assert.NotEmpty(t, h.sink.fired)
	assert.Nil(t, h.state.marked)
}

func TestRunIfDue_OrphanMetricsEmittedAndSuppressed(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	created := now.Add(-24 * time.Hour)
	jane := fixtures.Profile("Jane Roe", "42", "Portland, OR")

	parent := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerx", "1.0", "brokerx.com").
		WithOptOut(jane, created).
		Build()
	// Balanced mirror: same single matching record, suppressed.
	balanced := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokery", "1.0", "brokery.com").
		WithParent("brokerx.com").
		WithOptOut(jane, created).
		Build()
	// Drifted mirror: one record the parent never saw.
	drifted := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerz", "1.0", "brokerz.com").
		WithParent("brokerx.com").
		WithOptOut(jane, created).
		WithOptOut(fixtures.Profile("Mary Poe", "30", "Austin, TX"), created).
		Build()

	h.queryData.data = []broker.BrokerProfileQueryData{parent, balanced, drifted}

	require.NoError(t, h.service.RunIfDue(context.Background()))

	var orphanPixels []firedPixel
	for _, p := range h.sink.fired {
		if p.kind == weeklyreport.PixelOrphanedOptOuts {
			orphanPixels = append(orphanPixels, p)
		}
	}
	require.Len(t, orphanPixels, 1)
	assert.Equal(t, "brokerz.com", orphanPixels[0].params["child"])
	assert.Equal(t, "1", orphanPixels[0].params["orphaned"])
	assert.Equal(t, "1", orphanPixels[0].params["records_count_difference"])
}

func TestCoverageBucket(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{0, "0-25"},
		{24, "0-25"},
		{25, "25-50"},
		{49, "25-50"},
		{50, "50-75"},
		{74, "50-75"},
		{75, "75-100"},
		{100, "75-100"},
		{101, "error"},
		{-1, "error"},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, weeklyreport.CoverageBucket(tt.pct), "pct=%d", tt.pct)
	}
}

func TestEncodeBrokerMap(t *testing.T) {
	encoded := weeklyreport.EncodeBrokerMap(map[string]int{"brokerB-2.0": 1, "brokerA-1.0": 3})

	// encoding/json sorts object keys, so the output is canonical.
	assert.Equal(t, `{"brokerA-1.0":3,"brokerB-2.0":1}`, encoded)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	assert.Equal(t, map[string]int{"brokerA-1.0": 3, "brokerB-2.0": 1}, decoded)

	assert.Equal(t, "{}", weeklyreport.EncodeBrokerMap(nil))
}

func TestComputeEngagement_CountsOnlyWindowEvents(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	stale := now.AddDate(0, 0, -10)

	active := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerx", "1.0", "brokerx.com").
		WithMatchesFound(2, recent).
		WithScanEvent(broker.EventReAppearance, recent).
		WithMatchesFound(5, stale). // outside the window
		WithOptOut(fixtures.Profile("Jane Roe", "42"), recent,
			broker.EventOptOutStarted, broker.EventOptOutConfirmed).
		Build()
	dormant := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokery", "1.0", "brokery.com").
		WithScanEvent(broker.EventNoMatchFound, stale).
		Build()

	stats := weeklyreport.ComputeEngagement([]broker.BrokerProfileQueryData{active, dormant}, now)

	assert.Equal(t, 2, stats.NewMatches)
	assert.Equal(t, 1, stats.Reappearances)
	assert.Equal(t, 1, stats.Removals)
	assert.Equal(t, "50-75", stats.ScanCoverage) // 1 of 2 brokers active
}
