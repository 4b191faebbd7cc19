package orphans_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	"github.com/removalhq/broker-protection-backend/internal/service/orphans"
	"github.com/removalhq/broker-protection-backend/internal/testutil/fixtures"
)

func TestCalculate_ParentChildMatching(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)

	jane := fixtures.Profile("Jane Roe", "42", "Portland, OR")
	john := fixtures.Profile("John Roe", "44", "Portland, OR")
	mary := fixtures.Profile("Mary Poe", "30", "Austin, TX")
	alex := fixtures.Profile("Alex Zed", "55", "Boise, ID")

	// Parent X with 2 weekly opt-outs; child Y with 5, of which 3 match a
	// parent record. Matching is non-injective, so two child records may
	// both be satisfied by the single parent record for Jane.
	parent := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerx", "1.0", "brokerx.com").
		WithOptOut(jane, created).
		WithOptOut(john, created).
		Build()
	child := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokery", "1.0", "brokery.com").
		WithParent("brokerx.com").
		WithOptOut(jane, created).
		WithOptOut(jane, created). // second extraction of the same person
		WithOptOut(john, created).
		WithOptOut(mary, created).
		WithOptOut(alex, created).
		Build()

	metrics := orphans.Calculator{}.Calculate([]broker.BrokerProfileQueryData{parent, child}, now)
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.Equal(t, "brokery.com", m.ChildURL)
	assert.Equal(t, "brokery-1.0", m.ChildKey)
	assert.Equal(t, "brokerx.com", m.ParentURL)
	assert.Equal(t, 2, m.Orphaned) // 5 child - 3 matching
	assert.Equal(t, 3, m.RecordsCountDifference)
	assert.False(t, m.Suppressed())
}

func TestCalculate_SkipsChildrenWithoutResolvableParent(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	created := now.Add(-24 * time.Hour)

	orphanChild := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokery", "1.0", "brokery.com").
		WithParent("gone.example.com").
		WithOptOut(fixtures.Profile("Jane Roe", "42"), created).
		Build()
	root := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerx", "1.0", "brokerx.com").
		WithOptOut(fixtures.Profile("Jane Roe", "42"), created).
		Build()

	metrics := orphans.Calculator{}.Calculate([]broker.BrokerProfileQueryData{orphanChild, root}, now)
	assert.Empty(t, metrics)
}

func TestCalculate_ExcludesOptOutsOutsideTheWeek(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	parent := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokerx", "1.0", "brokerx.com").
		Build()
	child := fixtures.NewQueryDataBuilder(t).
		WithBroker("brokery", "1.0", "brokery.com").
		WithParent("brokerx.com").
		WithOptOut(fixtures.Profile("Jane Roe", "42"), now.AddDate(0, 0, -10)).
		Build()

	metrics := orphans.Calculator{}.Calculate([]broker.BrokerProfileQueryData{parent, child}, now)
	require.Len(t, metrics, 1)
	assert.Equal(t, 0, metrics[0].Orphaned)
	assert.Equal(t, 0, metrics[0].RecordsCountDifference)
	assert.True(t, metrics[0].Suppressed())
}

func TestMetric_Suppressed(t *testing.T) {
	tests := []struct {
		name string
		m    orphans.Metric
		want bool
	}{
		{
			name: "zero difference and zero orphans",
			m:    orphans.Metric{RecordsCountDifference: 0, Orphaned: 0},
			want: true,
		},
		{
			name: "negative difference and zero orphans",
			m:    orphans.Metric{RecordsCountDifference: -3, Orphaned: 0},
			want: true,
		},
		{
			name: "orphans always emit",
			m:    orphans.Metric{RecordsCountDifference: -3, Orphaned: 1},
			want: false,
		},
		{
			name: "surplus always emits",
			m:    orphans.Metric{RecordsCountDifference: 2, Orphaned: 0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.Suppressed())
		})
	}
}
