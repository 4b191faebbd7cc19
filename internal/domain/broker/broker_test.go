package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

func TestDataBroker_StatsKey(t *testing.T) {
	b := broker.DataBroker{URL: "brokerx.com", Name: "brokerx", Version: "1.4.2"}
	assert.Equal(t, "brokerx-1.4.2", b.StatsKey())
}

func TestDataBroker_IsMirror(t *testing.T) {
	parent := "brokerx.com"

	assert.False(t, broker.DataBroker{URL: "brokerx.com"}.IsMirror())
	assert.True(t, broker.DataBroker{URL: "mirror.brokerx.com", ParentURL: &parent}.IsMirror())
}

func TestExtractedProfile_Matches(t *testing.T) {
	tests := []struct {
		name string
		a    broker.ExtractedProfile
		b    broker.ExtractedProfile
		want bool
	}{
		{
			name: "same name and age with shared address",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42", Addresses: []string{"Portland, OR"}},
			b:    broker.ExtractedProfile{Name: "jane roe", Age: "42", Addresses: []string{"portland, or", "Salem, OR"}},
			want: true,
		},
		{
			name: "same profile URL overrides address mismatch",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42", Addresses: []string{"Portland, OR"}, ProfileURL: "https://brokerx.com/p/1"},
			b:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42", Addresses: []string{"Austin, TX"}, ProfileURL: "https://brokerx.com/p/1"},
			want: true,
		},
		{
			name: "different age never matches",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42"},
			b:    broker.ExtractedProfile{Name: "Jane Roe", Age: "43"},
			want: false,
		},
		{
			name: "different name never matches",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42"},
			b:    broker.ExtractedProfile{Name: "John Roe", Age: "42"},
			want: false,
		},
		{
			name: "no addresses on either side matches on name and age",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42"},
			b:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42"},
			want: true,
		},
		{
			name: "disjoint addresses without profile URL",
			a:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42", Addresses: []string{"Portland, OR"}},
			b:    broker.ExtractedProfile{Name: "Jane Roe", Age: "42", Addresses: []string{"Austin, TX"}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Matches(tt.b))
			assert.Equal(t, tt.want, tt.b.Matches(tt.a), "Matches should be symmetric")
		})
	}
}

func TestBrokerProfileQueryData_AllHistoryEvents(t *testing.T) {
	ts := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	q := broker.BrokerProfileQueryData{
		ScanJob: broker.ScanJobData{
			HistoryEvents: []broker.HistoryEvent{
				{Kind: broker.EventScanStarted, Timestamp: ts},
				{Kind: broker.EventMatchesFound, MatchesFound: 2, Timestamp: ts.Add(time.Minute)},
			},
		},
		OptOutJobs: []broker.OptOutJobData{
			{HistoryEvents: []broker.HistoryEvent{{Kind: broker.EventOptOutStarted, Timestamp: ts}}},
			{HistoryEvents: []broker.HistoryEvent{{Kind: broker.EventOptOutConfirmed, Timestamp: ts}}},
		},
	}

	all := q.AllHistoryEvents()
	assert.Len(t, all, 4)
}
