// Package fixtures provides builders for broker query data used across the
// service tests.
package fixtures

import (
	"testing"
	"time"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

// QueryDataBuilder builds BrokerProfileQueryData for tests
type QueryDataBuilder struct {
	t          *testing.T
	dataBroker broker.DataBroker
	scanEvents []broker.HistoryEvent
	optOuts    []broker.OptOutJobData
}

// NewQueryDataBuilder creates a builder with sensible defaults
func NewQueryDataBuilder(t *testing.T) *QueryDataBuilder {
	return &QueryDataBuilder{
		t: t,
		dataBroker: broker.DataBroker{
			URL:     "brokerx.com",
			Name:    "brokerx",
			Version: "1.0",
		},
	}
}

func (b *QueryDataBuilder) WithBroker(name, version, url string) *QueryDataBuilder {
	b.dataBroker.Name = name
	b.dataBroker.Version = version
	b.dataBroker.URL = url
	return b
}

func (b *QueryDataBuilder) WithParent(parentURL string) *QueryDataBuilder {
	b.dataBroker.ParentURL = &parentURL
	return b
}

func (b *QueryDataBuilder) WithScanEvent(kind broker.EventKind, ts time.Time) *QueryDataBuilder {
	b.scanEvents = append(b.scanEvents, broker.HistoryEvent{
		BrokerID:       1,
		ProfileQueryID: 1,
		Kind:           kind,
		Timestamp:      ts,
	})
	return b
}

func (b *QueryDataBuilder) WithMatchesFound(count int, ts time.Time) *QueryDataBuilder {
	b.scanEvents = append(b.scanEvents, broker.HistoryEvent{
		BrokerID:       1,
		ProfileQueryID: 1,
		Kind:           broker.EventMatchesFound,
		MatchesFound:   count,
		Timestamp:      ts,
	})
	return b
}

// WithOptOut adds an opt-out job for the given profile, created at the
// given time, with events of the given kinds stamped at created plus one
// minute increments.
func (b *QueryDataBuilder) WithOptOut(profile broker.ExtractedProfile, created time.Time, kinds ...broker.EventKind) *QueryDataBuilder {
	events := make([]broker.HistoryEvent, 0, len(kinds))
	for i, k := range kinds {
		events = append(events, broker.HistoryEvent{
			BrokerID:       1,
			ProfileQueryID: 1,
			Kind:           k,
			Timestamp:      created.Add(time.Duration(i) * time.Minute),
		})
	}
	b.optOuts = append(b.optOuts, broker.OptOutJobData{
		BrokerID:         1,
		ProfileQueryID:   1,
		CreatedDate:      created,
		ExtractedProfile: profile,
		HistoryEvents:    events,
	})
	return b
}

// WithOptOutEvents adds an opt-out job with explicitly timestamped events.
func (b *QueryDataBuilder) WithOptOutEvents(profile broker.ExtractedProfile, created time.Time, events ...broker.HistoryEvent) *QueryDataBuilder {
	b.optOuts = append(b.optOuts, broker.OptOutJobData{
		BrokerID:         1,
		ProfileQueryID:   1,
		CreatedDate:      created,
		ExtractedProfile: profile,
		HistoryEvents:    events,
	})
	return b
}

func (b *QueryDataBuilder) Build() broker.BrokerProfileQueryData {
	return broker.BrokerProfileQueryData{
		DataBroker: b.dataBroker,
		ScanJob: broker.ScanJobData{
			BrokerID:       1,
			ProfileQueryID: 1,
			HistoryEvents:  b.scanEvents,
		},
		OptOutJobs: b.optOuts,
	}
}

// Profile is a shorthand for a matchable extracted profile.
func Profile(name, age string, addresses ...string) broker.ExtractedProfile {
	return broker.ExtractedProfile{
		Name:      name,
		Age:       age,
		Addresses: addresses,
	}
}

// Event is a shorthand for a bare history event.
func Event(kind broker.EventKind, ts time.Time) broker.HistoryEvent {
	return broker.HistoryEvent{Kind: kind, Timestamp: ts}
}
