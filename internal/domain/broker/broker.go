package broker

import (
	"strings"
	"time"
)

// DataBroker describes one data-broker site being scanned. Brokers form a
// two-level tree: a broker with a nil ParentURL is a root; one with a
// ParentURL is a mirror whose opt-outs are expected to overlap the parent's.
type DataBroker struct {
	URL       string  `json:"url"`
	Name      string  `json:"name"`
	Version   string  `json:"version"`
	ParentURL *string `json:"parent_url,omitempty"`
}

// StatsKey is the aggregation key used in per-broker metric maps.
func (b DataBroker) StatsKey() string {
	return b.Name + "-" + b.Version
}

// IsMirror reports whether the broker is a child of another broker.
func (b DataBroker) IsMirror() bool {
	return b.ParentURL != nil
}

// ScanJobData is one broker+profile scan job and its event history.
type ScanJobData struct {
	BrokerID       int64          `json:"broker_id"`
	ProfileQueryID int64          `json:"profile_query_id"`
	HistoryEvents  []HistoryEvent `json:"history_events"`
}

// ExtractedProfile is the identity a broker exposed for the user. Two
// profiles from different brokers may describe the same person; Matches is
// the semantic equivalence used for parent/child opt-out reconciliation.
type ExtractedProfile struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Age        string   `json:"age,omitempty"`
	Addresses  []string `json:"addresses,omitempty"`
	ProfileURL string   `json:"profile_url,omitempty"`
}

// Matches reports whether two extracted profiles plausibly describe the
// same person. Name and age must agree; beyond that one shared address or
// an identical profile URL is enough.
func (p ExtractedProfile) Matches(other ExtractedProfile) bool {
	if !strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(other.Name)) {
		return false
	}
	if p.Age != other.Age {
		return false
	}
	if p.ProfileURL != "" && p.ProfileURL == other.ProfileURL {
		return true
	}
	for _, a := range p.Addresses {
		for _, b := range other.Addresses {
			if strings.EqualFold(a, b) {
				return true
			}
		}
	}
	return len(p.Addresses) == 0 && len(other.Addresses) == 0
}

// OptOutJobData is one opt-out attempt for one extracted profile at one
// broker, with its own event history.
type OptOutJobData struct {
	BrokerID         int64            `json:"broker_id"`
	ProfileQueryID   int64            `json:"profile_query_id"`
	CreatedDate      time.Time        `json:"created_date"`
	ExtractedProfile ExtractedProfile `json:"extracted_profile"`
	HistoryEvents    []HistoryEvent   `json:"history_events"`
}

// BrokerProfileQueryData aggregates one broker descriptor with its scan job
// and zero or more opt-out jobs. Instances are read-only inputs to the
// metrics calculators; the calculators never mutate them.
type BrokerProfileQueryData struct {
	DataBroker DataBroker      `json:"data_broker"`
	ScanJob    ScanJobData     `json:"scan_job"`
	OptOutJobs []OptOutJobData `json:"optout_jobs,omitempty"`
}

// AllHistoryEvents returns the scan history plus every opt-out history,
// flattened. Order is unspecified.
func (q BrokerProfileQueryData) AllHistoryEvents() []HistoryEvent {
	events := make([]HistoryEvent, 0, len(q.ScanJob.HistoryEvents))
	events = append(events, q.ScanJob.HistoryEvents...)
	for _, job := range q.OptOutJobs {
		events = append(events, job.HistoryEvents...)
	}
	return events
}
