// Package orphans quantifies opt-out records at mirror brokers that have no
// matching counterpart at their parent broker, a signal of broker
// hierarchy drift.
package orphans

import (
	"sort"
	"time"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
)

// weeklyWindowDays bounds the opt-outs compared on each side of a
// child/parent pair.
const weeklyWindowDays = 7

// Metric is the per-child-broker result. Emission is suppressed upstream
// when the pair is uninformative (no surplus and no orphans).
type Metric struct {
	ChildURL  string `json:"child_url"`
	ChildKey  string `json:"child_key"`
	ParentURL string `json:"parent_url"`

	// Orphaned is the count of child opt-outs whose profile matches no
	// parent opt-out created in the same week.
	Orphaned int `json:"orphaned"`

	// RecordsCountDifference is child minus parent weekly opt-out counts,
	// independent of profile matching.
	RecordsCountDifference int `json:"records_count_difference"`
}

// Calculator computes orphaned opt-out metrics. Stateless.
type Calculator struct{}

// Calculate partitions query data by broker URL, then for every broker
// with a parent present in the set compares the weekly opt-outs of the
// pair. Children whose parent URL is absent are skipped silently.
//
// Matching is non-injective: one parent record may satisfy any number of
// child records. That overstates coverage when a parent consolidates
// several child profiles, and is accepted as a simplification.
func (Calculator) Calculate(queryData []broker.BrokerProfileQueryData, now time.Time) []Metric {
	byURL := make(map[string][]broker.BrokerProfileQueryData)
	for _, q := range queryData {
		byURL[q.DataBroker.URL] = append(byURL[q.DataBroker.URL], q)
	}

	var metrics []Metric
	for url, entries := range byURL {
		db := entries[0].DataBroker
		if db.ParentURL == nil {
			continue
		}
		parentEntries, ok := byURL[*db.ParentURL]
		if !ok {
			continue
		}

		childOptOuts := weeklyOptOuts(entries, now)
		parentOptOuts := weeklyOptOuts(parentEntries, now)

		matching := 0
		for _, c := range childOptOuts {
			for _, p := range parentOptOuts {
				if c.ExtractedProfile.Matches(p.ExtractedProfile) {
					matching++
					break
				}
			}
		}

		metrics = append(metrics, Metric{
			ChildURL:               url,
			ChildKey:               db.StatsKey(),
			ParentURL:              *db.ParentURL,
			Orphaned:               len(childOptOuts) - matching,
			RecordsCountDifference: len(childOptOuts) - len(parentOptOuts),
		})
	}

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].ChildURL < metrics[j].ChildURL })
	return metrics
}

// Suppressed reports whether the metric carries no signal worth a pixel.
func (m Metric) Suppressed() bool {
	return m.RecordsCountDifference <= 0 && m.Orphaned == 0
}

func weeklyOptOuts(entries []broker.BrokerProfileQueryData, now time.Time) []broker.OptOutJobData {
	var jobs []broker.OptOutJobData
	for _, q := range entries {
		for _, job := range q.OptOutJobs {
			if broker.WithinLastDays(job.CreatedDate, now, weeklyWindowDays) {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}
