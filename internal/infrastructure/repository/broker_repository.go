// Package repository implements Postgres-backed storage for broker query
// data and background-task events.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	"github.com/removalhq/broker-protection-backend/internal/domain/errors"
)

// BrokerRepository loads broker descriptors, jobs and event histories and
// assembles the per-(broker, profile query) snapshot the report runs over.
type BrokerRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewBrokerRepository(db *pgxpool.Pool, logger *zap.Logger) *BrokerRepository {
	return &BrokerRepository{db: db, logger: logger}
}

type jobKey struct {
	brokerID       int64
	profileQueryID int64
}

// optOutRef locates one opt-out job inside the assembled snapshot, keyed by
// its database ID so history rows can be attached to the right job.
type optOutRef struct {
	key   jobKey
	index int
}

// optOutRow is one optout_jobs row before attachment.
type optOutRow struct {
	id  int64
	job broker.OptOutJobData
}

// historyRow is one history_events row before routing. The kind is still
// the stored string; routing parses it.
type historyRow struct {
	brokerID       int64
	profileQueryID int64
	optOutJobID    *int64
	kind           string
	occurredAt     time.Time
	matchesFound   *int
}

// FetchAll returns one entry per (broker, profile query) pair. Opt-out
// histories are attached to their job; scan histories to the scan job.
// Rows that cannot be placed (unknown broker, dangling opt-out reference,
// unrecognized kind) are logged and skipped so one bad row never wedges
// the weekly report.
func (r *BrokerRepository) FetchAll(ctx context.Context) ([]broker.BrokerProfileQueryData, error) {
	brokers, err := r.fetchBrokers(ctx)
	if err != nil {
		return nil, err
	}

	scanKeys, err := r.fetchScanJobKeys(ctx)
	if err != nil {
		return nil, err
	}
	entries, order := newSnapshot(brokers, scanKeys)

	optOutRows, err := r.fetchOptOutRows(ctx)
	if err != nil {
		return nil, err
	}
	optOutIndex := attachOptOuts(entries, optOutRows)

	historyRows, err := r.fetchHistoryRows(ctx)
	if err != nil {
		return nil, err
	}
	r.routeHistory(entries, optOutIndex, historyRows)

	result := make([]broker.BrokerProfileQueryData, 0, len(order))
	for _, key := range order {
		result = append(result, *entries[key])
	}
	return result, nil
}

// newSnapshot creates one entry per scan job whose broker descriptor is
// known. Job rows without a descriptor are dropped.
func newSnapshot(brokers map[int64]broker.DataBroker, scanKeys []jobKey) (map[jobKey]*broker.BrokerProfileQueryData, []jobKey) {
	entries := make(map[jobKey]*broker.BrokerProfileQueryData, len(scanKeys))
	order := make([]jobKey, 0, len(scanKeys))
	for _, key := range scanKeys {
		b, ok := brokers[key.brokerID]
		if !ok {
			continue
		}
		entries[key] = &broker.BrokerProfileQueryData{
			DataBroker: b,
			ScanJob: broker.ScanJobData{
				BrokerID:       key.brokerID,
				ProfileQueryID: key.profileQueryID,
			},
		}
		order = append(order, key)
	}
	return entries, order
}

// attachOptOuts appends each opt-out job to its snapshot entry and returns
// the job-ID index used to route history rows. Jobs referencing a
// (broker, profile query) pair without a scan entry are dropped.
func attachOptOuts(entries map[jobKey]*broker.BrokerProfileQueryData, rows []optOutRow) map[int64]optOutRef {
	index := make(map[int64]optOutRef, len(rows))
	for _, row := range rows {
		key := jobKey{row.job.BrokerID, row.job.ProfileQueryID}
		entry, ok := entries[key]
		if !ok {
			continue
		}
		entry.OptOutJobs = append(entry.OptOutJobs, row.job)
		index[row.id] = optOutRef{key: key, index: len(entry.OptOutJobs) - 1}
	}
	return index
}

// routeHistory parses each row's kind and appends the event to the scan
// history (NULL opt-out reference) or the referenced opt-out job.
func (r *BrokerRepository) routeHistory(entries map[jobKey]*broker.BrokerProfileQueryData, optOutIndex map[int64]optOutRef, rows []historyRow) {
	for _, row := range rows {
		kind, ok := eventKindFromString(row.kind)
		if !ok {
			r.logger.Warn("skipping history event with unrecognized kind",
				zap.String("kind", row.kind),
				zap.Int64("broker_id", row.brokerID))
			continue
		}
		e := broker.HistoryEvent{
			BrokerID:       row.brokerID,
			ProfileQueryID: row.profileQueryID,
			Kind:           kind,
			Timestamp:      row.occurredAt,
		}
		if row.matchesFound != nil {
			e.MatchesFound = *row.matchesFound
		}

		entry, ok := entries[jobKey{row.brokerID, row.profileQueryID}]
		if !ok {
			continue
		}
		if row.optOutJobID == nil {
			entry.ScanJob.HistoryEvents = append(entry.ScanJob.HistoryEvents, e)
			continue
		}
		ref, ok := optOutIndex[*row.optOutJobID]
		if !ok {
			r.logger.Warn("skipping history event with dangling opt-out reference",
				zap.Int64("optout_job_id", *row.optOutJobID),
				zap.Int64("broker_id", row.brokerID))
			continue
		}
		job := &entries[ref.key].OptOutJobs[ref.index]
		job.HistoryEvents = append(job.HistoryEvents, e)
	}
}

func (r *BrokerRepository) fetchBrokers(ctx context.Context) (map[int64]broker.DataBroker, error) {
	query := `
		SELECT id, url, name, version, parent_url
		FROM data_brokers`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStorageError("fetch_brokers", err.Error()).WithCause(err)
	}
	defer rows.Close()

	brokers := make(map[int64]broker.DataBroker)
	for rows.Next() {
		var id int64
		var b broker.DataBroker
		if err := rows.Scan(&id, &b.URL, &b.Name, &b.Version, &b.ParentURL); err != nil {
			return nil, errors.NewStorageError("fetch_brokers", err.Error()).WithCause(err)
		}
		brokers[id] = b
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("fetch_brokers", err.Error()).WithCause(err)
	}
	return brokers, nil
}

func (r *BrokerRepository) fetchScanJobKeys(ctx context.Context) ([]jobKey, error) {
	query := `
		SELECT s.broker_id, s.profile_query_id
		FROM scan_jobs s
		ORDER BY s.broker_id, s.profile_query_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStorageError("fetch_scan_jobs", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var keys []jobKey
	for rows.Next() {
		var key jobKey
		if err := rows.Scan(&key.brokerID, &key.profileQueryID); err != nil {
			return nil, errors.NewStorageError("fetch_scan_jobs", err.Error()).WithCause(err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("fetch_scan_jobs", err.Error()).WithCause(err)
	}
	return keys, nil
}

func (r *BrokerRepository) fetchOptOutRows(ctx context.Context) ([]optOutRow, error) {
	query := `
		SELECT o.id, o.broker_id, o.profile_query_id, o.created_date,
		       o.profile_id, o.profile_name, o.profile_age, o.profile_url,
		       o.profile_addresses
		FROM optout_jobs o
		ORDER BY o.id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStorageError("fetch_optout_jobs", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var result []optOutRow
	for rows.Next() {
		var row optOutRow
		if err := rows.Scan(&row.id, &row.job.BrokerID, &row.job.ProfileQueryID, &row.job.CreatedDate,
			&row.job.ExtractedProfile.ID, &row.job.ExtractedProfile.Name,
			&row.job.ExtractedProfile.Age, &row.job.ExtractedProfile.ProfileURL,
			&row.job.ExtractedProfile.Addresses); err != nil {
			return nil, errors.NewStorageError("fetch_optout_jobs", err.Error()).WithCause(err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("fetch_optout_jobs", err.Error()).WithCause(err)
	}
	return result, nil
}

func (r *BrokerRepository) fetchHistoryRows(ctx context.Context) ([]historyRow, error) {
	query := `
		SELECT h.broker_id, h.profile_query_id, h.optout_job_id,
		       h.kind, h.occurred_at, h.matches_found
		FROM history_events h
		ORDER BY h.occurred_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStorageError("fetch_history_events", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var result []historyRow
	for rows.Next() {
		var row historyRow
		if err := rows.Scan(&row.brokerID, &row.profileQueryID, &row.optOutJobID,
			&row.kind, &row.occurredAt, &row.matchesFound); err != nil {
			return nil, errors.NewStorageError("fetch_history_events", err.Error()).WithCause(err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("fetch_history_events", err.Error()).WithCause(err)
	}
	return result, nil
}

// eventKindFromString maps the stored event type to the domain enum.
func eventKindFromString(s string) (broker.EventKind, bool) {
	switch s {
	case "scan_started":
		return broker.EventScanStarted, true
	case "matches_found":
		return broker.EventMatchesFound, true
	case "no_match_found":
		return broker.EventNoMatchFound, true
	case "reappearance":
		return broker.EventReAppearance, true
	case "error":
		return broker.EventError, true
	case "optout_started":
		return broker.EventOptOutStarted, true
	case "optout_requested":
		return broker.EventOptOutRequested, true
	case "optout_confirmed":
		return broker.EventOptOutConfirmed, true
	case "match_removed_by_user":
		return broker.EventMatchRemovedByUser, true
	default:
		return 0, false
	}
}
