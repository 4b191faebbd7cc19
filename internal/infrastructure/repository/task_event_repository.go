package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	"github.com/removalhq/broker-protection-backend/internal/domain/errors"
)

// TaskEventRepository stores background-task session lifecycle events.
type TaskEventRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskEventRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskEventRepository {
	return &TaskEventRepository{db: db, logger: logger}
}

// taskEventRow is one background_task_events row before kind parsing.
type taskEventRow struct {
	sessionID       string
	kind            string
	occurredAt      time.Time
	durationSeconds *float64
}

// FetchSince returns all task events recorded at or after the given time,
// oldest first. Rows with an unrecognized kind are logged and skipped.
func (r *TaskEventRepository) FetchSince(ctx context.Context, since time.Time) ([]broker.BackgroundTaskEvent, error) {
	query := `
		SELECT session_id, kind, occurred_at, duration_seconds
		FROM background_task_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, errors.NewStorageError("fetch_task_events", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var raw []taskEventRow
	for rows.Next() {
		var row taskEventRow
		if err := rows.Scan(&row.sessionID, &row.kind, &row.occurredAt, &row.durationSeconds); err != nil {
			return nil, errors.NewStorageError("fetch_task_events", err.Error()).WithCause(err)
		}
		raw = append(raw, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("fetch_task_events", err.Error()).WithCause(err)
	}

	return r.parseTaskEvents(raw), nil
}

func (r *TaskEventRepository) parseTaskEvents(raw []taskEventRow) []broker.BackgroundTaskEvent {
	var events []broker.BackgroundTaskEvent
	for _, row := range raw {
		kind, ok := taskEventKindFromString(row.kind)
		if !ok {
			r.logger.Warn("skipping task event with unrecognized kind",
				zap.String("kind", row.kind),
				zap.String("session_id", row.sessionID))
			continue
		}
		events = append(events, broker.BackgroundTaskEvent{
			SessionID:       row.sessionID,
			Kind:            kind,
			Timestamp:       row.occurredAt,
			DurationSeconds: row.durationSeconds,
		})
	}
	return events
}

// DeleteOlderThan prunes task events older than the cutoff.
func (r *TaskEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	query := `DELETE FROM background_task_events WHERE occurred_at < $1`
	if _, err := r.db.Exec(ctx, query, cutoff); err != nil {
		return errors.NewStorageError("delete_task_events", err.Error()).WithCause(err)
	}
	return nil
}

func taskEventKindFromString(s string) (broker.TaskEventKind, bool) {
	switch s {
	case "started":
		return broker.TaskStarted, true
	case "completed":
		return broker.TaskCompleted, true
	case "terminated":
		return broker.TaskTerminated, true
	case "expired":
		return broker.TaskExpired, true
	default:
		return 0, false
	}
}
