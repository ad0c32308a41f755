package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// TopicScheduleEvents receives every committed schedule event.
const TopicScheduleEvents = "medication.schedule.events"

// ScheduleStore persists schedules as JSONB documents. Writes to one scope
// are serialized with a transaction-scoped advisory lock and guarded by an
// optimistic version check; events go to the outbox in the same transaction.
type ScheduleStore struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
	tracer trace.Tracer
}

var _ schedule.Store = (*ScheduleStore)(nil)

// NewScheduleStore creates a store. An empty topic uses TopicScheduleEvents.
func NewScheduleStore(pool *pgxpool.Pool, topic string, logger *zap.Logger) *ScheduleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = TopicScheduleEvents
	}
	return &ScheduleStore{pool: pool, topic: topic, logger: logger, tracer: otel.Tracer("schedule_store")}
}

const selectSchedule = `SELECT doc, version FROM medicine_schedules`

func (s *ScheduleStore) UpdateScope(ctx context.Context, scope schedule.Scope, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_store.update_scope",
		trace.WithAttributes(attribute.String("scope", scope.Key())))
	defer span.End()

	return s.inTx(ctx, scope.Key(), func(tx pgx.Tx) (*schedule.Schedule, error) {
		cur, err := scanSchedule(tx.QueryRow(ctx,
			selectSchedule+` WHERE scope_key = $1 AND is_active`, scope.Key()), scope.Key())
		if err != nil && schedule.KindOf(err) != schedule.KindNotFound {
			return nil, err
		}
		return s.apply(ctx, tx, cur, fn)
	})
}

func (s *ScheduleStore) UpdateByID(ctx context.Context, id string, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_store.update_by_id",
		trace.WithAttributes(attribute.String("schedule_id", id)))
	defer span.End()

	peek, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.inTx(ctx, peek.Scope().Key(), func(tx pgx.Tx) (*schedule.Schedule, error) {
		cur, err := scanSchedule(tx.QueryRow(ctx, selectSchedule+` WHERE id = $1 FOR UPDATE`, id), id)
		if err != nil {
			return nil, err
		}
		return s.apply(ctx, tx, cur, fn)
	})
}

// inTx runs body in a transaction holding the advisory lock of scopeKey.
func (s *ScheduleStore) inTx(ctx context.Context, scopeKey string, body func(pgx.Tx) (*schedule.Schedule, error)) (*schedule.Schedule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, schedule.Internal(scopeKey, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scopeKey); err != nil {
		return nil, schedule.Internal(scopeKey, fmt.Errorf("lock scope: %w", err))
	}

	saved, err := body(tx)
	if err != nil {
		return nil, err
	}
	if saved == nil || (!saved.IsNew() && !saved.Dirty()) {
		return saved, nil
	}

	version := saved.Version + 1
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(saved.ID, err)
	}
	saved.MarkCommitted(version)
	return saved, nil
}

// apply runs fn and writes the result without committing.
func (s *ScheduleStore) apply(ctx context.Context, tx pgx.Tx, cur *schedule.Schedule, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if !next.IsNew() && !next.Dirty() {
		return next, nil
	}
	if err := s.write(ctx, tx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *ScheduleStore) write(ctx context.Context, tx pgx.Tx, next *schedule.Schedule) error {
	version := next.Version + 1
	snap := *next
	snap.Version = version
	doc, err := json.Marshal(&snap)
	if err != nil {
		return schedule.Internal(next.ID, err)
	}

	var recordID *string
	if next.RecordID != "" {
		recordID = &next.RecordID
	}
	sources := sourceRecordIDs(next)

	if next.IsNew() {
		_, err = tx.Exec(ctx, `
			INSERT INTO medicine_schedules
				(id, patient_id, record_id, scope_key, is_active, version, start_date, last_modified, source_record_ids, doc)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			next.ID, next.PatientID, recordID, next.Scope().Key(), next.IsActive, version,
			next.StartDate, next.LastModified, sources, doc)
		if err != nil {
			return classify(next.ID, err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE medicine_schedules
			SET is_active = $3, version = $4, last_modified = $5, source_record_ids = $6, doc = $7, updated_at = NOW()
			WHERE id = $1 AND version = $2`,
			next.ID, next.Version, next.IsActive, version, next.LastModified, sources, doc)
		if err != nil {
			return classify(next.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return schedule.Conflict(next.ID, "schedule changed concurrently (have version %d)", next.Version)
		}
	}

	for _, ev := range next.Changes() {
		ev.Version = version
		payload, err := json.Marshal(ev)
		if err != nil {
			return schedule.Internal(next.ID, err)
		}
		if err := WriteEntry(ctx, tx, &OutboxEntry{
			AggregateID:   ev.AggregateID,
			AggregateType: ev.AggregateType,
			EventType:     string(ev.EventType),
			Payload:       payload,
			KafkaTopic:    s.topic,
			KafkaKey:      next.PatientID,
		}); err != nil {
			return schedule.Internal(next.ID, err)
		}
	}
	s.logger.Debug("schedule written",
		zap.String("schedule_id", next.ID),
		zap.Int("version", version),
		zap.Int("events", len(next.Changes())))
	return nil
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx, selectSchedule+` WHERE id = $1`, id), id)
}

func (s *ScheduleStore) FindActive(ctx context.Context, scope schedule.Scope) (*schedule.Schedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx, selectSchedule+` WHERE scope_key = $1 AND is_active`, scope.Key()), scope.Key())
}

func (s *ScheduleStore) ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*schedule.Schedule, error) {
	return s.list(ctx, selectSchedule+`
		WHERE patient_id = $1 AND (is_active OR NOT $2)
		ORDER BY start_date, id`, patientID, activeOnly)
}

func (s *ScheduleStore) ListByRecords(ctx context.Context, patientID string, recordIDs []string) ([]*schedule.Schedule, error) {
	return s.list(ctx, selectSchedule+`
		WHERE patient_id = $1 AND source_record_ids && $2
		ORDER BY start_date, id`, patientID, recordIDs)
}

func (s *ScheduleStore) list(ctx context.Context, query string, args ...any) ([]*schedule.Schedule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, schedule.Internal("", err)
	}
	defer rows.Close()

	out := make([]*schedule.Schedule, 0)
	for rows.Next() {
		sc, err := scanSchedule(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, schedule.Internal("", err)
	}
	return out, nil
}

func scanSchedule(row pgx.Row, id string) (*schedule.Schedule, error) {
	var (
		doc     []byte
		version int
	)
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.NotFound(id, "schedule not found")
		}
		return nil, schedule.Internal(id, err)
	}
	var sc schedule.Schedule
	if err := json.Unmarshal(doc, &sc); err != nil {
		return nil, schedule.Internal(id, err)
	}
	sc.Version = version
	return &sc, nil
}

// sourceRecordIDs lists the distinct records the schedule's entries came from.
func sourceRecordIDs(sc *schedule.Schedule) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range sc.Medicines {
		if id := e.RecordID(); id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// classify maps unique and serialization violations to ErrConflict.
func classify(id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001":
			return schedule.Conflict(id, "concurrent write: %s", pgErr.Message)
		}
	}
	return schedule.Internal(id, err)
}
