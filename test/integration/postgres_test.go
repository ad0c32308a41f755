// Package integration runs the reconciliation stack against a real
// PostgreSQL. Set MEDSCHED_TEST_DATABASE_URL to enable it.
package integration

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/scheduling"
	"github.com/drfirst/go-medsched/pkg/idempotency"
)

type stack struct {
	pool    *pgxpool.Pool
	store   *postgres.ScheduleStore
	records *postgres.RecordSource
	engine  *scheduling.Engine
	queries *scheduling.Queries
}

func newStack(t *testing.T) *stack {
	t.Helper()
	url := os.Getenv("MEDSCHED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEDSCHED_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: url, MaxConns: 10})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := postgres.Migrate(ctx, pool, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := &stack{
		pool:    pool,
		store:   postgres.NewScheduleStore(pool, postgres.TopicScheduleEvents, logger),
		records: postgres.NewRecordSource(pool),
	}
	s.engine = scheduling.NewEngine(s.store, s.records, nil, nil, logger)
	s.queries = scheduling.NewQueries(s.store, scheduling.DefaultSummaryMaxRecords)
	return s
}

// fixture loads the sample record under fresh ids so runs do not collide.
func fixture(t *testing.T) *clinical.Record {
	t.Helper()
	data, err := os.ReadFile("../fixtures/record_r1.json")
	if err != nil {
		t.Skipf("fixture not found: %v", err)
	}
	var rec clinical.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	rec.ID = "R-" + uuid.NewString()
	rec.PatientID = "P-" + uuid.NewString()
	return &rec
}

func (s *stack) outboxCount(t *testing.T, scheduleID string) int {
	t.Helper()
	var n int
	if err := s.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM outbox WHERE aggregate_id = $1`, scheduleID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPostgres_ReconcileLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	rec := fixture(t)

	if _, err := s.records.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	sum, err := s.engine.RecordCreated(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Created || len(sum.Started) != 3 {
		t.Fatalf("first pass = %+v", sum)
	}
	written := s.outboxCount(t, sum.ScheduleID)
	if written == 0 {
		t.Fatal("no outbox entries written with the schedule")
	}

	again, err := s.engine.RecordUpdated(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed() || s.outboxCount(t, sum.ScheduleID) != written {
		t.Errorf("replay changed state: %+v", again)
	}

	rec.Diagnoses[0].Prescriptions[0].Frequency = "1-1-1"
	rec.Diagnoses[0].Prescriptions = rec.Diagnoses[0].Prescriptions[:1]
	if _, err := s.records.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	sum, err = s.engine.RecordUpdated(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Modified) != 1 || len(sum.Stopped) != 1 {
		t.Errorf("revision pass = %+v", sum)
	}

	v, err := s.queries.VerifyHistory(ctx, sum.ScheduleID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Errorf("stored history failed verification: %+v", v)
	}
	got, err := s.store.Get(ctx, sum.ScheduleID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d after two committing passes", got.Version)
	}
}

func TestPostgres_ConcurrentReconcileCreatesOneSchedule(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	rec := fixture(t)
	if _, err := s.records.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.engine.RecordCreated(ctx, rec.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent reconcile: %v", err)
	}

	list, err := s.store.ListByPatient(ctx, rec.PatientID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d schedules for one record", len(list))
	}
	for _, e := range list[0].Medicines {
		if len(e.History) != 1 {
			t.Errorf("%s has %d history events", e.DrugName, len(e.History))
		}
	}
}

func TestPostgres_SignalRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	rec := fixture(t)
	revision, err := s.records.Put(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}

	cfg := idempotency.DefaultInboxConfig()
	cfg.Terminal = schedule.IsTerminal
	inbox := idempotency.NewInbox(s.pool, cfg, zaptest.NewLogger(t))
	h := scheduling.NewSignalHandler(s.engine, inbox, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(scheduling.RecordSignal{RecordID: rec.ID, Kind: "created", Revision: revision})
	for i := 0; i < 3; i++ {
		if err := h.Handle(ctx, raw); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	found, err := s.store.FindActive(ctx, schedule.Scope{PatientID: rec.PatientID, RecordID: rec.ID})
	if err != nil {
		t.Fatal(err)
	}
	first := s.outboxCount(t, found.ID)
	if err := h.Handle(ctx, raw); err != nil {
		t.Fatal(err)
	}
	if s.outboxCount(t, found.ID) != first {
		t.Error("redelivered signal wrote new outbox entries")
	}

	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM inbox WHERE idempotency_key = $1`,
		idempotency.GenerateSignalKey(rec.ID, "created", revision)).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != string(idempotency.StatusFinished) {
		t.Errorf("inbox status = %q", status)
	}
}
