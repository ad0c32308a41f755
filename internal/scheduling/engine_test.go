package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/infrastructure/memory"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
)

var recordDate = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.ScheduleStore
	records *memory.RecordSource
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
	engine  *Engine
	manager *Manager
	queries *Queries
}

func newFixture(t *testing.T, dir Directory) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	f := &fixture{
		store:   memory.NewScheduleStore(),
		records: memory.NewRecordSource(),
		metrics: metrics.New(prometheus.NewRegistry()),
		logs:    logs,
	}
	f.engine = NewEngine(f.store, f.records, dir, f.metrics, logger)
	f.manager = NewManager(f.store, f.metrics, logger)
	f.queries = NewQueries(f.store, 3)
	return f
}

func (f *fixture) put(t *testing.T, rec *clinical.Record) {
	t.Helper()
	if err := f.records.Put(rec); err != nil {
		t.Fatalf("put record: %v", err)
	}
}

func prescribing(id, patient string, lines ...clinical.PrescriptionLine) *clinical.Record {
	return &clinical.Record{
		ID:         id,
		PatientID:  patient,
		Kind:       "EMR",
		RecordDate: recordDate,
		Diagnoses:  []clinical.Diagnosis{{Name: "Infection", Prescriptions: lines}},
	}
}

func line(drug, freq string) clinical.PrescriptionLine {
	return clinical.PrescriptionLine{DrugName: drug, Dosage: "500mg", Frequency: freq}
}

func entryNamed(t *testing.T, s *schedule.Schedule, drug string) *schedule.Entry {
	t.Helper()
	for _, e := range s.Medicines {
		if e.DrugName == drug {
			return e
		}
	}
	t.Fatalf("no entry for %s in schedule %s", drug, s.ID)
	return nil
}

func historyTypes(e *schedule.Entry) []schedule.ChangeType {
	out := make([]schedule.ChangeType, 0, len(e.History))
	for _, h := range e.History {
		out = append(out, h.ChangeType)
	}
	return out
}

func TestEngine_AmoxicillinLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))
	sum, err := f.engine.RecordCreated(ctx, "R1")
	if err != nil {
		t.Fatalf("created: %v", err)
	}
	if !sum.Created || len(sum.Started) != 1 || sum.PatientID != "P1" {
		t.Fatalf("unexpected summary %+v", sum)
	}

	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-1-1")))
	if sum, err = f.engine.RecordUpdated(ctx, "R1"); err != nil {
		t.Fatal(err)
	}
	if len(sum.Modified) != 1 {
		t.Fatalf("expected one modified, got %+v", sum.Result)
	}

	f.put(t, prescribing("R1", "P1"))
	if sum, err = f.engine.RecordUpdated(ctx, "R1"); err != nil {
		t.Fatal(err)
	}
	if len(sum.Stopped) != 1 {
		t.Fatalf("expected one stopped, got %+v", sum.Result)
	}

	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-1-1")))
	if sum, err = f.engine.RecordUpdated(ctx, "R1"); err != nil {
		t.Fatal(err)
	}
	if len(sum.Restarted) != 1 {
		t.Fatalf("expected one restarted, got %+v", sum.Result)
	}

	s, err := f.store.Get(ctx, sum.ScheduleID)
	if err != nil {
		t.Fatal(err)
	}
	e := entryNamed(t, s, "Amoxicillin")
	want := []schedule.ChangeType{schedule.ChangeStarted, schedule.ChangeModified, schedule.ChangeStopped, schedule.ChangeStarted}
	got := historyTypes(e)
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
	if e.Status != schedule.StatusActive || e.EndDate != nil {
		t.Errorf("restarted entry should be active without end date, got %s %v", e.Status, e.EndDate)
	}
	if err := e.VerifyHistory(); err != nil {
		t.Errorf("history chain broken: %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.HistoryEvents.WithLabelValues("Started", "Doctor")); got != 2 {
		t.Errorf("started history metric = %v, want 2", got)
	}
}

func TestEngine_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1"), line("Paracetamol", "0-0-1")))

	first, err := f.engine.RecordCreated(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.Get(ctx, first.ScheduleID)
	events := len(f.store.Events())

	for i := 0; i < 3; i++ {
		sum, err := f.engine.RecordUpdated(ctx, "R1")
		if err != nil {
			t.Fatal(err)
		}
		if sum.Changed() || len(sum.Unchanged) != 2 {
			t.Fatalf("replay %d changed the schedule: %+v", i, sum.Result)
		}
	}

	after, _ := f.store.Get(ctx, first.ScheduleID)
	if after.Version != before.Version {
		t.Errorf("version moved on replay: %d -> %d", before.Version, after.Version)
	}
	if len(f.store.Events()) != events {
		t.Errorf("replay emitted events")
	}
	if got := testutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues("updated", "unchanged")); got != 3 {
		t.Errorf("unchanged outcome count = %v", got)
	}
}

func TestEngine_SchedulesAreScopedByRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))
	f.put(t, prescribing("R2", "P1", line("Amoxicillin", "1-1-1")))

	s1, err := f.engine.RecordCreated(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := f.engine.RecordCreated(ctx, "R2")
	if err != nil {
		t.Fatal(err)
	}
	if s1.ScheduleID == s2.ScheduleID {
		t.Fatal("records must get separate schedules")
	}

	f.put(t, prescribing("R2", "P1"))
	if _, err := f.engine.RecordUpdated(ctx, "R2"); err != nil {
		t.Fatal(err)
	}
	r1, _ := f.store.Get(ctx, s1.ScheduleID)
	if e := entryNamed(t, r1, "Amoxicillin"); e.Status != schedule.StatusActive || len(e.History) != 1 {
		t.Errorf("R1 entry touched by R2 update: %s %v", e.Status, historyTypes(e))
	}
}

func TestEngine_NoMedicinesFound(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1"))

	_, err := f.engine.RecordCreated(context.Background(), "R1")
	if !errors.Is(err, schedule.ErrNoMedicinesFound) {
		t.Fatalf("expected ErrNoMedicinesFound, got %v", err)
	}
	list, _ := f.store.ListByPatient(context.Background(), "P1", false)
	if len(list) != 0 {
		t.Errorf("no schedule should be stored, got %d", len(list))
	}
	if got := testutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues("created", "no_medicines_found")); got != 1 {
		t.Errorf("outcome metric = %v", got)
	}
}

func TestEngine_Errors(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing record id", Request{}, schedule.ErrValidation},
		{"unknown record", Request{RecordID: "nope"}, schedule.ErrNotFound},
		{"other patient", Request{RecordID: "R1", PatientID: "P2"}, schedule.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reconcile(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngine_ConcurrentReconcileCreatesOneSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RecordUpdated(ctx, "R1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("reconcile: %v", err)
		}
	}

	list, _ := f.store.ListByPatient(ctx, "P1", false)
	if len(list) != 1 {
		t.Fatalf("expected one schedule, got %d", len(list))
	}
	if n := len(list[0].Medicines); n != 1 {
		t.Errorf("expected one entry, got %d", n)
	}
}

func TestEngine_FailedCommitLeavesScheduleIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))
	first, err := f.engine.RecordCreated(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}

	f.store.BeforeCommit = func(*schedule.Schedule) error { return errors.New("disk full") }
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-1-1"), line("Ibuprofen", "1-0-0")))
	if _, err := f.engine.RecordUpdated(ctx, "R1"); !errors.Is(err, schedule.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	s, _ := f.store.Get(ctx, first.ScheduleID)
	if len(s.Medicines) != 1 || s.Medicines[0].Frequency != "1-0-1" || len(s.Medicines[0].History) != 1 {
		t.Errorf("failed commit leaked changes: %+v", s.Medicines[0])
	}

	f.store.BeforeCommit = nil
	sum, err := f.engine.RecordUpdated(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Modified) != 1 || len(sum.Started) != 1 {
		t.Errorf("retry should apply the full diff, got %+v", sum.Result)
	}
}

type failingDirectory struct{}

func (failingDirectory) PrescriberName(context.Context, string) (string, error) {
	return "", errors.New("directory unavailable")
}

type staticDirectory map[string]string

func (d staticDirectory) PrescriberName(_ context.Context, id string) (string, error) {
	return d[id], nil
}

func TestEngine_PrescriberEnrichment(t *testing.T) {
	ctx := context.Background()

	t.Run("resolved", func(t *testing.T) {
		f := newFixture(t, staticDirectory{"DR1": "Dr. Rao"})
		rec := prescribing("R1", "P1", line("Amoxicillin", "1-0-1"))
		rec.PrescriberID = "DR1"
		f.put(t, rec)
		sum, err := f.engine.RecordCreated(ctx, "R1")
		if err != nil {
			t.Fatal(err)
		}
		s, _ := f.store.Get(ctx, sum.ScheduleID)
		if src := s.Medicines[0].Source; src.PrescriberName != "Dr. Rao" || src.PrescriberID != "DR1" {
			t.Errorf("source = %+v", src)
		}
	})

	t.Run("directory down", func(t *testing.T) {
		f := newFixture(t, failingDirectory{})
		rec := prescribing("R1", "P1", line("Amoxicillin", "1-0-1"))
		rec.PrescriberID = "DR1"
		f.put(t, rec)
		sum, err := f.engine.RecordCreated(ctx, "R1")
		if err != nil {
			t.Fatalf("lookup failure must not block reconciliation: %v", err)
		}
		s, _ := f.store.Get(ctx, sum.ScheduleID)
		if src := s.Medicines[0].Source; src.PrescriberName != "" || src.PrescriberID != "DR1" {
			t.Errorf("source = %+v", src)
		}
		if n := f.logs.FilterMessage("prescriber lookup failed").Len(); n != 1 {
			t.Errorf("expected one lookup warning, got %d", n)
		}
	})
}

func TestEngine_ExtractionWarningsAreLogged(t *testing.T) {
	f := newFixture(t, nil)
	rec := prescribing("R1", "P1", line("Amoxicillin", "1-0-1"))
	rec.PastHistory = []clinical.PastHistory{{DrugNames: []string{"Metformin", "Aspirin"}, Frequencies: []string{"1-0-1"}}}
	f.put(t, rec)

	sum, err := f.engine.RecordCreated(context.Background(), "R1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Warnings) != 1 || len(sum.Started) != 1 {
		t.Fatalf("expected one warning and one started, got %+v", sum)
	}
	logged := f.logs.FilterMessage("skipped record entry").All()
	if len(logged) != 1 {
		t.Fatalf("expected one warning log, got %d", len(logged))
	}
	if got := logged[0].ContextMap()["section"]; got != clinical.SectionPastHistory {
		t.Errorf("section = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.ExtractionWarnings.WithLabelValues(clinical.SectionPastHistory)); got != 1 {
		t.Errorf("warning metric = %v", got)
	}
}

func TestEngine_CorrelationIDTagsEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, prescribing("R1", "P1", line("Amoxicillin", "1-0-1")))

	ctx := WithCorrelationID(context.Background(), "req-42")
	if _, err := f.engine.RecordCreated(ctx, "R1"); err != nil {
		t.Fatal(err)
	}
	events := f.store.Events()
	if len(events) == 0 {
		t.Fatal("expected committed events")
	}
	for _, ev := range events {
		if ev.CorrelationID != "req-42" {
			t.Errorf("event %s correlation = %q", ev.EventType, ev.CorrelationID)
		}
	}
}
