package schedule

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func amox(freq string) Candidate {
	return Candidate{DrugName: "Amoxicillin", Fields: Fields{Dosage: "500mg", Frequency: freq}, Origin: OriginPrescription}
}

func changeTypes(e *Entry) []ChangeType {
	out := make([]ChangeType, 0, len(e.History))
	for _, h := range e.History {
		out = append(out, h.ChangeType)
	}
	return out
}

func equalTypes(got []ChangeType, want ...ChangeType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReconcile_AmoxicillinLifecycle(t *testing.T) {
	ref := RecordRef{ID: "R1", Kind: "EMR", Date: t0}

	s, res, err := NewRecordSchedule("P1", ref, []Candidate{amox("1-0-1")}, t0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !res.Created || len(res.Started) != 1 {
		t.Fatalf("expected created schedule with one started medicine, got %+v", res)
	}
	e := s.Medicines[0]
	if e.Status != StatusActive || !equalTypes(changeTypes(e), ChangeStarted) {
		t.Fatalf("after create: status=%s history=%v", e.Status, changeTypes(e))
	}

	if _, err := s.Reconcile(ref, []Candidate{amox("1-1-1")}, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if e.Frequency != "1-1-1" || !equalTypes(changeTypes(e), ChangeStarted, ChangeModified) {
		t.Fatalf("after modify: freq=%s history=%v", e.Frequency, changeTypes(e))
	}
	mod := e.History[1]
	if mod.PreviousSchedule.Frequency != "1-0-1" || mod.NewSchedule.Frequency != "1-1-1" {
		t.Errorf("modified event should carry previous and new frequency, got %+v -> %+v", mod.PreviousSchedule, mod.NewSchedule)
	}
	if mod.Reason != "Updated in new EMR" {
		t.Errorf("unexpected modify reason %q", mod.Reason)
	}

	if _, err := s.Reconcile(ref, nil, t0.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusStopped || !equalTypes(changeTypes(e), ChangeStarted, ChangeModified, ChangeStopped) {
		t.Fatalf("after stop: status=%s history=%v", e.Status, changeTypes(e))
	}
	if stop := e.History[2]; stop.PreviousSchedule == nil || stop.PreviousSchedule.Frequency != "1-1-1" {
		t.Errorf("stopped event should mirror the state before the change, got %+v", stop.PreviousSchedule)
	}

	res, err = s.Reconcile(ref, []Candidate{amox("1-1-1")}, t0.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Restarted) != 1 {
		t.Errorf("expected one restarted medicine, got %+v", res)
	}
	if e.Status != StatusActive || !equalTypes(changeTypes(e), ChangeStarted, ChangeModified, ChangeStopped, ChangeStarted) {
		t.Fatalf("after restart: status=%s history=%v", e.Status, changeTypes(e))
	}
	if e.History[3].Reason != "Restarted in new EMR" {
		t.Errorf("unexpected restart reason %q", e.History[3].Reason)
	}
	if err := e.VerifyHistory(); err != nil {
		t.Errorf("history chain should verify: %v", err)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	ref := RecordRef{ID: "R1"}
	cands := []Candidate{
		amox("1-0-1"),
		{DrugName: "Paracetamol", Fields: Fields{Dosage: "650mg", Frequency: "SOS", Timing: []string{"After Food"}}},
	}
	s, _, err := NewRecordSchedule("P1", ref, cands, t0)
	if err != nil {
		t.Fatal(err)
	}
	s.MarkCommitted(1)

	res, err := s.Reconcile(ref, cands, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() || s.Dirty() || len(s.Changes()) != 0 {
		t.Fatalf("second identical pass should change nothing: %+v", res)
	}
	if len(res.Unchanged) != 2 {
		t.Errorf("expected both medicines unchanged, got %v", res.Unchanged)
	}
	for _, e := range s.Medicines {
		if len(e.History) != 1 {
			t.Errorf("%s: expected 1 history event, got %d", e.DrugName, len(e.History))
		}
	}
}

func TestReconcile_ScopedToRecord(t *testing.T) {
	refA := RecordRef{ID: "A"}
	refB := RecordRef{ID: "B"}
	s, _, err := NewRecordSchedule("P1", refA, []Candidate{amox("1-0-1")}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddSelfMedicine(SelfMedicine{DrugName: "Vitamin D", Dosage: "1 tab", Frequency: "0-0-1"}, t0); err != nil {
		t.Fatal(err)
	}
	// Same drug tracked independently for another record.
	if _, err := s.Reconcile(refB, []Candidate{amox("1-1-1")}, t0); err != nil {
		t.Fatal(err)
	}
	before := make(map[string]int)
	for _, e := range s.Medicines {
		before[e.ID] = len(e.History)
	}

	if _, err := s.Reconcile(refA, nil, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	for _, e := range s.Medicines {
		switch {
		case e.RecordID() == "A":
			if e.Status != StatusStopped {
				t.Errorf("record A entry should be stopped, got %s", e.Status)
			}
		default:
			if len(e.History) != before[e.ID] || e.Status != StatusActive {
				t.Errorf("entry %s (%s) outside record A was touched", e.DrugName, e.ScheduleType)
			}
		}
	}
}

func TestReconcile_AlreadyStoppedNotStoppedAgain(t *testing.T) {
	ref := RecordRef{ID: "R1"}
	s, _, _ := NewRecordSchedule("P1", ref, []Candidate{amox("1-0-1")}, t0)
	if _, err := s.Reconcile(ref, nil, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	res, err := s.Reconcile(ref, nil, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("stopping an already stopped entry should be a no-op, got %+v", res)
	}
	if n := len(s.Medicines[0].History); n != 2 {
		t.Errorf("expected 2 history events, got %d", n)
	}
}

func TestReconcile_TimingAndInstructionsAreDiffed(t *testing.T) {
	ref := RecordRef{ID: "R1"}
	base := Candidate{DrugName: "Metformin", Fields: Fields{Dosage: "500mg", Frequency: "1-0-1", Timing: []string{"After Food"}}}
	s, _, _ := NewRecordSchedule("P1", ref, []Candidate{base}, t0)

	tests := []struct {
		name   string
		mutate func(c *Candidate)
		change bool
	}{
		{"same", func(c *Candidate) {}, false},
		{"case sensitive dosage", func(c *Candidate) { c.Dosage = "500MG" }, true},
		{"timing", func(c *Candidate) { c.Timing = []string{"Before Food"} }, true},
		{"instructions", func(c *Candidate) { c.Instructions = "with water" }, true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Timing = append([]string(nil), base.Timing...)
			tt.mutate(&c)
			res, err := s.Reconcile(ref, []Candidate{c}, t0.Add(time.Duration(i+1)*time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if got := len(res.Modified) == 1; got != tt.change {
				t.Errorf("modified=%v, want %v", got, tt.change)
			}
			// restore baseline for the next case
			if _, err := s.Reconcile(ref, []Candidate{base}, t0.Add(time.Duration(i+1)*time.Minute)); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestNewRecordSchedule_NoMedicines(t *testing.T) {
	_, _, err := NewRecordSchedule("P1", RecordRef{ID: "R9"}, nil, t0)
	if !errors.Is(err, ErrNoMedicinesFound) {
		t.Fatalf("expected ErrNoMedicinesFound, got %v", err)
	}
	if KindOf(err) != KindNoMedicinesFound || !IsTerminal(err) {
		t.Errorf("unexpected classification for %v", err)
	}
}

func TestHistory_MonotonicAndTamperEvident(t *testing.T) {
	ref := RecordRef{ID: "R1"}
	s, _, _ := NewRecordSchedule("P1", ref, []Candidate{amox("1-0-1")}, t0)
	// A clock that steps backwards must not reorder history.
	if _, err := s.Reconcile(ref, []Candidate{amox("1-1-1")}, t0.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	e := s.Medicines[0]
	if e.History[1].ChangedAt.Before(e.History[0].ChangedAt) {
		t.Fatal("changedAt must be non-decreasing")
	}
	if err := e.VerifyHistory(); err != nil {
		t.Fatalf("untouched history should verify: %v", err)
	}

	e.History[0].NewSchedule.Frequency = "0-0-1"
	if err := e.VerifyHistory(); err == nil {
		t.Error("edited history should fail verification")
	}
}

func TestSchedule_EmitsEventPerHistoryAppend(t *testing.T) {
	ref := RecordRef{ID: "R1"}
	s, _, _ := NewRecordSchedule("P1", ref, []Candidate{amox("1-0-1"), {DrugName: "Ibuprofen", Fields: Fields{Frequency: "SOS"}}}, t0)
	got := make([]EventType, 0)
	for _, ev := range s.Changes() {
		got = append(got, ev.EventType)
		if ev.PatientID != "P1" || ev.RecordID != "R1" || ev.AggregateType != AggregateType {
			t.Errorf("event %s missing routing fields: %+v", ev.EventType, ev)
		}
	}
	want := []EventType{EventScheduleCreated, EventMedicineStarted, EventMedicineStarted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
