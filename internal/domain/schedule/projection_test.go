package schedule

import (
	"testing"
	"time"
)

func TestCrossSourceSummary_MostRecentWins(t *testing.T) {
	r1 := RecordRef{ID: "R1", Date: t0}
	r2 := RecordRef{ID: "R2", Date: t0.AddDate(0, 1, 0)}
	r3 := RecordRef{ID: "R3", Date: t0.AddDate(0, 2, 0)}

	s1, _, _ := NewRecordSchedule("P1", r1, []Candidate{amox("1-0-1"), {DrugName: "Ibuprofen", Fields: Fields{Frequency: "SOS"}}}, t0)
	s2, _, _ := NewRecordSchedule("P1", r2, []Candidate{amox("1-1-1")}, t0)
	s3, _, _ := NewRecordSchedule("P1", r3, []Candidate{amox("0-0-1")}, t0)

	rows := CrossSourceSummary([]*Schedule{s1, s2, s3}, []string{"R1", "R2"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].DrugName != "Amoxicillin" || rows[0].Frequency != "1-1-1" || rows[0].ScheduleID != s2.ID {
		t.Errorf("amoxicillin should come from R2, got %+v", rows[0])
	}
	if rows[1].DrugName != "Ibuprofen" {
		t.Errorf("unexpected second row %+v", rows[1])
	}
}

func TestCrossSourceSummary_TieBreakOnRecordDate(t *testing.T) {
	start := t0
	older := RecordRef{ID: "R-old", Date: t0.AddDate(0, -1, 0)}
	later := RecordRef{ID: "R-new", Date: t0}
	a, _, _ := NewRecordSchedule("P1", older, []Candidate{amox("1-0-0")}, t0)
	b, _, _ := NewRecordSchedule("P1", later, []Candidate{amox("0-1-0")}, t0)
	a.Medicines[0].StartDate = start
	b.Medicines[0].StartDate = start

	rows := CrossSourceSummary([]*Schedule{b, a}, []string{"R-old", "R-new"})
	if len(rows) != 1 || rows[0].Source.RecordID != "R-new" {
		t.Fatalf("later record date should win the tie, got %+v", rows)
	}
}

func TestProject_OmitsHistoryKeepsOrder(t *testing.T) {
	s, _, _ := NewRecordSchedule("P1", RecordRef{ID: "R1"}, []Candidate{
		{DrugName: "B", Fields: Fields{Frequency: "1"}},
		{DrugName: "A", Fields: Fields{Frequency: "1"}},
	}, t0)
	v := Project(s)
	if len(v.Medicines) != 2 || v.Medicines[0].DrugName != "B" || v.Medicines[1].DrugName != "A" {
		t.Errorf("projection should keep insertion order, got %+v", v.Medicines)
	}
}

func TestLatestActive(t *testing.T) {
	a, _ := NewSelfSchedule("P1", t0)
	b, _ := NewSelfSchedule("P1", t0.Add(time.Hour))
	c, _ := NewSelfSchedule("P1", t0.Add(2*time.Hour))
	if err := c.Deactivate(t0.Add(3 * time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got := LatestActive([]*Schedule{a, b, c}); got != b {
		t.Errorf("expected most recently modified active schedule")
	}
	if got := LatestActive([]*Schedule{c}); got != nil {
		t.Errorf("expected nil when nothing is active")
	}
}
