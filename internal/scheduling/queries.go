package scheduling

import (
	"context"
	"strings"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// DefaultSummaryMaxRecords bounds the record ids accepted by a summary query.
const DefaultSummaryMaxRecords = 20

// Queries serves read models. Nothing here mutates state.
type Queries struct {
	store      schedule.Store
	maxRecords int
}

// NewQueries creates the read side. maxRecords <= 0 uses the default.
func NewQueries(store schedule.Store, maxRecords int) *Queries {
	if maxRecords <= 0 {
		maxRecords = DefaultSummaryMaxRecords
	}
	return &Queries{store: store, maxRecords: maxRecords}
}

// GetActiveSchedules returns the patient's active schedules without history,
// ordered by start date.
func (q *Queries) GetActiveSchedules(ctx context.Context, patientID string) ([]schedule.View, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, schedule.Validation("patientId", "patientId is required")
	}
	list, err := q.store.ListByPatient(ctx, patientID, true)
	if err != nil {
		return nil, err
	}
	views := make([]schedule.View, 0, len(list))
	for _, s := range list {
		views = append(views, schedule.Project(s))
	}
	return views, nil
}

// GetSchedule returns one schedule owned by patientID, history included.
func (q *Queries) GetSchedule(ctx context.Context, patientID, scheduleID string) (*schedule.Schedule, error) {
	s, err := q.store.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := owned(s, patientID); err != nil {
		return nil, err
	}
	return s, nil
}

// MedicineHistory is the audit trail of one medicine.
type MedicineHistory struct {
	ScheduleID string                  `json:"scheduleId"`
	Medicine   schedule.MedicineView   `json:"medicine"`
	History    []schedule.HistoryEvent `json:"history"`
}

// GetMedicineHistory returns the ordered history of one medicine.
func (q *Queries) GetMedicineHistory(ctx context.Context, patientID, scheduleID, medicineID string) (*MedicineHistory, error) {
	s, err := q.GetSchedule(ctx, patientID, scheduleID)
	if err != nil {
		return nil, err
	}
	e, err := s.Medicine(medicineID)
	if err != nil {
		return nil, err
	}
	view := schedule.Project(s)
	out := &MedicineHistory{ScheduleID: s.ID, History: e.History}
	for _, mv := range view.Medicines {
		if mv.ID == e.ID {
			out.Medicine = mv
			break
		}
	}
	return out, nil
}

// MedicineVerification is the hash chain check of one medicine.
type MedicineVerification struct {
	MedicineID string `json:"medicineId"`
	DrugName   string `json:"drugName"`
	Events     int    `json:"events"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}

// Verification reports the integrity of every history in a schedule.
type Verification struct {
	ScheduleID string                 `json:"scheduleId"`
	Valid      bool                   `json:"valid"`
	Medicines  []MedicineVerification `json:"medicines"`
}

// VerifyHistory recomputes the hash chain of every medicine in a schedule.
// A broken chain is reported, not returned as an error.
func (q *Queries) VerifyHistory(ctx context.Context, scheduleID string) (*Verification, error) {
	s, err := q.store.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	out := &Verification{ScheduleID: s.ID, Valid: true, Medicines: make([]MedicineVerification, 0, len(s.Medicines))}
	for _, e := range s.Medicines {
		mv := MedicineVerification{MedicineID: e.ID, DrugName: e.DrugName, Events: len(e.History), Valid: true}
		if err := e.VerifyHistory(); err != nil {
			mv.Valid = false
			mv.Error = err.Error()
			out.Valid = false
		}
		out.Medicines = append(out.Medicines, mv)
	}
	return out, nil
}

// GetCrossSourceSummary returns, per drug, the most recent entry among the
// given records. Self entries never appear.
func (q *Queries) GetCrossSourceSummary(ctx context.Context, patientID string, recordIDs []string) ([]schedule.SummaryRow, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, schedule.Validation("patientId", "patientId is required")
	}
	ids := make([]string, 0, len(recordIDs))
	seen := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, schedule.Validation("recordIds", "at least one record id is required")
	}
	if len(ids) > q.maxRecords {
		return nil, schedule.Validation("recordIds", "at most %d record ids are allowed", q.maxRecords)
	}
	list, err := q.store.ListByRecords(ctx, patientID, ids)
	if err != nil {
		return nil, err
	}
	return schedule.CrossSourceSummary(list, ids), nil
}

// LatestActiveSchedule returns the patient's most recent active schedule.
func (q *Queries) LatestActiveSchedule(ctx context.Context, patientID string) (*schedule.Schedule, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, schedule.Validation("patientId", "patientId is required")
	}
	list, err := q.store.ListByPatient(ctx, patientID, true)
	if err != nil {
		return nil, err
	}
	s := schedule.LatestActive(list)
	if s == nil {
		return nil, schedule.NotFound(patientID, "no active schedule")
	}
	return s, nil
}
