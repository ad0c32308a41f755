package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Scope identifies the unit of write serialization: one originating record of
// one patient, or the patient's self-managed set when RecordID is empty.
type Scope struct {
	PatientID string
	RecordID  string
}

// SelfScope returns the scope of a patient's default self-schedule.
func SelfScope(patientID string) Scope { return Scope{PatientID: patientID} }

// IsSelf reports whether the scope is the patient's self-managed set.
func (s Scope) IsSelf() bool { return s.RecordID == "" }

// Key is a stable string form of the scope, used for locking.
func (s Scope) Key() string {
	if s.IsSelf() {
		return "self:" + s.PatientID
	}
	return "record:" + s.PatientID + ":" + s.RecordID
}

// Schedule is the aggregate root. It is persisted and replaced as one unit.
type Schedule struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patientId"`
	RecordID     string     `json:"recordId,omitempty"`
	Title        string     `json:"title"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	IsActive     bool       `json:"isActive"`
	IsDefault    bool       `json:"isDefault"`
	Version      int        `json:"version"`
	LastModified time.Time  `json:"lastModified"`
	Medicines    []*Entry   `json:"medicines"`

	changes []*Event
	dirty   bool
}

// NewSelfSchedule creates the patient's default self-schedule.
func NewSelfSchedule(patientID string, now time.Time) (*Schedule, error) {
	s := &Schedule{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		Title:        DefaultSelfTitle,
		StartDate:    now.UTC(),
		IsActive:     true,
		IsDefault:    true,
		LastModified: now.UTC(),
		Medicines:    make([]*Entry, 0),
	}
	if err := s.created(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRecordSchedule creates the schedule tracking one record and starts every
// candidate in it. A record with no candidates yields ErrNoMedicinesFound.
func NewRecordSchedule(patientID string, ref RecordRef, candidates []Candidate, now time.Time) (*Schedule, *Result, error) {
	if len(candidates) == 0 {
		return nil, nil, &Error{Kind: KindNoMedicinesFound, ID: ref.ID, Msg: "record has no medicines to schedule"}
	}
	start := now.UTC()
	if !ref.Date.IsZero() {
		start = ref.Date.UTC()
	}
	s := &Schedule{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		RecordID:     ref.ID,
		Title:        ref.title(),
		StartDate:    start,
		IsActive:     true,
		LastModified: now.UTC(),
		Medicines:    make([]*Entry, 0, len(candidates)),
	}
	if err := s.created(); err != nil {
		return nil, nil, err
	}
	res, err := s.Reconcile(ref, candidates, now)
	if err != nil {
		return nil, nil, err
	}
	res.Created = true
	return s, res, nil
}

func (s *Schedule) created() error {
	s.dirty = true
	return s.emit(EventScheduleCreated, &ScheduleCreatedData{
		ScheduleID: s.ID,
		PatientID:  s.PatientID,
		RecordID:   s.RecordID,
		Title:      s.Title,
	})
}

// Scope returns the write scope the schedule belongs to.
func (s *Schedule) Scope() Scope {
	return Scope{PatientID: s.PatientID, RecordID: s.RecordID}
}

// IsNew reports whether the schedule has never been persisted.
func (s *Schedule) IsNew() bool { return s.Version == 0 }

// Dirty reports whether the schedule has uncommitted mutations.
func (s *Schedule) Dirty() bool { return s.dirty }

// Changes returns uncommitted events
func (s *Schedule) Changes() []*Event { return s.changes }

// MarkCommitted clears uncommitted state after a successful save at version.
func (s *Schedule) MarkCommitted(version int) {
	s.Version = version
	s.changes = nil
	s.dirty = false
}

// OwnedBy reports whether the schedule belongs to patientID.
func (s *Schedule) OwnedBy(patientID string) bool { return s.PatientID == patientID }

// Medicine returns the entry with the given id.
func (s *Schedule) Medicine(id string) (*Entry, error) {
	for _, e := range s.Medicines {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, NotFound(id, "medicine not found in schedule %s", s.ID)
}

// Deactivate removes the schedule from the active set without touching its entries.
func (s *Schedule) Deactivate(now time.Time) error {
	if !s.IsActive {
		return nil
	}
	at := now.UTC()
	s.IsActive = false
	s.EndDate = &at
	s.touch(now)
	return s.emit(EventScheduleDeactivated, &ScheduleDeactivatedData{ScheduleID: s.ID, DeactivatedAt: at})
}

func (s *Schedule) touch(now time.Time) {
	s.dirty = true
	if now.UTC().After(s.LastModified) {
		s.LastModified = now.UTC()
	}
}

func (s *Schedule) emit(t EventType, data interface{}) error {
	ev, err := NewEvent(s.ID, t, data)
	if err != nil {
		return Internal(s.ID, err)
	}
	ev.PatientID = s.PatientID
	ev.RecordID = s.RecordID
	s.changes = append(s.changes, ev)
	return nil
}

// record appends ev to e's history and emits the matching domain event.
func (s *Schedule) record(e *Entry, ev HistoryEvent, now time.Time) error {
	sealed := e.appendHistory(ev)
	s.touch(now)
	return s.emit(eventTypeFor(sealed.ChangeType), &MedicineChangedData{
		ScheduleID:   s.ID,
		MedicineID:   e.ID,
		DrugName:     e.DrugName,
		ScheduleType: e.ScheduleType,
		Status:       e.Status,
		History:      sealed,
	})
}
