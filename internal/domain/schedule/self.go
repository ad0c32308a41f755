package schedule

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SelfMedicine is a patient-entered medicine that did not come from a record.
type SelfMedicine struct {
	DrugName     string
	Dosage       string
	Frequency    string
	Timing       []string
	Instructions string
	StartDate    *time.Time
	EndDate      *time.Time
}

// Patch is a partial update of a medicine entry. Nil fields are left as is.
type Patch struct {
	Dosage       *string
	Frequency    *string
	Timing       *[]string
	Instructions *string
	Status       *Status
	StartDate    *time.Time
	EndDate      *time.Time
	Reason       string
}

// AddSelfMedicine appends a Self entry with one Started event by the user.
func (s *Schedule) AddSelfMedicine(in SelfMedicine, now time.Time) (*Entry, error) {
	required := []struct{ field, value string }{
		{"drugName", in.DrugName},
		{"dosage", in.Dosage},
		{"frequency", in.Frequency},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, Validation(r.field, "%s is required", r.field)
		}
	}
	for _, e := range s.Medicines {
		if e.ScheduleType == TypeSelf && e.DrugName == in.DrugName && e.Status == StatusActive {
			return nil, Validation(in.DrugName, "medicine already active in schedule %s", s.ID)
		}
	}

	start := now.UTC()
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	e := &Entry{
		ID:           uuid.NewString(),
		DrugName:     in.DrugName,
		StartDate:    start,
		EndDate:      in.EndDate,
		ScheduleType: TypeSelf,
		Status:       StatusActive,
		History:      make([]HistoryEvent, 0, 1),
	}
	f := Fields{Dosage: in.Dosage, Frequency: in.Frequency, Timing: in.Timing, Instructions: in.Instructions}
	e.setFields(f)
	s.Medicines = append(s.Medicines, e)
	if err := s.record(e, HistoryEvent{
		ChangeType:  ChangeStarted,
		NewSchedule: f.dosing(),
		ChangedBy:   ActorUser,
		Reason:      "Added by user",
		ChangedAt:   now,
	}, now); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateMedicine applies p to the entry with the given id. It reports whether
// anything changed; a no-op patch appends no history.
func (s *Schedule) UpdateMedicine(id string, p Patch, now time.Time) (bool, error) {
	e, err := s.Medicine(id)
	if err != nil {
		return false, err
	}

	next := e.Fields()
	if p.Dosage != nil {
		next.Dosage = *p.Dosage
	}
	if p.Frequency != nil {
		next.Frequency = *p.Frequency
	}
	if p.Timing != nil {
		next.Timing = slices.Clone(*p.Timing)
	}
	if p.Instructions != nil {
		next.Instructions = *p.Instructions
	}
	if p.Frequency != nil && strings.TrimSpace(*p.Frequency) == "" {
		return false, Validation(id, "frequency cannot be cleared")
	}
	if p.Dosage != nil && e.ScheduleType == TypeSelf && strings.TrimSpace(*p.Dosage) == "" {
		return false, Validation(id, "dosage cannot be cleared")
	}

	status := e.Status
	if p.Status != nil {
		if !p.Status.Valid() {
			return false, Validation(id, "unknown status %q", *p.Status)
		}
		status = *p.Status
	}

	datesChanged := false
	if p.StartDate != nil && !p.StartDate.Equal(e.StartDate) {
		e.StartDate = p.StartDate.UTC()
		datesChanged = true
	}
	if p.EndDate != nil && (e.EndDate == nil || !p.EndDate.Equal(*e.EndDate)) {
		end := p.EndDate.UTC()
		e.EndDate = &end
		datesChanged = true
	}

	fieldsChanged := !e.Fields().Equal(next)
	prev := e.Fields().dosing()
	var ev *HistoryEvent

	switch {
	case status != e.Status && status == StatusActive:
		ev = &HistoryEvent{ChangeType: ChangeStarted, PreviousSchedule: prev, NewSchedule: next.dosing(), Reason: reasonOr(p.Reason, "Restarted by user")}
		e.EndDate = nil
	case status != e.Status:
		reason := "Stopped by user"
		if status == StatusCompleted {
			reason = "Completed"
		}
		ev = &HistoryEvent{ChangeType: ChangeStopped, PreviousSchedule: prev, Reason: reasonOr(p.Reason, reason)}
		if fieldsChanged {
			ev.NewSchedule = next.dosing()
		}
		if e.EndDate == nil {
			at := now.UTC()
			e.EndDate = &at
		}
	case fieldsChanged:
		ev = &HistoryEvent{ChangeType: ChangeModified, PreviousSchedule: prev, NewSchedule: next.dosing(), Reason: reasonOr(p.Reason, "Updated by user")}
	}

	if ev == nil {
		if datesChanged {
			s.touch(now)
		}
		return datesChanged, nil
	}

	e.setFields(next)
	e.Status = status
	ev.ChangedBy = ActorUser
	ev.ChangedAt = now
	if err := s.record(e, *ev, now); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMedicine removes a Self entry. Record-sourced entries can only be
// stopped, so their audit history survives.
func (s *Schedule) DeleteMedicine(id string, now time.Time) error {
	idx := slices.IndexFunc(s.Medicines, func(e *Entry) bool { return e.ID == id })
	if idx < 0 {
		return NotFound(id, "medicine not found in schedule %s", s.ID)
	}
	e := s.Medicines[idx]
	if e.ScheduleType != TypeSelf {
		return Forbidden(id, "%s medicines cannot be deleted, stop them instead", e.ScheduleType)
	}
	s.Medicines = slices.Delete(s.Medicines, idx, idx+1)
	s.touch(now)
	return s.emit(EventMedicineDeleted, &MedicineDeletedData{
		ScheduleID: s.ID,
		MedicineID: e.ID,
		DrugName:   e.DrugName,
		DeletedAt:  now.UTC(),
	})
}

func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) != "" {
		return reason
	}
	return fallback
}
