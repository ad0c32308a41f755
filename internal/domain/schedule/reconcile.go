package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Origin tags the record section a candidate came from. It only annotates the
// reason of a Started event and never takes part in identity.
type Origin string

const (
	OriginPrescription Origin = "prescription"
	OriginPastHistory  Origin = "pastHistory"
	OriginPastAllergy  Origin = "pastAllergy"
	OriginNewAllergy   Origin = "newAllergy"
)

// Candidate is one medicine extracted from a clinical record.
type Candidate struct {
	DrugName string `json:"drugName"`
	Fields
	Origin Origin `json:"originTag"`
}

// RecordRef describes the record being reconciled.
type RecordRef struct {
	ID               string
	Kind             string
	Title            string
	Date             time.Time
	PrescriberID     string
	PrescriberName   string
	OrganizationName string
}

func (r RecordRef) label() string {
	if r.Kind == "" {
		return "EMR"
	}
	return r.Kind
}

func (r RecordRef) title() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Date.IsZero() {
		return fmt.Sprintf("Medicines from %s", r.label())
	}
	return fmt.Sprintf("Medicines from %s %s", r.label(), r.Date.UTC().Format("2006-01-02"))
}

func (r RecordRef) source() *Source {
	return &Source{
		RecordID:         r.ID,
		RecordDate:       r.Date.UTC(),
		PrescriberID:     r.PrescriberID,
		PrescriberName:   r.PrescriberName,
		OrganizationName: r.OrganizationName,
	}
}

func (r RecordRef) startedReason(o Origin) string {
	switch o {
	case OriginPastHistory:
		return "Recorded in past history of " + r.label()
	case OriginPastAllergy:
		return "Past allergy prescription in " + r.label()
	case OriginNewAllergy:
		return "New allergy prescription in " + r.label()
	default:
		return "Prescribed in " + r.label()
	}
}

// Result lists the drug names affected by one reconciliation pass.
type Result struct {
	ScheduleID string   `json:"scheduleId"`
	RecordID   string   `json:"recordId"`
	Created    bool     `json:"created"`
	Started    []string `json:"started"`
	Modified   []string `json:"modified"`
	Stopped    []string `json:"stopped"`
	Restarted  []string `json:"restarted"`
	Unchanged  []string `json:"unchanged"`
}

// Changed reports whether the pass appended any history.
func (r *Result) Changed() bool {
	return len(r.Started)+len(r.Modified)+len(r.Stopped)+len(r.Restarted) > 0
}

// Reconcile converges the entries tracked against ref with candidates.
// Entries of other records and self entries are never touched. Candidates
// must carry distinct drug names; later duplicates are ignored.
func (s *Schedule) Reconcile(ref RecordRef, candidates []Candidate, now time.Time) (*Result, error) {
	res := &Result{ScheduleID: s.ID, RecordID: ref.ID}

	tracked := make(map[string]*Entry)
	for _, e := range s.Medicines {
		if e.ScheduleType == TypeSelf || e.RecordID() != ref.ID {
			continue
		}
		if _, dup := tracked[e.DrugName]; !dup {
			tracked[e.DrugName] = e
		}
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.DrugName == "" || seen[c.DrugName] {
			continue
		}
		seen[c.DrugName] = true

		e, ok := tracked[c.DrugName]
		switch {
		case !ok:
			if err := s.start(ref, c, now); err != nil {
				return nil, err
			}
			res.Started = append(res.Started, c.DrugName)
		case e.Status == StatusStopped:
			if err := s.restart(e, ref, c, now); err != nil {
				return nil, err
			}
			res.Restarted = append(res.Restarted, c.DrugName)
		case e.Fields().Equal(c.Fields):
			res.Unchanged = append(res.Unchanged, c.DrugName)
		case e.Status == StatusCompleted:
			if err := s.restart(e, ref, c, now); err != nil {
				return nil, err
			}
			res.Restarted = append(res.Restarted, c.DrugName)
		default:
			if err := s.modify(e, ref, c, now); err != nil {
				return nil, err
			}
			res.Modified = append(res.Modified, c.DrugName)
		}
	}

	for _, e := range s.Medicines {
		if e.ScheduleType == TypeSelf || e.RecordID() != ref.ID {
			continue
		}
		if seen[e.DrugName] || e.Status != StatusActive {
			continue
		}
		if err := s.discontinue(e, ref, now); err != nil {
			return nil, err
		}
		res.Stopped = append(res.Stopped, e.DrugName)
	}

	return res, nil
}

func (s *Schedule) start(ref RecordRef, c Candidate, now time.Time) error {
	start := now.UTC()
	if !ref.Date.IsZero() {
		start = ref.Date.UTC()
	}
	e := &Entry{
		ID:           uuid.NewString(),
		DrugName:     c.DrugName,
		StartDate:    start,
		ScheduleType: TypeEMR,
		Source:       ref.source(),
		Status:       StatusActive,
		History:      make([]HistoryEvent, 0, 1),
	}
	e.setFields(c.Fields)
	s.Medicines = append(s.Medicines, e)
	return s.record(e, HistoryEvent{
		ChangeType:  ChangeStarted,
		NewSchedule: c.Fields.dosing(),
		ChangedBy:   ActorDoctor,
		Reason:      ref.startedReason(c.Origin),
		ChangedAt:   now,
	}, now)
}

func (s *Schedule) restart(e *Entry, ref RecordRef, c Candidate, now time.Time) error {
	prev := e.Fields().dosing()
	e.setFields(c.Fields)
	e.Status = StatusActive
	e.EndDate = nil
	e.Source = ref.source()
	return s.record(e, HistoryEvent{
		ChangeType:       ChangeStarted,
		PreviousSchedule: prev,
		NewSchedule:      c.Fields.dosing(),
		ChangedBy:        ActorDoctor,
		Reason:           "Restarted in new " + ref.label(),
		ChangedAt:        now,
	}, now)
}

func (s *Schedule) modify(e *Entry, ref RecordRef, c Candidate, now time.Time) error {
	prev := e.Fields().dosing()
	e.setFields(c.Fields)
	e.Source = ref.source()
	return s.record(e, HistoryEvent{
		ChangeType:       ChangeModified,
		PreviousSchedule: prev,
		NewSchedule:      c.Fields.dosing(),
		ChangedBy:        ActorDoctor,
		Reason:           "Updated in new " + ref.label(),
		ChangedAt:        now,
	}, now)
}

func (s *Schedule) discontinue(e *Entry, ref RecordRef, now time.Time) error {
	at := now.UTC()
	e.Status = StatusStopped
	e.EndDate = &at
	return s.record(e, HistoryEvent{
		ChangeType:       ChangeStopped,
		PreviousSchedule: e.Fields().dosing(),
		ChangedBy:        ActorDoctor,
		Reason:           "Discontinued in updated " + ref.label(),
		ChangedAt:        now,
	}, now)
}
