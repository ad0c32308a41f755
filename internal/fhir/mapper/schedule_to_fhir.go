// Package mapper transforms medicine schedules into FHIR R5 resources.
package mapper

import (
	"errors"
	"strconv"
	"time"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
	fhir "github.com/drfirst/go-medsched/internal/fhir/r5"
)

// ScheduleToFHIRMapper renders a schedule as a collection Bundle of
// MedicationStatements, one per entry.
type ScheduleToFHIRMapper struct {
	// Now stamps the bundle
	Now func() time.Time
}

// NewScheduleToFHIRMapper creates a mapper stamping bundles with the wall clock.
func NewScheduleToFHIRMapper() *ScheduleToFHIRMapper {
	return &ScheduleToFHIRMapper{Now: time.Now}
}

// MapSchedule converts s. Entries keep their schedule order.
func (m *ScheduleToFHIRMapper) MapSchedule(s *schedule.Schedule) *fhir.Bundle {
	now := m.Now().UTC()
	lastModified := s.LastModified.UTC()
	total := len(s.Medicines)

	b := &fhir.Bundle{
		ResourceType: "Bundle",
		ID:           s.ID,
		Meta: &fhir.Meta{
			VersionID:   strconv.Itoa(s.Version),
			LastUpdated: &lastModified,
		},
		Identifier: &fhir.Identifier{System: fhir.SystemSchedule, Value: s.ID},
		Type:       fhir.BundleCollection,
		Timestamp:  &now,
		Total:      &total,
		Entry:      make([]fhir.BundleEntry, 0, total),
	}
	for _, e := range s.Medicines {
		b.Entry = append(b.Entry, fhir.BundleEntry{
			FullURL:  "urn:uuid:" + e.ID,
			Resource: m.MapEntry(s, e),
		})
	}
	return b
}

// MapEntry converts one medicine entry.
func (m *ScheduleToFHIRMapper) MapEntry(s *schedule.Schedule, e *schedule.Entry) *fhir.MedicationStatement {
	start := e.StartDate.UTC()
	period := &fhir.Period{Start: &start}
	if e.EndDate != nil {
		end := e.EndDate.UTC()
		period.End = &end
	}

	ms := &fhir.MedicationStatement{
		ResourceType: "MedicationStatement",
		ID:           e.ID,
		Identifier: []fhir.Identifier{
			{System: fhir.SystemMedsched, Value: e.ID},
		},
		Status:   fhir.StatementRecorded,
		Category: []fhir.CodeableConcept{category(e.ScheduleType)},
		Medication: fhir.CodeableReference{
			Concept: &fhir.CodeableConcept{Text: e.DrugName},
		},
		Subject:                   fhir.Reference{Reference: "Patient/" + s.PatientID},
		EffectivePeriod:           period,
		RenderedDosageInstruction: renderSig(e),
		Dosage:                    []fhir.Dosage{mapDosage(e)},
		Adherence:                 adherence(e),
	}
	if n := len(e.History); n > 0 {
		at := e.History[n-1].ChangedAt.UTC()
		ms.DateAsserted = &at
	}

	if e.ScheduleType == schedule.TypeSelf {
		ms.InformationSource = []fhir.Reference{{Reference: "Patient/" + s.PatientID}}
		return ms
	}
	if src := e.Source; src != nil {
		if src.PrescriberID != "" || src.PrescriberName != "" {
			ref := fhir.Reference{Type: "Practitioner", Display: src.PrescriberName}
			if src.PrescriberID != "" {
				ref.Reference = "Practitioner/" + src.PrescriberID
			}
			ms.InformationSource = append(ms.InformationSource, ref)
		}
		if src.OrganizationName != "" {
			ms.InformationSource = append(ms.InformationSource, fhir.Reference{Type: "Organization", Display: src.OrganizationName})
		}
		if src.RecordID != "" {
			ms.DerivedFrom = []fhir.Reference{{
				Type:       "DocumentReference",
				Identifier: &fhir.Identifier{System: fhir.SystemRecord, Value: src.RecordID},
			}}
		}
	}
	return ms
}

// MapError converts a schedule error into an OperationOutcome.
func (m *ScheduleToFHIRMapper) MapError(err error) *fhir.OperationOutcome {
	code := fhir.IssueException
	switch schedule.KindOf(err) {
	case schedule.KindValidation:
		code = fhir.IssueInvalid
	case schedule.KindNotFound:
		code = fhir.IssueNotFound
	case schedule.KindForbidden:
		code = fhir.IssueForbidden
	case schedule.KindConflict:
		code = fhir.IssueConflict
	case schedule.KindNoMedicinesFound:
		code = fhir.IssueBusiness
	}

	issue := fhir.OperationOutcomeIssue{Severity: "error", Code: code}
	var se *schedule.Error
	switch {
	case code == fhir.IssueException:
		issue.Diagnostics = "internal error"
	case errors.As(err, &se):
		issue.Diagnostics = se.Msg
		if se.ID != "" {
			issue.Expression = []string{se.ID}
		}
	default:
		issue.Diagnostics = err.Error()
	}
	return fhir.NewOperationOutcome(issue)
}

func category(t schedule.ScheduleType) fhir.CodeableConcept {
	code, display := "community", "Community"
	if t == schedule.TypeSelf {
		code, display = "patientspecified", "Patient Specified"
	}
	return fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: fhir.SystemCategory, Code: code, Display: display}},
	}
}

func adherence(e *schedule.Entry) *fhir.Adherence {
	code := fhir.AdherenceTaking
	switch e.Status {
	case schedule.StatusStopped:
		code = fhir.AdherenceStopped
	case schedule.StatusCompleted:
		code = fhir.AdherenceCompleted
	}
	a := &fhir.Adherence{Code: fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: fhir.SystemAdherence, Code: code}},
	}}
	if code == fhir.AdherenceStopped {
		if n := len(e.History); n > 0 && e.History[n-1].Reason != "" {
			a.Reason = &fhir.CodeableConcept{Text: e.History[n-1].Reason}
		}
	}
	return a
}
