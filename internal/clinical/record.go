// Package clinical models the parts of a clinical record that carry
// medicines, and flattens them into reconciliation candidates.
package clinical

import (
	"context"
	"strings"
	"time"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// Record is a read-only view of one revision of a clinical record. Every
// section is optional.
type Record struct {
	ID               string                `json:"id"`
	PatientID        string                `json:"patientId"`
	Kind             string                `json:"kind,omitempty"`
	Title            string                `json:"title,omitempty"`
	PrescriberID     string                `json:"prescriberId,omitempty"`
	OrganizationName string                `json:"organizationName,omitempty"`
	RecordDate       time.Time             `json:"recordDate"`
	Revision         int64                 `json:"revision"`
	Diagnoses        []Diagnosis           `json:"diagnoses,omitempty"`
	PastHistory      []PastHistory         `json:"pastHistory,omitempty"`
	PastAllergies    []AllergyPrescription `json:"pastAllergies,omitempty"`
	NewAllergies     []AllergyPrescription `json:"newAllergies,omitempty"`
}

// Diagnosis groups the prescription lines written for one diagnosis.
type Diagnosis struct {
	Name          string             `json:"name,omitempty"`
	Prescriptions []PrescriptionLine `json:"prescriptions,omitempty"`
}

// PrescriptionLine is one prescribed medicine. Quantity and Advice are older
// spellings of Dosage and Instructions.
type PrescriptionLine struct {
	DrugName     string   `json:"drugName,omitempty"`
	Dosage       string   `json:"dosage,omitempty"`
	Quantity     string   `json:"quantity,omitempty"`
	Frequency    string   `json:"frequency,omitempty"`
	HowToTake    string   `json:"howToTake,omitempty"`
	Timing       []string `json:"timing,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Advice       string   `json:"advice,omitempty"`
}

// PastHistory lists medicines the patient already takes. DrugNames and
// Frequencies are parallel arrays.
type PastHistory struct {
	DrugNames   []string `json:"drugNames,omitempty"`
	Frequencies []string `json:"frequencies,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// AllergyPrescription is a medicine prescribed in an allergy section.
type AllergyPrescription struct {
	DrugName     string `json:"drugName,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Notes        string `json:"notes,omitempty"`
	PrescribedBy string `json:"prescribedBy,omitempty"`
}

// Validate checks the identifiers reconciliation depends on.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return schedule.Validation("id", "record id is required")
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return schedule.Validation(r.ID, "record %s has no patient", r.ID)
	}
	return nil
}

// Ref describes the record to the reconciliation pass. The prescriber name
// is left for the caller to resolve.
func (r *Record) Ref() schedule.RecordRef {
	return schedule.RecordRef{
		ID:               r.ID,
		Kind:             r.Kind,
		Title:            r.Title,
		Date:             r.RecordDate,
		PrescriberID:     r.PrescriberID,
		OrganizationName: r.OrganizationName,
	}
}

// Source loads clinical records by id. A missing record is reported as
// schedule.ErrNotFound.
type Source interface {
	Get(ctx context.Context, id string) (*Record, error)
}
