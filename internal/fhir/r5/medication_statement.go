package r5

import "time"

// MedicationStatement represents a FHIR R5 MedicationStatement resource,
// one medicine a patient is, was or will be taking.
type MedicationStatement struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`

	// recorded | entered-in-error | draft
	Status string `json:"status"`

	Category   []CodeableConcept `json:"category,omitempty"`
	Medication CodeableReference `json:"medication"`
	Subject    Reference         `json:"subject"`

	EffectivePeriod *Period    `json:"effectivePeriod,omitempty"`
	DateAsserted    *time.Time `json:"dateAsserted,omitempty"`

	InformationSource []Reference  `json:"informationSource,omitempty"`
	DerivedFrom       []Reference  `json:"derivedFrom,omitempty"`
	Note              []Annotation `json:"note,omitempty"`

	RenderedDosageInstruction string     `json:"renderedDosageInstruction,omitempty"`
	Dosage                    []Dosage   `json:"dosage,omitempty"`
	Adherence                 *Adherence `json:"adherence,omitempty"`
}

// Adherence says whether the medicine is being taken.
type Adherence struct {
	Code   CodeableConcept  `json:"code"`
	Reason *CodeableConcept `json:"reason,omitempty"`
}

// Statement statuses
const (
	StatementRecorded       = "recorded"
	StatementEnteredInError = "entered-in-error"
	StatementDraft          = "draft"
)

// Adherence codes
const (
	AdherenceTaking    = "taking"
	AdherenceStopped   = "stopped"
	AdherenceCompleted = "completed"
)

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence           int     `json:"sequence,omitempty"`
	Text               string  `json:"text,omitempty"`
	PatientInstruction string  `json:"patientInstruction,omitempty"`
	Timing             *Timing `json:"timing,omitempty"`
}

// Timing contains timing information for dosage.
type Timing struct {
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat contains repeat details for timing.
type TimingRepeat struct {
	BoundsPeriod *Period  `json:"boundsPeriod,omitempty"`
	Frequency    int      `json:"frequency,omitempty"`
	Period       float64  `json:"period,omitempty"`
	PeriodUnit   string   `json:"periodUnit,omitempty"`
	When         []string `json:"when,omitempty"`
}
