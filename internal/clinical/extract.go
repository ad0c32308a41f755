package clinical

import (
	"fmt"
	"strings"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// Section names used in warnings.
const (
	SectionDiagnosis   = "diagnosis"
	SectionPastHistory = "pastHistory"
	SectionPastAllergy = "pastAllergy"
	SectionNewAllergy  = "newAllergy"
)

// Warning reports a part of the record that was skipped during extraction.
type Warning struct {
	RecordID string `json:"recordId"`
	Section  string `json:"section"`
	Index    int    `json:"index"`
	Item     int    `json:"item"`
	Reason   string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s[%d].%d: %s", w.Section, w.Index, w.Item, w.Reason)
}

type extractor struct {
	recordID string
	out      []schedule.Candidate
	seen     map[string]bool
	warnings []Warning
}

func (x *extractor) warn(section string, index, item int, format string, args ...interface{}) {
	x.warnings = append(x.warnings, Warning{
		RecordID: x.recordID,
		Section:  section,
		Index:    index,
		Item:     item,
		Reason:   fmt.Sprintf(format, args...),
	})
}

func (x *extractor) add(section string, index, item int, c schedule.Candidate) {
	if strings.TrimSpace(c.DrugName) == "" {
		x.warn(section, index, item, "missing drug name")
		return
	}
	if x.seen[c.DrugName] {
		x.warn(section, index, item, "duplicate drug %q ignored", c.DrugName)
		return
	}
	x.seen[c.DrugName] = true
	x.out = append(x.out, c)
}

// Extract flattens the medicine-bearing sections of rec into candidates, in
// the order prescriptions, past history, past allergies, new allergies.
// Entries that cannot be tracked are skipped and reported as warnings. The
// first occurrence of a drug name wins.
func Extract(rec *Record) ([]schedule.Candidate, []Warning) {
	x := &extractor{recordID: rec.ID, seen: make(map[string]bool)}

	for i, d := range rec.Diagnoses {
		for j, p := range d.Prescriptions {
			x.add(SectionDiagnosis, i, j, fromPrescription(p))
		}
	}

	for i, h := range rec.PastHistory {
		if len(h.DrugNames) != len(h.Frequencies) {
			x.warn(SectionPastHistory, i, -1, "%d drug names but %d frequencies, block dropped",
				len(h.DrugNames), len(h.Frequencies))
			continue
		}
		for j, name := range h.DrugNames {
			x.add(SectionPastHistory, i, j, schedule.Candidate{
				DrugName: name,
				Fields:   schedule.Fields{Frequency: h.Frequencies[j], Instructions: h.Notes},
				Origin:   schedule.OriginPastHistory,
			})
		}
	}

	for i, a := range rec.PastAllergies {
		x.add(SectionPastAllergy, i, 0, fromAllergy(a, schedule.OriginPastAllergy))
	}
	for i, a := range rec.NewAllergies {
		x.add(SectionNewAllergy, i, 0, fromAllergy(a, schedule.OriginNewAllergy))
	}

	return x.out, x.warnings
}

func fromPrescription(p PrescriptionLine) schedule.Candidate {
	f := schedule.Fields{
		Dosage:       firstNonEmpty(p.Dosage, p.Quantity),
		Frequency:    p.Frequency,
		Timing:       p.Timing,
		Instructions: firstNonEmpty(p.Instructions, p.Advice),
	}
	if len(f.Timing) == 0 && strings.TrimSpace(p.HowToTake) != "" {
		f.Timing = []string{p.HowToTake}
	}
	return schedule.Candidate{DrugName: p.DrugName, Fields: f, Origin: schedule.OriginPrescription}
}

func fromAllergy(a AllergyPrescription, o schedule.Origin) schedule.Candidate {
	return schedule.Candidate{
		DrugName: a.DrugName,
		Fields:   schedule.Fields{Frequency: a.Frequency, Instructions: a.Notes},
		Origin:   o,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
