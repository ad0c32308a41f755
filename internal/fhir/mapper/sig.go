package mapper

import (
	"slices"
	"strconv"
	"strings"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
	fhir "github.com/drfirst/go-medsched/internal/fhir/r5"
)

// slot event codes for dash frequencies by position: three slots are
// morning-noon-night, four add evening before night.
var slotCodes = map[int][]string{
	3: {"MORN", "AFT", "NIGHT"},
	4: {"MORN", "AFT", "EVE", "NIGHT"},
}

// timingCodes maps free-text timing labels to FHIR event timing codes.
var timingCodes = map[string]string{
	"morning":       "MORN",
	"noon":          "AFT",
	"afternoon":     "AFT",
	"evening":       "EVE",
	"night":         "NIGHT",
	"bedtime":       "HS",
	"before food":   "AC",
	"before meal":   "AC",
	"before meals":  "AC",
	"after food":    "PC",
	"after meal":    "PC",
	"after meals":   "PC",
	"with food":     "C",
	"with meals":    "C",
	"empty stomach": "AC",
}

func mapDosage(e *schedule.Entry) fhir.Dosage {
	d := fhir.Dosage{
		Sequence:           1,
		Text:               renderSig(e),
		PatientInstruction: strings.TrimSpace(e.Instructions),
	}

	t := &fhir.Timing{}
	repeat := &fhir.TimingRepeat{}
	if n, when, ok := parseSlots(e.Frequency); ok {
		repeat.Frequency = n
		repeat.Period = 1
		repeat.PeriodUnit = "d"
		repeat.When = when
	}
	for _, label := range e.Timing {
		if code, ok := timingCodes[strings.ToLower(strings.TrimSpace(label))]; ok && !slices.Contains(repeat.When, code) {
			repeat.When = append(repeat.When, code)
		}
	}
	if repeat.Frequency > 0 || len(repeat.When) > 0 {
		t.Repeat = repeat
	}
	if f := strings.TrimSpace(e.Frequency); f != "" {
		t.Code = &fhir.CodeableConcept{Text: f}
	}
	if t.Repeat != nil || t.Code != nil {
		d.Timing = t
	}
	return d
}

// parseSlots reads dash frequencies such as "1-0-1". Each slot is a dose
// count; the result is the daily total and the event codes of taken slots.
func parseSlots(freq string) (int, []string, bool) {
	parts := strings.Split(strings.TrimSpace(freq), "-")
	codes, ok := slotCodes[len(parts)]
	if !ok {
		return 0, nil, false
	}
	total := 0
	var when []string
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, nil, false
		}
		if n > 0 {
			total += n
			when = append(when, codes[i])
		}
	}
	if total == 0 {
		return 0, nil, false
	}
	return total, when, true
}

// renderSig is the human-readable instruction line.
func renderSig(e *schedule.Entry) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{e.Dosage, e.Frequency, strings.Join(e.Timing, ", ")} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}
