package schedule

import (
	"slices"
	"sort"
	"time"
)

// MedicineView is an entry without its history.
type MedicineView struct {
	ID           string       `json:"id"`
	DrugName     string       `json:"drugName"`
	Dosage       string       `json:"dosage"`
	Frequency    string       `json:"frequency"`
	Timing       []string     `json:"timing"`
	Instructions string       `json:"instructions"`
	StartDate    time.Time    `json:"startDate"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
	ScheduleType ScheduleType `json:"scheduleType"`
	Source       *Source      `json:"source,omitempty"`
	Status       Status       `json:"status"`
}

// View is the compact read model of a schedule.
type View struct {
	ID           string         `json:"id"`
	PatientID    string         `json:"patientId"`
	RecordID     string         `json:"recordId,omitempty"`
	Title        string         `json:"title"`
	StartDate    time.Time      `json:"startDate"`
	EndDate      *time.Time     `json:"endDate,omitempty"`
	IsActive     bool           `json:"isActive"`
	LastModified time.Time      `json:"lastModified"`
	Medicines    []MedicineView `json:"medicines"`
}

func viewOf(e *Entry) MedicineView {
	var src *Source
	if e.Source != nil {
		cp := *e.Source
		src = &cp
	}
	return MedicineView{
		ID:           e.ID,
		DrugName:     e.DrugName,
		Dosage:       e.Dosage,
		Frequency:    e.Frequency,
		Timing:       slices.Clone(e.Timing),
		Instructions: e.Instructions,
		StartDate:    e.StartDate,
		EndDate:      e.EndDate,
		ScheduleType: e.ScheduleType,
		Source:       src,
		Status:       e.Status,
	}
}

// Project builds the compact view of s, preserving entry order.
func Project(s *Schedule) View {
	v := View{
		ID:           s.ID,
		PatientID:    s.PatientID,
		RecordID:     s.RecordID,
		Title:        s.Title,
		StartDate:    s.StartDate,
		EndDate:      s.EndDate,
		IsActive:     s.IsActive,
		LastModified: s.LastModified,
		Medicines:    make([]MedicineView, 0, len(s.Medicines)),
	}
	for _, e := range s.Medicines {
		v.Medicines = append(v.Medicines, viewOf(e))
	}
	return v
}

// SummaryRow is the most recent entry for one drug across several records.
type SummaryRow struct {
	ScheduleID string `json:"scheduleId"`
	MedicineView
}

// CrossSourceSummary keeps, per distinct drug name, the most recently dated
// entry among those sourced from recordIDs. Ties go to the later source
// record date, then to the greater record id.
func CrossSourceSummary(schedules []*Schedule, recordIDs []string) []SummaryRow {
	wanted := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}

	best := make(map[string]SummaryRow)
	order := make([]string, 0)
	for _, s := range schedules {
		for _, e := range s.Medicines {
			if e.ScheduleType == TypeSelf || e.Source == nil || !wanted[e.Source.RecordID] {
				continue
			}
			row := SummaryRow{ScheduleID: s.ID, MedicineView: viewOf(e)}
			cur, ok := best[e.DrugName]
			if !ok {
				order = append(order, e.DrugName)
				best[e.DrugName] = row
				continue
			}
			if newer(row.MedicineView, cur.MedicineView) {
				best[e.DrugName] = row
			}
		}
	}

	out := make([]SummaryRow, 0, len(order))
	for _, name := range order {
		out = append(out, best[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DrugName < out[j].DrugName })
	return out
}

func newer(a, b MedicineView) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.After(b.StartDate)
	}
	if !a.Source.RecordDate.Equal(b.Source.RecordDate) {
		return a.Source.RecordDate.After(b.Source.RecordDate)
	}
	return a.Source.RecordID > b.Source.RecordID
}

// LatestActive returns the most recently modified active schedule, ties
// broken by id. It returns nil when none is active.
func LatestActive(schedules []*Schedule) *Schedule {
	var latest *Schedule
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		if latest == nil ||
			s.LastModified.After(latest.LastModified) ||
			(s.LastModified.Equal(latest.LastModified) && s.ID > latest.ID) {
			latest = s
		}
	}
	return latest
}
