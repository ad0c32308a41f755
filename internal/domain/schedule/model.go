// Package schedule implements the medicine schedule aggregate: the per-record
// medicine entries, their append-only history and the transitions that
// converge them with the latest clinical record.
package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ScheduleType is the provenance class of a medicine entry.
type ScheduleType string

const (
	TypeEMR    ScheduleType = "EMR"
	TypeSelf   ScheduleType = "Self"
	TypeDoctor ScheduleType = "Doctor"
)

// Status is the lifecycle state of a medicine entry.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusStopped   Status = "Stopped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusStopped:
		return true
	}
	return false
}

// ChangeType is the transition recorded by a history event.
type ChangeType string

const (
	ChangeStarted  ChangeType = "Started"
	ChangeModified ChangeType = "Modified"
	ChangeStopped  ChangeType = "Stopped"
)

// Actor is who caused a change.
type Actor string

const (
	ActorDoctor Actor = "Doctor"
	ActorUser   Actor = "User"
)

// DefaultSelfTitle is the title of a schedule created on demand for self medicines.
const DefaultSelfTitle = "My Medications"

// Dosing is the tracked part of a medicine's regimen, as recorded in history.
type Dosing struct {
	Frequency string   `json:"frequency"`
	Timing    []string `json:"timing"`
	Dosage    string   `json:"dosage"`
}

// Fields are the mutable, diffed fields of a medicine entry.
type Fields struct {
	Dosage       string   `json:"dosage"`
	Frequency    string   `json:"frequency"`
	Timing       []string `json:"timing"`
	Instructions string   `json:"instructions"`
}

// Equal is exact, case-sensitive equality on every field.
func (f Fields) Equal(o Fields) bool {
	return f.Dosage == o.Dosage &&
		f.Frequency == o.Frequency &&
		f.Instructions == o.Instructions &&
		slices.Equal(f.Timing, o.Timing)
}

func (f Fields) dosing() *Dosing {
	return &Dosing{Frequency: f.Frequency, Timing: slices.Clone(f.Timing), Dosage: f.Dosage}
}

// Source identifies the originating record of a non-self entry.
type Source struct {
	RecordID         string    `json:"recordId,omitempty"`
	RecordDate       time.Time `json:"recordDate,omitempty"`
	PrescriberID     string    `json:"prescriberId,omitempty"`
	PrescriberName   string    `json:"prescriberName,omitempty"`
	OrganizationName string    `json:"organizationName,omitempty"`
}

// HistoryEvent is one immutable transition of a medicine entry. Events are
// hash-chained: Hash covers the event content and the previous event's hash.
type HistoryEvent struct {
	Seq              int        `json:"seq"`
	DrugName         string     `json:"drugName"`
	ChangeType       ChangeType `json:"changeType"`
	PreviousSchedule *Dosing    `json:"previousSchedule,omitempty"`
	NewSchedule      *Dosing    `json:"newSchedule,omitempty"`
	ChangedBy        Actor      `json:"changedBy"`
	Reason           string     `json:"reason,omitempty"`
	ChangedAt        time.Time  `json:"changedAt"`
	PrevHash         string     `json:"prevHash,omitempty"`
	Hash             string     `json:"hash"`
}

func (h *HistoryEvent) digest() string {
	payload, _ := json.Marshal(struct {
		Seq       int        `json:"seq"`
		DrugName  string     `json:"drugName"`
		Change    ChangeType `json:"changeType"`
		Prev      *Dosing    `json:"prev"`
		Next      *Dosing    `json:"next"`
		ChangedBy Actor      `json:"changedBy"`
		Reason    string     `json:"reason"`
		ChangedAt string     `json:"changedAt"`
		PrevHash  string     `json:"prevHash"`
	}{
		h.Seq, h.DrugName, h.ChangeType, h.PreviousSchedule, h.NewSchedule,
		h.ChangedBy, h.Reason, h.ChangedAt.UTC().Format(time.RFC3339Nano), h.PrevHash,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Entry is one medicine's current state plus its full change history.
type Entry struct {
	ID           string         `json:"id"`
	DrugName     string         `json:"drugName"`
	Dosage       string         `json:"dosage"`
	Frequency    string         `json:"frequency"`
	Timing       []string       `json:"timing"`
	Instructions string         `json:"instructions"`
	StartDate    time.Time      `json:"startDate"`
	EndDate      *time.Time     `json:"endDate,omitempty"`
	ScheduleType ScheduleType   `json:"scheduleType"`
	Source       *Source        `json:"source,omitempty"`
	Status       Status         `json:"status"`
	History      []HistoryEvent `json:"history"`
}

// Fields returns the entry's current mutable fields.
func (e *Entry) Fields() Fields {
	return Fields{
		Dosage:       e.Dosage,
		Frequency:    e.Frequency,
		Timing:       slices.Clone(e.Timing),
		Instructions: e.Instructions,
	}
}

func (e *Entry) setFields(f Fields) {
	e.Dosage = f.Dosage
	e.Frequency = f.Frequency
	e.Timing = slices.Clone(f.Timing)
	e.Instructions = f.Instructions
}

// RecordID returns the originating record id, or "" for self entries.
func (e *Entry) RecordID() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.RecordID
}

// appendHistory seals ev onto the chain. ChangedAt never moves backwards
// relative to the previous event.
func (e *Entry) appendHistory(ev HistoryEvent) HistoryEvent {
	ev.DrugName = e.DrugName
	ev.ChangedAt = ev.ChangedAt.UTC()
	ev.Seq = len(e.History) + 1
	if n := len(e.History); n > 0 {
		last := e.History[n-1]
		ev.PrevHash = last.Hash
		if ev.ChangedAt.Before(last.ChangedAt) {
			ev.ChangedAt = last.ChangedAt
		}
	}
	ev.Hash = ev.digest()
	e.History = append(e.History, ev)
	return ev
}

// VerifyHistory recomputes the hash chain and reports the first broken link.
func (e *Entry) VerifyHistory() error {
	prev := ""
	var prevAt time.Time
	for i := range e.History {
		h := e.History[i]
		if h.Seq != i+1 {
			return fmt.Errorf("history event %d: sequence %d out of order", i+1, h.Seq)
		}
		if h.PrevHash != prev {
			return fmt.Errorf("history event %d: chain broken", h.Seq)
		}
		if h.ChangedAt.Before(prevAt) {
			return fmt.Errorf("history event %d: changedAt moves backwards", h.Seq)
		}
		if h.digest() != h.Hash {
			return fmt.Errorf("history event %d: content does not match hash", h.Seq)
		}
		prev = h.Hash
		prevAt = h.ChangedAt
	}
	return nil
}
