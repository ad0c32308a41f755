package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventScheduleCreated     EventType = "ScheduleCreated"
	EventScheduleDeactivated EventType = "ScheduleDeactivated"
	EventMedicineStarted     EventType = "MedicineStarted"
	EventMedicineModified    EventType = "MedicineModified"
	EventMedicineStopped     EventType = "MedicineStopped"
	EventMedicineDeleted     EventType = "MedicineDeleted"
)

// AggregateType is stamped on every event emitted by a schedule.
const AggregateType = "MedicineSchedule"

// Event is a domain event published for downstream consumers through the outbox.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientID     string          `json:"patient_id"`
	RecordID      string          `json:"record_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ScheduleCreatedData is emitted when a schedule is first persisted.
type ScheduleCreatedData struct {
	ScheduleID string `json:"schedule_id"`
	PatientID  string `json:"patient_id"`
	RecordID   string `json:"record_id,omitempty"`
	Title      string `json:"title"`
}

// MedicineChangedData carries the history event appended to a medicine.
type MedicineChangedData struct {
	ScheduleID   string       `json:"schedule_id"`
	MedicineID   string       `json:"medicine_id"`
	DrugName     string       `json:"drug_name"`
	ScheduleType ScheduleType `json:"schedule_type"`
	Status       Status       `json:"status"`
	History      HistoryEvent `json:"history"`
}

// MedicineDeletedData is emitted when a self medicine is removed.
type MedicineDeletedData struct {
	ScheduleID string    `json:"schedule_id"`
	MedicineID string    `json:"medicine_id"`
	DrugName   string    `json:"drug_name"`
	DeletedAt  time.Time `json:"deleted_at"`
}

// ScheduleDeactivatedData is emitted when a schedule leaves the active set.
type ScheduleDeactivatedData struct {
	ScheduleID    string    `json:"schedule_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// WithCorrelation sets the correlation id, typically the request or signal id.
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

func eventTypeFor(c ChangeType) EventType {
	switch c {
	case ChangeStarted:
		return EventMedicineStarted
	case ChangeStopped:
		return EventMedicineStopped
	default:
		return EventMedicineModified
	}
}
