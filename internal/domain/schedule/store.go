package schedule

import "context"

// MutateFunc receives the current schedule (nil when none exists for the
// scope) and returns the schedule to persist, or nil to persist nothing.
type MutateFunc func(current *Schedule) (*Schedule, error)

// Store persists schedules as whole aggregates. Mutations of one scope are
// serialized and each one commits atomically together with the schedule's
// uncommitted events; a failed fn or save leaves the stored state untouched.
type Store interface {
	// UpdateScope mutates the active schedule of scope.
	UpdateScope(ctx context.Context, scope Scope, fn MutateFunc) (*Schedule, error)
	// UpdateByID mutates the schedule with the given id, active or not.
	UpdateByID(ctx context.Context, id string, fn MutateFunc) (*Schedule, error)
	Get(ctx context.Context, id string) (*Schedule, error)
	// FindActive returns the active schedule of scope, or ErrNotFound.
	FindActive(ctx context.Context, scope Scope) (*Schedule, error)
	ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*Schedule, error)
	// ListByRecords returns the patient's schedules holding entries sourced
	// from any of recordIDs.
	ListByRecords(ctx context.Context, patientID string, recordIDs []string) ([]*Schedule, error)
}
