package scheduling

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
)

// AddSelfMedicineInput is a patient-entered medicine.
type AddSelfMedicineInput struct {
	PatientID    string     `json:"patientId" validate:"required,notblank"`
	DrugName     string     `json:"drugName" validate:"required,notblank"`
	Dosage       string     `json:"dosage" validate:"required,notblank"`
	Frequency    string     `json:"frequency" validate:"required,notblank"`
	Timing       []string   `json:"timing,omitempty" validate:"omitempty,dive,notblank"`
	Instructions string     `json:"instructions,omitempty" validate:"max=1000"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

// UpdateMedicineInput is a partial update. Omitted fields are left unchanged.
type UpdateMedicineInput struct {
	Dosage       *string          `json:"dosage,omitempty"`
	Frequency    *string          `json:"frequency,omitempty"`
	Timing       *[]string        `json:"timing,omitempty"`
	Instructions *string          `json:"instructions,omitempty" validate:"omitempty,max=1000"`
	Status       *schedule.Status `json:"status,omitempty" validate:"omitempty,oneof=Active Completed Stopped"`
	StartDate    *time.Time       `json:"startDate,omitempty"`
	EndDate      *time.Time       `json:"endDate,omitempty"`
	Reason       string           `json:"reason,omitempty" validate:"max=500"`
}

func (in UpdateMedicineInput) patch() schedule.Patch {
	return schedule.Patch{
		Dosage:       in.Dosage,
		Frequency:    in.Frequency,
		Timing:       in.Timing,
		Instructions: in.Instructions,
		Status:       in.Status,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Reason:       in.Reason,
	}
}

// Manager applies patient-driven changes to schedules.
type Manager struct {
	store    schedule.Store
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewManager creates a manager. m may be nil.
func NewManager(store schedule.Store, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		validate: newValidator(),
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("scheduling"),
		now:      time.Now,
	}
}

// AddSelfMedicine adds a Self medicine to the patient's default
// self-schedule, creating that schedule on first use.
func (m *Manager) AddSelfMedicine(ctx context.Context, in AddSelfMedicineInput) (*schedule.Schedule, *schedule.Entry, error) {
	ctx, span := m.tracer.Start(ctx, "add_self_medicine",
		trace.WithAttributes(attribute.String("patient_id", in.PatientID)))
	defer span.End()

	if err := m.validate.Struct(in); err != nil {
		return nil, nil, m.fail(span, "add", validationError(err))
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, nil, m.fail(span, "add", schedule.Validation("endDate", "endDate is before startDate"))
	}

	var entry *schedule.Entry
	now := m.now()
	saved, err := m.store.UpdateScope(ctx, schedule.SelfScope(in.PatientID), func(cur *schedule.Schedule) (*schedule.Schedule, error) {
		if cur == nil {
			s, err := schedule.NewSelfSchedule(in.PatientID, now)
			if err != nil {
				return nil, err
			}
			cur = s
		}
		e, err := cur.AddSelfMedicine(schedule.SelfMedicine{
			DrugName:     in.DrugName,
			Dosage:       in.Dosage,
			Frequency:    in.Frequency,
			Timing:       in.Timing,
			Instructions: in.Instructions,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
		}, now)
		if err != nil {
			return nil, err
		}
		entry = e
		return correlate(ctx, cur), nil
	})
	if err != nil {
		return nil, nil, m.fail(span, "add", err)
	}

	m.metrics.SelfMedicationOp("add", "ok")
	m.metrics.HistoryAppended(string(schedule.ChangeStarted), string(schedule.ActorUser), 1)
	m.logger.Info("self medicine added",
		zap.String("patient_id", in.PatientID),
		zap.String("schedule_id", saved.ID),
		zap.String("medicine_id", entry.ID))
	return saved, entry, nil
}

// UpdateMedicine applies in to one medicine of a schedule owned by
// patientID. Record-sourced and self medicines are handled alike. The
// returned flag is false when nothing changed.
func (m *Manager) UpdateMedicine(ctx context.Context, patientID, scheduleID, medicineID string, in UpdateMedicineInput) (*schedule.Entry, bool, error) {
	ctx, span := m.tracer.Start(ctx, "update_medicine",
		trace.WithAttributes(
			attribute.String("schedule_id", scheduleID),
			attribute.String("medicine_id", medicineID),
		))
	defer span.End()

	if err := m.validate.Struct(in); err != nil {
		return nil, false, m.fail(span, "update", validationError(err))
	}

	var (
		entry   *schedule.Entry
		changed bool
		before  int
	)
	now := m.now()
	_, err := m.store.UpdateByID(ctx, scheduleID, func(cur *schedule.Schedule) (*schedule.Schedule, error) {
		if err := owned(cur, patientID); err != nil {
			return nil, err
		}
		e, err := cur.Medicine(medicineID)
		if err != nil {
			return nil, err
		}
		before = len(e.History)
		if changed, err = cur.UpdateMedicine(medicineID, in.patch(), now); err != nil {
			return nil, err
		}
		entry = e
		return correlate(ctx, cur), nil
	})
	if err != nil {
		return nil, false, m.fail(span, "update", err)
	}

	if len(entry.History) > before {
		last := entry.History[len(entry.History)-1]
		m.metrics.HistoryAppended(string(last.ChangeType), string(last.ChangedBy), 1)
	}
	m.metrics.SelfMedicationOp("update", "ok")
	span.SetAttributes(attribute.Bool("changed", changed))
	return entry, changed, nil
}

// DeleteMedicine removes a Self medicine. Record-sourced medicines yield
// ErrForbidden and stay untouched.
func (m *Manager) DeleteMedicine(ctx context.Context, patientID, scheduleID, medicineID string) error {
	ctx, span := m.tracer.Start(ctx, "delete_medicine",
		trace.WithAttributes(
			attribute.String("schedule_id", scheduleID),
			attribute.String("medicine_id", medicineID),
		))
	defer span.End()

	now := m.now()
	_, err := m.store.UpdateByID(ctx, scheduleID, func(cur *schedule.Schedule) (*schedule.Schedule, error) {
		if err := owned(cur, patientID); err != nil {
			return nil, err
		}
		if err := cur.DeleteMedicine(medicineID, now); err != nil {
			return nil, err
		}
		return correlate(ctx, cur), nil
	})
	if err != nil {
		return m.fail(span, "delete", err)
	}
	m.metrics.SelfMedicationOp("delete", "ok")
	m.logger.Info("self medicine deleted",
		zap.String("schedule_id", scheduleID),
		zap.String("medicine_id", medicineID))
	return nil
}

// DeactivateSchedule takes a schedule out of the active set. Its entries and
// history are kept.
func (m *Manager) DeactivateSchedule(ctx context.Context, patientID, scheduleID string) (*schedule.Schedule, error) {
	ctx, span := m.tracer.Start(ctx, "deactivate_schedule",
		trace.WithAttributes(attribute.String("schedule_id", scheduleID)))
	defer span.End()

	now := m.now()
	saved, err := m.store.UpdateByID(ctx, scheduleID, func(cur *schedule.Schedule) (*schedule.Schedule, error) {
		if err := owned(cur, patientID); err != nil {
			return nil, err
		}
		if err := cur.Deactivate(now); err != nil {
			return nil, err
		}
		return correlate(ctx, cur), nil
	})
	if err != nil {
		return nil, m.fail(span, "deactivate", err)
	}
	m.logger.Info("schedule deactivated", zap.String("schedule_id", scheduleID))
	return saved, nil
}

func (m *Manager) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	m.metrics.SelfMedicationOp(op, string(schedule.KindOf(err)))
	if schedule.KindOf(err) == schedule.KindInternal {
		m.logger.Error("schedule operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func owned(s *schedule.Schedule, patientID string) error {
	if patientID == "" {
		return schedule.Validation("patientId", "patientId is required")
	}
	if !s.OwnedBy(patientID) {
		return schedule.Forbidden(s.ID, "schedule does not belong to patient %s", patientID)
	}
	return nil
}
