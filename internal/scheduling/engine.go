// Package scheduling hosts the application services over medicine schedules:
// record reconciliation, self-medication management and read queries.
package scheduling

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
)

// Trigger names what caused a reconciliation.
type Trigger string

const (
	TriggerCreated Trigger = "created"
	TriggerUpdated Trigger = "updated"
	TriggerManual  Trigger = "manual"
)

// Directory resolves prescriber ids to display names.
type Directory interface {
	PrescriberName(ctx context.Context, id string) (string, error)
}

// Summary reports one reconciliation pass.
type Summary struct {
	schedule.Result
	PatientID string             `json:"patientId"`
	Warnings  []clinical.Warning `json:"warnings,omitempty"`
}

// Engine converges record-scoped schedules with the latest revision of their
// clinical record.
type Engine struct {
	store     schedule.Store
	records   clinical.Source
	directory Directory
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEngine creates an engine. directory and m may be nil.
func NewEngine(store schedule.Store, records clinical.Source, directory Directory, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		records:   records,
		directory: directory,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("scheduling"),
		now:       time.Now,
	}
}

// RecordCreated reconciles a newly authored record.
func (e *Engine) RecordCreated(ctx context.Context, recordID string) (*Summary, error) {
	return e.Reconcile(ctx, Request{RecordID: recordID, Trigger: TriggerCreated})
}

// RecordUpdated reconciles a revised record.
func (e *Engine) RecordUpdated(ctx context.Context, recordID string) (*Summary, error) {
	return e.Reconcile(ctx, Request{RecordID: recordID, Trigger: TriggerUpdated})
}

// Request asks for one record to be reconciled. A non-empty PatientID must
// own the record.
type Request struct {
	RecordID  string
	PatientID string
	Trigger   Trigger
}

// Reconcile loads the record, extracts its medicines and applies the diff to
// the record's schedule in one atomic store update. The first pass for a
// record creates the schedule and fails with ErrNoMedicinesFound when the
// record has nothing to schedule.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Summary, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	ctx, span := e.tracer.Start(ctx, "reconcile_record",
		trace.WithAttributes(
			attribute.String("record_id", req.RecordID),
			attribute.String("trigger", string(req.Trigger)),
		))
	defer span.End()
	start := time.Now()

	sum, err := e.reconcile(ctx, req)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveReconcile(string(req.Trigger), string(schedule.KindOf(err)), time.Since(start))
		return nil, err
	}

	outcome := "unchanged"
	if sum.Created {
		outcome = "created"
	} else if sum.Changed() {
		outcome = "changed"
	}
	e.metrics.ObserveReconcile(string(req.Trigger), outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("schedule_id", sum.ScheduleID),
		attribute.String("outcome", outcome),
	)
	e.logger.Info("record reconciled",
		zap.String("record_id", sum.RecordID),
		zap.String("patient_id", sum.PatientID),
		zap.String("schedule_id", sum.ScheduleID),
		zap.String("trigger", string(req.Trigger)),
		zap.String("outcome", outcome),
		zap.Int("started", len(sum.Started)),
		zap.Int("modified", len(sum.Modified)),
		zap.Int("stopped", len(sum.Stopped)),
		zap.Int("restarted", len(sum.Restarted)),
		zap.Int("warnings", len(sum.Warnings)),
	)
	return sum, nil
}

func (e *Engine) reconcile(ctx context.Context, req Request) (*Summary, error) {
	if req.RecordID == "" {
		return nil, schedule.Validation("recordId", "record id is required")
	}
	rec, err := e.records.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if req.PatientID != "" && rec.PatientID != req.PatientID {
		return nil, schedule.Forbidden(rec.ID, "record does not belong to patient %s", req.PatientID)
	}

	candidates, warnings := clinical.Extract(rec)
	for _, w := range warnings {
		e.metrics.ExtractionWarning(w.Section)
		e.logger.Warn("skipped record entry",
			zap.String("record_id", w.RecordID),
			zap.String("section", w.Section),
			zap.Int("index", w.Index),
			zap.Int("item", w.Item),
			zap.String("reason", w.Reason))
	}

	ref := rec.Ref()
	ref.PrescriberName = e.prescriberName(ctx, rec)

	var res *schedule.Result
	now := e.now()
	saved, err := e.store.UpdateScope(ctx, schedule.Scope{PatientID: rec.PatientID, RecordID: rec.ID},
		func(cur *schedule.Schedule) (*schedule.Schedule, error) {
			if cur == nil {
				s, r, err := schedule.NewRecordSchedule(rec.PatientID, ref, candidates, now)
				if err != nil {
					return nil, err
				}
				res = r
				return correlate(ctx, s), nil
			}
			r, err := cur.Reconcile(ref, candidates, now)
			if err != nil {
				return nil, err
			}
			res = r
			return correlate(ctx, cur), nil
		})
	if err != nil {
		return nil, err
	}
	res.ScheduleID = saved.ID

	doctor := string(schedule.ActorDoctor)
	e.metrics.HistoryAppended(string(schedule.ChangeStarted), doctor, len(res.Started)+len(res.Restarted))
	e.metrics.HistoryAppended(string(schedule.ChangeModified), doctor, len(res.Modified))
	e.metrics.HistoryAppended(string(schedule.ChangeStopped), doctor, len(res.Stopped))

	return &Summary{Result: *res, PatientID: rec.PatientID, Warnings: warnings}, nil
}

// prescriberName resolves the record's prescriber. Failures are logged and
// leave the name empty; the opaque id is still stored.
func (e *Engine) prescriberName(ctx context.Context, rec *clinical.Record) string {
	if e.directory == nil || rec.PrescriberID == "" {
		return ""
	}
	name, err := e.directory.PrescriberName(ctx, rec.PrescriberID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ""
		}
		e.logger.Warn("prescriber lookup failed",
			zap.String("record_id", rec.ID),
			zap.String("prescriber_id", rec.PrescriberID),
			zap.Error(err))
		return ""
	}
	return name
}
