// Package handlers provides the HTTP handlers of the schedule API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/api/middleware"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/fhir/mapper"
	"github.com/drfirst/go-medsched/internal/scheduling"
)

// ScheduleHandler serves reconciliation triggers, self-medication and
// schedule queries. Patient-scoped routes check ownership against the path.
type ScheduleHandler struct {
	engine  *scheduling.Engine
	manager *scheduling.Manager
	queries *scheduling.Queries
	fhir    *mapper.ScheduleToFHIRMapper
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewScheduleHandler creates the handler
func NewScheduleHandler(engine *scheduling.Engine, manager *scheduling.Manager, queries *scheduling.Queries, logger *zap.Logger) *ScheduleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleHandler{
		engine:  engine,
		manager: manager,
		queries: queries,
		fhir:    mapper.NewScheduleToFHIRMapper(),
		logger:  logger,
		tracer:  otel.Tracer("schedule-handler"),
	}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/records/{recordID}/reconcile", h.Reconcile)
	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Post("/self-medicines", h.AddSelfMedicine)
		r.Get("/schedules", h.ActiveSchedules)
		r.Get("/schedules/latest", h.ExportLatest)
		r.Get("/schedules/{scheduleID}", h.GetSchedule)
		r.Post("/schedules/{scheduleID}/deactivate", h.Deactivate)
		r.Get("/schedules/{scheduleID}/verify", h.Verify)
		r.Patch("/schedules/{scheduleID}/medicines/{medicineID}", h.UpdateMedicine)
		r.Delete("/schedules/{scheduleID}/medicines/{medicineID}", h.DeleteMedicine)
		r.Get("/schedules/{scheduleID}/medicines/{medicineID}/history", h.History)
		r.Get("/summary", h.Summary)
	})
	return r
}

// context tags downstream events with the request id.
func (h *ScheduleHandler) context(r *http.Request) context.Context {
	ctx := r.Context()
	if id := middleware.GetRequestID(ctx); id != "" {
		ctx = scheduling.WithCorrelationID(ctx, id)
	}
	return ctx
}

// ReconcileRequest is the optional body of a reconcile trigger.
type ReconcileRequest struct {
	PatientID string `json:"patientId,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
}

// Reconcile handles POST /records/{recordID}/reconcile
func (h *ScheduleHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := h.context(r)
	var req ReconcileRequest
	if err := decode(w, r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	trigger := scheduling.Trigger(req.Trigger)
	switch trigger {
	case "":
		trigger = scheduling.TriggerManual
	case scheduling.TriggerCreated, scheduling.TriggerUpdated, scheduling.TriggerManual:
	default:
		writeError(w, r, h.logger, schedule.Validation("trigger", "unknown trigger %q", req.Trigger))
		return
	}

	sum, err := h.engine.Reconcile(ctx, scheduling.Request{
		RecordID:  chi.URLParam(r, "recordID"),
		PatientID: req.PatientID,
		Trigger:   trigger,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	code := http.StatusOK
	if sum.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, sum)
}

// AddSelfMedicineResponse returns the schedule and the new entry.
type AddSelfMedicineResponse struct {
	ScheduleID string          `json:"scheduleId"`
	Medicine   *schedule.Entry `json:"medicine"`
}

// AddSelfMedicine handles POST /patients/{patientID}/self-medicines
func (h *ScheduleHandler) AddSelfMedicine(w http.ResponseWriter, r *http.Request) {
	var in scheduling.AddSelfMedicineInput
	if err := decode(w, r, &in, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in.PatientID = chi.URLParam(r, "patientID")

	s, e, err := h.manager.AddSelfMedicine(h.context(r), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddSelfMedicineResponse{ScheduleID: s.ID, Medicine: e})
}

// UpdateMedicineResponse reports the entry after an update.
type UpdateMedicineResponse struct {
	Changed  bool            `json:"changed"`
	Medicine *schedule.Entry `json:"medicine"`
}

// UpdateMedicine handles PATCH /patients/{patientID}/schedules/{scheduleID}/medicines/{medicineID}
func (h *ScheduleHandler) UpdateMedicine(w http.ResponseWriter, r *http.Request) {
	var in scheduling.UpdateMedicineInput
	if err := decode(w, r, &in, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	e, changed, err := h.manager.UpdateMedicine(h.context(r),
		chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"), chi.URLParam(r, "medicineID"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateMedicineResponse{Changed: changed, Medicine: e})
}

// DeleteMedicine handles DELETE /patients/{patientID}/schedules/{scheduleID}/medicines/{medicineID}
func (h *ScheduleHandler) DeleteMedicine(w http.ResponseWriter, r *http.Request) {
	err := h.manager.DeleteMedicine(h.context(r),
		chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"), chi.URLParam(r, "medicineID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate handles POST /patients/{patientID}/schedules/{scheduleID}/deactivate
func (h *ScheduleHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.DeactivateSchedule(h.context(r), chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule.Project(s))
}

// ActiveSchedules handles GET /patients/{patientID}/schedules
func (h *ScheduleHandler) ActiveSchedules(w http.ResponseWriter, r *http.Request) {
	views, err := h.queries.GetActiveSchedules(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetSchedule handles GET /patients/{patientID}/schedules/{scheduleID}
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.queries.GetSchedule(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"))
	h.writeSchedule(w, r, s, err)
}

// History handles GET /patients/{patientID}/schedules/{scheduleID}/medicines/{medicineID}/history
func (h *ScheduleHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.queries.GetMedicineHistory(r.Context(),
		chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"), chi.URLParam(r, "medicineID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// Verify handles GET /patients/{patientID}/schedules/{scheduleID}/verify
func (h *ScheduleHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.queries.GetSchedule(ctx, chi.URLParam(r, "patientID"), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v, err := h.queries.VerifyHistory(ctx, s.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !v.Valid {
		h.logger.Warn("schedule history failed verification",
			zap.String("schedule_id", s.ID),
			zap.String("request_id", middleware.GetRequestID(ctx)))
	}
	writeJSON(w, http.StatusOK, v)
}

// Summary handles GET /patients/{patientID}/summary?recordId=a&recordId=b
// (or recordIds=a,b).
func (h *ScheduleHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "cross_source_summary")
	defer span.End()

	q := r.URL.Query()
	ids := append([]string(nil), q["recordId"]...)
	for _, csv := range q["recordIds"] {
		ids = append(ids, strings.Split(csv, ",")...)
	}
	span.SetAttributes(attribute.Int("record_ids", len(ids)))

	rows, err := h.queries.GetCrossSourceSummary(ctx, chi.URLParam(r, "patientID"), ids)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ExportLatest handles GET /patients/{patientID}/schedules/latest, the
// document export hook. ?format=fhir or Accept: application/fhir+json
// returns a FHIR Bundle instead.
func (h *ScheduleHandler) ExportLatest(w http.ResponseWriter, r *http.Request) {
	s, err := h.queries.LatestActiveSchedule(r.Context(), chi.URLParam(r, "patientID"))
	h.writeSchedule(w, r, s, err)
}

// writeSchedule renders s as medsched JSON, or as a FHIR Bundle of
// MedicationStatements when the client asks for FHIR.
func (h *ScheduleHandler) writeSchedule(w http.ResponseWriter, r *http.Request, s *schedule.Schedule, err error) {
	if !wantsFHIR(r) {
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	w.Header().Set("Content-Type", fhirJSON)
	if err != nil {
		code := StatusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("request failed",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err))
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h.fhir.MapError(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.fhir.MapSchedule(s))
}

const fhirJSON = "application/fhir+json"

func wantsFHIR(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "fhir") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), fhirJSON)
}
