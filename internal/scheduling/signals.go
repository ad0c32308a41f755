package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
	"github.com/drfirst/go-medsched/pkg/idempotency"
)

// SignalHandlerName is the inbox handler name of record signals.
const SignalHandlerName = "reconcile-record"

// RecordSignal announces that a clinical record was created or revised.
type RecordSignal struct {
	RecordID  string `json:"record_id"`
	Kind      string `json:"kind"`
	Revision  int64  `json:"revision"`
	PatientID string `json:"patient_id,omitempty"`
}

// DecodeSignal parses and checks a record signal.
func DecodeSignal(raw []byte) (RecordSignal, error) {
	var sig RecordSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return sig, schedule.Validation("signal", "malformed record signal: %v", err)
	}
	sig.RecordID = strings.TrimSpace(sig.RecordID)
	if sig.RecordID == "" {
		return sig, schedule.Validation("record_id", "record signal without record id")
	}
	switch Trigger(sig.Kind) {
	case TriggerCreated, TriggerUpdated:
	default:
		return sig, schedule.Validation("kind", "unknown record signal kind %q", sig.Kind)
	}
	return sig, nil
}

// Key is the idempotency key of the signal.
func (s RecordSignal) Key() string {
	return idempotency.GenerateSignalKey(s.RecordID, s.Kind, s.Revision)
}

// Inbox runs a handler at most once successfully per key.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// SignalHandler reconciles records announced on the signal topic.
type SignalHandler struct {
	engine  *Engine
	inbox   Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSignalHandler creates a handler. m may be nil.
func NewSignalHandler(engine *Engine, inbox Inbox, m *metrics.Metrics, logger *zap.Logger) *SignalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalHandler{engine: engine, inbox: inbox, metrics: m, logger: logger}
}

// Handle processes one raw signal. Redelivered and previously rejected
// signals return nil. Errors for which schedule.IsTerminal holds will never
// succeed on retry; all other errors may.
func (h *SignalHandler) Handle(ctx context.Context, raw []byte) error {
	sig, err := DecodeSignal(raw)
	if err != nil {
		h.metrics.Signal("invalid")
		return err
	}
	key := sig.Key()
	ctx = WithCorrelationID(ctx, key)

	res, err := h.inbox.Process(ctx, key, SignalHandlerName, raw, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		sum, err := h.engine.Reconcile(ctx, Request{
			RecordID:  sig.RecordID,
			PatientID: sig.PatientID,
			Trigger:   Trigger(sig.Kind),
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	})

	switch {
	case err == nil && res.Duplicate:
		h.metrics.Signal("duplicate")
		h.logger.Debug("record signal already handled", zap.String("record_id", sig.RecordID), zap.Int64("revision", sig.Revision))
		return nil
	case err == nil:
		h.metrics.Signal("reconciled")
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		h.metrics.Signal("previously_failed")
		return nil
	case errors.Is(err, idempotency.ErrMessageInProgress), errors.Is(err, idempotency.ErrDuplicateMessage):
		h.metrics.Signal("in_progress")
		return schedule.Conflict(sig.RecordID, "signal %s is being handled elsewhere", key)
	case schedule.IsTerminal(err):
		h.metrics.Signal("rejected")
		h.logger.Warn("record signal rejected",
			zap.String("record_id", sig.RecordID),
			zap.String("kind", sig.Kind),
			zap.Int64("revision", sig.Revision),
			zap.Error(err))
		return err
	default:
		h.metrics.Signal("error")
		return err
	}
}
