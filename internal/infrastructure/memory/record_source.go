package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// RecordSource is a clinical.Source backed by a map of record snapshots.
type RecordSource struct {
	mu   sync.RWMutex
	byID map[string][]byte
}

var _ clinical.Source = (*RecordSource)(nil)

func NewRecordSource() *RecordSource {
	return &RecordSource{byID: make(map[string][]byte)}
}

// Put stores rec, replacing any earlier revision with the same id.
func (r *RecordSource) Put(rec *clinical.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = raw
	return nil
}

func (r *RecordSource) Get(ctx context.Context, id string) (*clinical.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	raw, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, schedule.NotFound(id, "record not found")
	}
	var rec clinical.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, schedule.Internal(id, err)
	}
	return &rec, nil
}
