package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// RecordSource reads clinical records stored as JSONB by the record service.
type RecordSource struct {
	pool *pgxpool.Pool
}

var _ clinical.Source = (*RecordSource)(nil)

func NewRecordSource(pool *pgxpool.Pool) *RecordSource {
	return &RecordSource{pool: pool}
}

func (r *RecordSource) Get(ctx context.Context, id string) (*clinical.Record, error) {
	var (
		doc      []byte
		revision int64
	)
	err := r.pool.QueryRow(ctx, `SELECT doc, revision FROM clinical_records WHERE id = $1`, id).Scan(&doc, &revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schedule.NotFound(id, "record not found")
	}
	if err != nil {
		return nil, schedule.Internal(id, err)
	}
	var rec clinical.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, schedule.Internal(id, err)
	}
	rec.ID = id
	rec.Revision = revision
	return &rec, nil
}

// Put upserts rec, bumping its revision. Local tooling uses it to seed records.
func (r *RecordSource) Put(ctx context.Context, rec *clinical.Record) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return 0, schedule.Internal(rec.ID, err)
	}
	var revision int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO clinical_records (id, patient_id, revision, doc)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (id) DO UPDATE
		SET patient_id = EXCLUDED.patient_id, revision = clinical_records.revision + 1,
		    doc = EXCLUDED.doc, updated_at = NOW()
		RETURNING revision`, rec.ID, rec.PatientID, doc).Scan(&revision)
	if err != nil {
		return 0, schedule.Internal(rec.ID, err)
	}
	rec.Revision = revision
	return revision, nil
}
