package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

func TestLoadMigrations_EmbeddedOrdered(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(migrations))
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order: %s before %s", migrations[i-1].Name, migrations[i].Name)
		}
	}
	all := ""
	for _, m := range migrations {
		all += m.SQL
	}
	for _, table := range []string{"medicine_schedules", "clinical_records", "outbox", "inbox"} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("no migration creates %s", table)
		}
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_late.sql":  {Data: []byte("late")},
		"m/002_early.sql": {Data: []byte("early")},
		"m/README.md":     {Data: []byte("docs")},
		"m/draft.sql":     {Data: []byte("draft")},
		"m/x_bad.sql":     {Data: []byte("bad")},
	}
	got, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Version != 2 || got[1].Version != 10 {
		t.Fatalf("unexpected migrations %+v", got)
	}
}

func TestSourceRecordIDs(t *testing.T) {
	sc := &schedule.Schedule{Medicines: []*schedule.Entry{
		{DrugName: "a", Source: &schedule.Source{RecordID: "R2"}},
		{DrugName: "b"},
		{DrugName: "c", Source: &schedule.Source{RecordID: "R1"}},
		{DrugName: "d", Source: &schedule.Source{RecordID: "R2"}},
	}}
	got := sourceRecordIDs(sc)
	if strings.Join(got, ",") != "R1,R2" {
		t.Errorf("got %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, schedule.ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, schedule.ErrConflict},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, schedule.ErrInternal},
		{"plain error", errors.New("boom"), schedule.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify("S1", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultOutboxConfig(t *testing.T) {
	cfg := DefaultOutboxConfig()
	if cfg.DeadLetterTopic != TopicScheduleEvents+".dlq" || cfg.MaxRetries <= 0 || cfg.BatchSize <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
