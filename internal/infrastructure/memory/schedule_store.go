// Package memory provides in-process implementations of the schedule store
// and record source for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

// ScheduleStore keeps committed schedules as JSON snapshots so callers never
// share memory with stored state.
type ScheduleStore struct {
	mu     sync.RWMutex
	byID   map[string][]byte
	active map[string]string // scope key -> schedule id
	locks  map[string]*sync.Mutex
	events []*schedule.Event

	// BeforeCommit, when set, runs inside the scope lock just before a
	// schedule is stored. A non-nil error aborts the commit.
	BeforeCommit func(*schedule.Schedule) error
}

var _ schedule.Store = (*ScheduleStore)(nil)

func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		byID:   make(map[string][]byte),
		active: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *ScheduleStore) scopeLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *ScheduleStore) UpdateScope(ctx context.Context, scope schedule.Scope, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.scopeLock(scope.Key())
	l.Lock()
	defer l.Unlock()

	cur, err := s.FindActive(ctx, scope)
	if err != nil && schedule.KindOf(err) != schedule.KindNotFound {
		return nil, err
	}
	return s.apply(cur, fn)
}

func (s *ScheduleStore) UpdateByID(ctx context.Context, id string, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	peek, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l := s.scopeLock(peek.Scope().Key())
	l.Lock()
	defer l.Unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(cur, fn)
}

// apply runs fn and commits its result. Callers hold the scope lock.
func (s *ScheduleStore) apply(cur *schedule.Schedule, fn schedule.MutateFunc) (*schedule.Schedule, error) {
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if !next.IsNew() && !next.Dirty() {
		return next, nil
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(next); err != nil {
			return nil, schedule.Internal(next.ID, err)
		}
	}
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *ScheduleStore) commit(next *schedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := next.Scope().Key()
	if next.IsNew() {
		if _, taken := s.active[key]; taken && next.IsActive {
			return schedule.Conflict(next.ID, "scope %s already has an active schedule", key)
		}
	} else {
		raw, ok := s.byID[next.ID]
		if !ok {
			return schedule.NotFound(next.ID, "schedule not found")
		}
		var stored schedule.Schedule
		if err := json.Unmarshal(raw, &stored); err != nil {
			return schedule.Internal(next.ID, err)
		}
		if stored.Version != next.Version {
			return schedule.Conflict(next.ID, "schedule changed concurrently (version %d, have %d)", stored.Version, next.Version)
		}
	}

	version := next.Version + 1
	snap := *next
	snap.Version = version
	raw, err := json.Marshal(&snap)
	if err != nil {
		return schedule.Internal(next.ID, err)
	}

	s.byID[next.ID] = raw
	if next.IsActive {
		s.active[key] = next.ID
	} else if s.active[key] == next.ID {
		delete(s.active, key)
	}
	for _, ev := range next.Changes() {
		ev.Version = version
	}
	s.events = append(s.events, next.Changes()...)
	next.MarkCommitted(version)
	return nil
}

func (s *ScheduleStore) load(id string) (*schedule.Schedule, error) {
	raw, ok := s.byID[id]
	if !ok {
		return nil, schedule.NotFound(id, "schedule not found")
	}
	var out schedule.Schedule
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schedule.Internal(id, err)
	}
	return &out, nil
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *ScheduleStore) FindActive(ctx context.Context, scope schedule.Scope) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[scope.Key()]
	if !ok {
		return nil, schedule.NotFound(scope.Key(), "no active schedule")
	}
	return s.load(id)
}

func (s *ScheduleStore) ListByPatient(ctx context.Context, patientID string, activeOnly bool) ([]*schedule.Schedule, error) {
	return s.list(ctx, func(sc *schedule.Schedule) bool {
		return sc.PatientID == patientID && (!activeOnly || sc.IsActive)
	})
}

func (s *ScheduleStore) ListByRecords(ctx context.Context, patientID string, recordIDs []string) ([]*schedule.Schedule, error) {
	wanted := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}
	return s.list(ctx, func(sc *schedule.Schedule) bool {
		if sc.PatientID != patientID {
			return false
		}
		for _, e := range sc.Medicines {
			if e.Source != nil && wanted[e.Source.RecordID] {
				return true
			}
		}
		return false
	})
}

func (s *ScheduleStore) list(ctx context.Context, keep func(*schedule.Schedule) bool) ([]*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schedule.Schedule, 0)
	for id := range s.byID {
		sc, err := s.load(id)
		if err != nil {
			return nil, err
		}
		if keep(sc) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Events returns every event committed so far, in commit order.
func (s *ScheduleStore) Events() []*schedule.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schedule.Event, len(s.events))
	copy(out, s.events)
	return out
}
