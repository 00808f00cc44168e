// Package store implements the Reminder Store: the exclusive owner of all
// reminder records. Other components read and mutate records only through
// the accessors defined here, never by holding live pointers that can drift.
//
// Two backends exist: MemoryStore (no durability, the default) and
// SnapshotStore (MemoryStore plus a JSON snapshot file for restarts).
package store

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"urns/internal/types"
)

// MemoryStore is a mutex-guarded map from reminder ID to record. All
// accessors return deep copies; the only write path is Update, which applies
// an atomic single-writer mutation to the live record.
type MemoryStore struct {
	mu    sync.RWMutex
	recs  map[string]*types.Reminder
	clock types.Clock
}

// NewMemoryStore creates an empty in-memory reminder store.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		recs:  make(map[string]*types.Reminder),
		clock: clock,
	}
}

// Create assigns identity to the record, inserts it with status=scheduled
// and attempts=0, and returns the new reminder ID. The caller's record is
// not retained.
func (s *MemoryStore) Create(rec *types.Reminder) string {
	now := s.clock.Now()

	stored := rec.Clone()
	stored.ID = "rem_" + uuid.New().String()
	stored.Status = types.StatusScheduled
	stored.Attempts = 0
	stored.LastError = ""
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	s.recs[stored.ID] = stored
	s.mu.Unlock()

	return stored.ID
}

// Get returns a copy of the record, or false if it does not exist.
func (s *MemoryStore) Get(id string) (*types.Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of all records, optionally filtered by app ID.
// Results are sorted by creation time for stable output; insertion order
// carries no meaning.
func (s *MemoryStore) List(appID string) []*types.Reminder {
	s.mu.RLock()
	out := make([]*types.Reminder, 0, len(s.recs))
	for _, rec := range s.recs {
		if appID != "" && rec.AppID != appID {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies fn to the live record under the store lock. It is the
// single write path for status, attempts, last_error, and next_fire_at.
// If the record no longer exists (deleted concurrently) Update is a silent
// no-op and returns false; a fire/delete race is expected and harmless.
func (s *MemoryStore) Update(id string, fn func(*types.Reminder)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return false
	}
	fn(rec)
	rec.UpdatedAt = s.clock.Now()
	return true
}

// Delete removes the record. Returns false if it did not exist.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs[id]; !ok {
		return false
	}
	delete(s.recs, id)
	return true
}

// DeleteAll removes every record matching appID (all records when appID is
// empty) and returns the removed IDs so the caller can cancel their pending
// scheduler events.
func (s *MemoryStore) DeleteAll(appID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0, len(s.recs))
	for id, rec := range s.recs {
		if appID != "" && rec.AppID != appID {
			continue
		}
		removed = append(removed, id)
		delete(s.recs, id)
	}
	return removed
}

// replaceAll swaps in a full record set. Used by SnapshotStore.Load; records
// are cloned on the way in.
func (s *MemoryStore) replaceAll(recs []*types.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs = make(map[string]*types.Reminder, len(recs))
	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			continue
		}
		s.recs[rec.ID] = rec.Clone()
	}
}
