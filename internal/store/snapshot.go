package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"urns/internal/types"
)

// SnapshotStore decorates a MemoryStore with a JSON snapshot file so
// reminders survive a process restart. Every mutation rewrites the snapshot
// (write-temp-then-rename, so a crash mid-write never truncates the previous
// snapshot). Reads are served entirely from memory.
//
// Durability is best-effort: a failed snapshot write is logged and the
// in-memory state remains authoritative, matching the store contract that
// promises no persistence guarantee.
type SnapshotStore struct {
	*MemoryStore
	path   string
	logger *slog.Logger
}

// NewSnapshotStore creates a snapshot-backed store writing to path.
func NewSnapshotStore(path string, clock types.Clock, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{
		MemoryStore: NewMemoryStore(clock),
		path:        path,
		logger:      logger,
	}
}

// Load reads the snapshot file into memory. A missing or empty file is not
// an error: the store simply starts empty. After Load the caller must walk
// the surviving records and re-register every non-terminal reminder with
// the trigger engine; past-due one-shots then fire immediately under the
// scheduler's clock-correctness rule.
func (s *SnapshotStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var recs []*types.Reminder
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("unmarshalling snapshot %s: %w", s.path, err)
	}

	s.replaceAll(recs)
	s.logger.Info("reminder snapshot loaded", "path", s.path, "records", len(recs))
	return nil
}

// Create inserts the record and snapshots.
func (s *SnapshotStore) Create(rec *types.Reminder) string {
	id := s.MemoryStore.Create(rec)
	s.save()
	return id
}

// Update applies the mutation and snapshots when the record existed.
func (s *SnapshotStore) Update(id string, fn func(*types.Reminder)) bool {
	ok := s.MemoryStore.Update(id, fn)
	if ok {
		s.save()
	}
	return ok
}

// Delete removes the record and snapshots when it existed.
func (s *SnapshotStore) Delete(id string) bool {
	ok := s.MemoryStore.Delete(id)
	if ok {
		s.save()
	}
	return ok
}

// DeleteAll removes matching records and snapshots when any were removed.
func (s *SnapshotStore) DeleteAll(appID string) []string {
	removed := s.MemoryStore.DeleteAll(appID)
	if len(removed) > 0 {
		s.save()
	}
	return removed
}

// save serializes the full record set to the snapshot file.
func (s *SnapshotStore) save() {
	recs := s.MemoryStore.List("")

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		s.logger.Error("snapshot marshal failed", "path", s.path, "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("snapshot directory create failed", "path", s.path, "error", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Error("snapshot write failed", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("snapshot rename failed", "path", s.path, "error", err)
	}
}
