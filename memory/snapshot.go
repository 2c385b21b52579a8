package memory

import (
	"fmt"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/persist"
)

const snapshotVersion = 1

// Snapshot is the persisted form of a store.
type Snapshot struct {
	Version    int      `json:"version"`
	Dimensions int      `json:"dimensions"`
	Records    []Record `json:"records"`
}

// WriteSnapshot atomically writes records to path.
func WriteSnapshot(path string, dims int, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	return persist.WriteJSON(path, Snapshot{
		Version:    snapshotVersion,
		Dimensions: dims,
		Records:    records,
	})
}

// ReadSnapshot loads and validates the snapshot at path. A missing file is an
// empty snapshot. Any structural problem wraps core.ErrCorruptSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	var snap Snapshot
	found, err := persist.ReadJSON(path, &snap)
	if err != nil {
		return &Snapshot{Version: snapshotVersion}, err
	}
	if !found {
		return &Snapshot{Version: snapshotVersion}, nil
	}
	if err := snap.validate(); err != nil {
		return &Snapshot{Version: snapshotVersion}, fmt.Errorf("%w: %s: %w", core.ErrCorruptSnapshot, path, err)
	}
	return &snap, nil
}

func (s *Snapshot) validate() error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported version %d", s.Version)
	}
	seen := make(map[string]struct{}, len(s.Records))
	for i, r := range s.Records {
		if r.ID == "" {
			return fmt.Errorf("record %d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate record id %s", r.ID)
		}
		seen[r.ID] = struct{}{}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", r.ID)
		}
		if s.Dimensions == 0 {
			s.Dimensions = len(r.Embedding)
		}
		if len(r.Embedding) != s.Dimensions {
			return fmt.Errorf("record %s: %w: %d != %d", r.ID, core.ErrDimensionMismatch, len(r.Embedding), s.Dimensions)
		}
	}
	return nil
}
