// Package file implements memory.Store as an in-memory map persisted to a
// single JSON snapshot file.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// Store keeps every record in memory and rewrites the snapshot file after
// each mutation.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*memory.Record
	dims     int
	path     string
	embedder memory.Embedder
	index    memory.Index
	now      func() time.Time
	logger   *slog.Logger
}

var _ memory.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithIndex delegates ranking to idx instead of a linear scan.
func WithIndex(idx memory.Index) Option {
	return func(s *Store) {
		s.index = idx
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store persisted at path. An empty path keeps the store in
// memory only. Call Load to read an existing snapshot.
func New(path string, embedder memory.Embedder, opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*memory.Record),
		path:     path,
		embedder: embedder,
		now:      time.Now,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memory.store")
	return s
}

// Add implements memory.Store.
func (s *Store) Add(ctx context.Context, text string) (string, error) {
	emb, err := s.embed(ctx, text)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDimsLocked(emb); err != nil {
		return "", err
	}

	now := s.now()
	rec := &memory.Record{
		ID:        uuid.New().String(),
		Text:      text,
		Embedding: emb,
		CreatedAt: now,
		UpdatedAt: now,
	}
	prevDims := s.dims
	if s.dims == 0 {
		s.dims = len(emb)
	}
	s.records[rec.ID] = rec

	if err := s.commitLocked(ctx, rec, ""); err != nil {
		delete(s.records, rec.ID)
		s.dims = prevDims
		s.rollbackIndexLocked(ctx, rec.ID, nil)
		return "", err
	}

	s.logger.Debug("memory added", "id", rec.ID)
	return rec.ID, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, id string, text string) error {
	s.mu.RLock()
	_, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update memory %s: %w", id, core.ErrNotFound)
	}

	emb, err := s.embed(ctx, text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("update memory %s: %w", id, core.ErrNotFound)
	}
	if err := s.checkDimsLocked(emb); err != nil {
		return err
	}

	prev := rec.Clone()
	updated := &memory.Record{
		ID:        id,
		Text:      text,
		Embedding: emb,
		CreatedAt: prev.CreatedAt,
		UpdatedAt: s.now(),
	}
	if !updated.UpdatedAt.After(prev.UpdatedAt) {
		updated.UpdatedAt = prev.UpdatedAt.Add(time.Nanosecond)
	}
	s.records[id] = updated

	if err := s.commitLocked(ctx, updated, ""); err != nil {
		s.records[id] = &prev
		s.rollbackIndexLocked(ctx, id, &prev)
		return err
	}

	s.logger.Debug("memory updated", "id", id)
	return nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("delete memory %s: %w", id, core.ErrNotFound)
	}
	delete(s.records, id)

	if err := s.commitLocked(ctx, nil, id); err != nil {
		s.records[id] = rec
		s.rollbackIndexLocked(ctx, id, rec)
		return err
	}

	s.logger.Debug("memory deleted", "id", id)
	return nil
}

// Get implements memory.Store.
func (s *Store) Get(_ context.Context, id string) (memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return memory.Record{}, fmt.Errorf("get memory %s: %w", id, core.ErrNotFound)
	}
	return rec.Clone(), nil
}

// List implements memory.Store.
func (s *Store) List(_ context.Context) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedLocked(), nil
}

// Len implements memory.Store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Search implements memory.Store.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]memory.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return []memory.Result{}, nil
	}
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("search: %w: %d != %d", core.ErrDimensionMismatch, len(embedding), s.dims)
	}

	if s.index == nil {
		records := make([]*memory.Record, 0, len(s.records))
		for _, rec := range s.records {
			records = append(records, rec)
		}
		return memory.ScanTopK(records, embedding, k), nil
	}

	// Ask for every record so ties at the cut are resolved by UpdatedAt here
	// rather than by the index.
	hits, err := s.index.Query(ctx, embedding, len(s.records))
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	results := make([]memory.Result, 0, len(hits))
	for _, hit := range hits {
		rec, ok := s.records[hit.ID]
		if !ok {
			continue
		}
		results = append(results, memory.Result{Record: rec.Clone(), Similarity: hit.Similarity, Score: hit.Similarity})
	}
	memory.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Load implements memory.Store.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*memory.Record)
	s.dims = 0
	if s.index != nil {
		if err := s.index.Reset(ctx); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	if s.path == "" {
		return nil
	}

	snap, err := memory.ReadSnapshot(s.path)
	if err != nil {
		s.logger.Error("memory snapshot unreadable, starting with an empty store",
			"path", s.path, "error", err)
		return err
	}

	for i := range snap.Records {
		rec := snap.Records[i]
		s.records[rec.ID] = &rec
		if s.index != nil {
			if err := s.index.Upsert(ctx, rec); err != nil {
				s.resetLocked(ctx)
				s.logger.Error("memory index rebuild failed, starting with an empty store",
					"path", s.path, "error", err)
				return fmt.Errorf("index memory %s: %w", rec.ID, err)
			}
		}
	}
	s.dims = snap.Dimensions
	s.logger.Info("memory store loaded", "path", s.path, "records", len(s.records))
	return nil
}

// Save implements memory.Store.
func (s *Store) Save(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistLocked()
}

// Close implements memory.Store.
func (s *Store) Close() error {
	return s.Save(context.Background())
}

// resetLocked empties the store and its index after a failed load.
func (s *Store) resetLocked(ctx context.Context) {
	s.records = make(map[string]*memory.Record)
	s.dims = 0
	if s.index != nil {
		if err := s.index.Reset(ctx); err != nil {
			s.logger.Warn("index reset failed", "error", err)
		}
	}
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable, err)
	}
	if len(emb) == 0 {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable, fmt.Errorf("empty embedding"))
	}
	return emb, nil
}

func (s *Store) checkDimsLocked(emb []float32) error {
	if s.dims != 0 && len(emb) != s.dims {
		return fmt.Errorf("%w: %d != %d", core.ErrDimensionMismatch, len(emb), s.dims)
	}
	return nil
}

// commitLocked mirrors a mutation into the index and persists the snapshot.
// Exactly one of upsert and removeID is set.
func (s *Store) commitLocked(ctx context.Context, upsert *memory.Record, removeID string) error {
	if s.index != nil {
		var err error
		if upsert != nil {
			err = s.index.Upsert(ctx, upsert.Clone())
		} else {
			err = s.index.Remove(ctx, removeID)
		}
		if err != nil {
			return fmt.Errorf("update index: %w", err)
		}
	}
	return s.persistLocked()
}

// rollbackIndexLocked restores the index entry for id after a failed commit.
func (s *Store) rollbackIndexLocked(ctx context.Context, id string, prev *memory.Record) {
	if s.index == nil {
		return
	}
	var err error
	if prev == nil {
		err = s.index.Remove(ctx, id)
	} else {
		err = s.index.Upsert(ctx, prev.Clone())
	}
	if err != nil {
		s.logger.Warn("index rollback failed", "id", id, "error", err)
	}
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := memory.WriteSnapshot(s.path, s.dims, s.sortedLocked()); err != nil {
		return fmt.Errorf("persist memory store: %w", err)
	}
	return nil
}

func (s *Store) sortedLocked() []memory.Record {
	out := make([]memory.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
