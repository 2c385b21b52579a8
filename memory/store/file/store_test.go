package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/memory/store/file"
)

type tableEmbedder struct {
	mu   sync.Mutex
	vecs map[string][]float32
	err  error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vecs[text]
	if !ok {
		return nil, errors.New("unknown text " + text)
	}
	return append([]float32(nil), v...), nil
}

func (e *tableEmbedder) Dimensions() int { return 2 }

func newEmbedder() *tableEmbedder {
	return &tableEmbedder{vecs: map[string][]float32{
		"north":      {0, 1},
		"north too":  {0, 1},
		"east":       {1, 0},
		"north-east": {0.7071, 0.7071},
		"south":      {0, -1},
		"3d":         {1, 0, 0},
	}}
}

func clock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

// variants runs a test against the linear scan and the chromem index.
func variants(t *testing.T, path string, emb memory.Embedder) map[string]*file.Store {
	t.Helper()
	idx, err := chromem.New(nil)
	require.NoError(t, err)
	return map[string]*file.Store{
		"scan":    file.New(path, emb, file.WithClock(clock())),
		"chromem": file.New(path, emb, file.WithClock(clock()), file.WithIndex(idx)),
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, s := range variants(t, "", newEmbedder()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.Add(ctx, "north")
			require.NoError(t, err)
			require.NotEmpty(t, id)
			assert.Equal(t, 1, s.Len())

			rec, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "north", rec.Text)
			assert.Equal(t, []float32{0, 1}, rec.Embedding)
			assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

			require.NoError(t, s.Update(ctx, id, "east"))
			updated, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "east", updated.Text)
			assert.Equal(t, []float32{1, 0}, updated.Embedding)
			assert.Equal(t, rec.CreatedAt, updated.CreatedAt)
			assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))

			results, err := s.Search(ctx, []float32{1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, id, results[0].Record.ID)
			assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

			require.NoError(t, s.Delete(ctx, id))
			assert.Zero(t, s.Len())
			results, err = s.Search(ctx, []float32{1, 0}, 1)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := file.New("", newEmbedder())

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "missing", "north"), core.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), core.ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := file.New("", newEmbedder())
	id, err := s.Add(ctx, "north")
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	rec.Embedding[0] = 9

	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float32(0), again.Embedding[0])
}

func TestStore_SearchOrder(t *testing.T) {
	for name, s := range variants(t, "", newEmbedder()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, text := range []string{"south", "east", "north-east", "north"} {
				_, err := s.Add(ctx, text)
				require.NoError(t, err)
			}

			results, err := s.Search(ctx, []float32{0, 1}, 10)
			require.NoError(t, err)
			require.Len(t, results, 4)

			var got []string
			for i, r := range results {
				got = append(got, r.Record.Text)
				if i > 0 {
					assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
				}
			}
			assert.Equal(t, []string{"north", "north-east", "east", "south"}, got)

			top, err := s.Search(ctx, []float32{0, 1}, 2)
			require.NoError(t, err)
			assert.Len(t, top, 2)

			none, err := s.Search(ctx, []float32{0, 1}, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_TieBreakPrefersRecentlyUpdated(t *testing.T) {
	for name, s := range variants(t, "", newEmbedder()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Add(ctx, "north")
			require.NoError(t, err)
			second, err := s.Add(ctx, "north too")
			require.NoError(t, err)

			results, err := s.Search(ctx, []float32{0, 1}, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, second, results[0].Record.ID)

			require.NoError(t, s.Update(ctx, first, "north"))
			results, err = s.Search(ctx, []float32{0, 1}, 2)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, first, results[0].Record.ID)
			assert.Equal(t, second, results[1].Record.ID)
		})
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := file.New("", newEmbedder())
	_, err := s.Add(ctx, "north")
	require.NoError(t, err)

	_, err = s.Add(ctx, "3d")
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Equal(t, 1, s.Len())

	_, err = s.Search(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestStore_EmbeddingFailureAbortsMutation(t *testing.T) {
	ctx := context.Background()
	emb := newEmbedder()
	s := file.New("", emb)
	id, err := s.Add(ctx, "north")
	require.NoError(t, err)

	emb.err = errors.New("embedding API down")

	_, err = s.Add(ctx, "east")
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	assert.Equal(t, 1, s.Len())

	err = s.Update(ctx, id, "east")
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "north", rec.Text)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.json")
	emb := newEmbedder()

	s := file.New(path, emb)
	north, err := s.Add(ctx, "north")
	require.NoError(t, err)
	east, err := s.Add(ctx, "east")
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, north, "north-east"))
	require.NoError(t, s.Delete(ctx, east))

	idx, err := chromem.New(nil)
	require.NoError(t, err)
	reopened := file.New(path, emb, file.WithIndex(idx))
	require.NoError(t, reopened.Load(ctx))
	assert.Equal(t, 1, reopened.Len())

	rec, err := reopened.Get(ctx, north)
	require.NoError(t, err)
	assert.Equal(t, "north-east", rec.Text)

	results, err := reopened.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, north, results[0].Record.ID)
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := file.New(filepath.Join(t.TempDir(), "none.json"), newEmbedder())
	require.NoError(t, s.Load(context.Background()))
	assert.Zero(t, s.Len())
}

func TestStore_LoadCorruptSnapshot(t *testing.T) {
	tests := map[string]string{
		"truncated":       `{"version":1,"records":[{"id":"a"`,
		"wrong version":   `{"version":7,"records":[]}`,
		"duplicate ids":   `{"version":1,"records":[{"id":"a","embedding":[1,0]},{"id":"a","embedding":[0,1]}]}`,
		"mixed dims":      `{"version":1,"records":[{"id":"a","embedding":[1,0]},{"id":"b","embedding":[1]}]}`,
		"missing vectors": `{"version":1,"records":[{"id":"a","text":"x"}]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "memories.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			s := file.New(path, newEmbedder())
			err := s.Load(ctx)
			assert.ErrorIs(t, err, core.ErrCorruptSnapshot)
			assert.Zero(t, s.Len())

			_, err = s.Add(ctx, "north")
			assert.NoError(t, err, "store stays usable after a failed load")
		})
	}
}

// flakyIndex fails the upsert after `ok` successful ones.
type flakyIndex struct {
	memory.Index
	mu sync.Mutex
	ok int
}

func (f *flakyIndex) Upsert(ctx context.Context, rec memory.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ok == 0 {
		return errors.New("index full")
	}
	f.ok--
	return f.Index.Upsert(ctx, rec)
}

func TestStore_LoadIndexFailureLeavesEmptyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.json")
	emb := newEmbedder()

	s := file.New(path, emb)
	_, err := s.Add(ctx, "north")
	require.NoError(t, err)
	_, err = s.Add(ctx, "east")
	require.NoError(t, err)

	inner, err := chromem.New(nil)
	require.NoError(t, err)
	idx := &flakyIndex{Index: inner, ok: 1}
	reopened := file.New(path, emb, file.WithIndex(idx))
	require.Error(t, reopened.Load(ctx))
	assert.Zero(t, reopened.Len())

	list, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	results, err := reopened.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results, "nothing half-loaded is served")

	idx.ok = 10
	id, err := reopened.Add(ctx, "south")
	require.NoError(t, err)
	results, err = reopened.Search(ctx, []float32{0, -1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)
}

func TestStore_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	idx, err := chromem.New(nil)
	require.NoError(t, err)
	s := file.New(filepath.Join(blocker, "memories.json"), newEmbedder(), file.WithIndex(idx))

	_, err = s.Add(ctx, "north")
	require.Error(t, err)
	assert.Zero(t, s.Len())

	results, err := s.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := file.New(filepath.Join(t.TempDir(), "memories.json"), newEmbedder())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "north")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Search(ctx, []float32{0, 1}, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}
