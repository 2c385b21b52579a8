package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/memory/embedder/cache"
)

type countingEmbedder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }

func TestEmbedder_CachesByText(t *testing.T) {
	next := &countingEmbedder{}
	e, err := cache.New(next, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	first, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	e.Wait()

	second, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, next.calls.Load())

	_, err = e.Embed(ctx, "other")
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
	assert.Equal(t, 2, e.Dimensions())
}

func TestEmbedder_ReturnsCopies(t *testing.T) {
	e, err := cache.New(&countingEmbedder{}, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	v, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	e.Wait()
	v[0] = 42

	again, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(5), again[0])
}

func TestEmbedder_ErrorsAreNotCached(t *testing.T) {
	next := &countingEmbedder{err: errors.New("down")}
	e, err := cache.New(next, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	_, err = e.Embed(ctx, "hello")
	require.Error(t, err)
	e.Wait()

	next.err = nil
	_, err = e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestEmbedder_CollapsesConcurrentMisses(t *testing.T) {
	next := &countingEmbedder{delay: 50 * time.Millisecond}
	e, err := cache.New(next, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, next.calls.Load())
}
