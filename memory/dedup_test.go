package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/store/file"
)

func colorEmbedder() *staticEmbedder {
	return newStaticEmbedder(map[string][]float32{
		"likes blue":  {1, 0},
		"likes green": {0.9, 0.4358899}, // similarity 0.9 to blue
		"likes teal":  {0.8, 0.6},       // 0.8 to blue
		"in paris":    {0, 1},
	})
}

func TestMergePolicy_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		second    string
		wantLen   int
		wantText  string
		wantMerge bool
	}{
		{"above threshold merges", "likes green", 1, "likes green", true},
		{"below threshold adds", "likes teal", 2, "", false},
		{"unrelated adds", "in paris", 2, "", false},
		{"identical merges", "likes blue", 1, "likes blue", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			emb := colorEmbedder()
			store := file.New("", emb)
			policy := memory.NewMergePolicy(store, emb, 0.85, memory.MergeReplace, nil)

			first, err := policy.Apply(ctx, "likes blue")
			require.NoError(t, err)
			assert.Equal(t, memory.ActionAdded, first.Action)

			second, err := policy.Apply(ctx, tt.second)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, store.Len())

			if tt.wantMerge {
				assert.Equal(t, memory.ActionMerged, second.Action)
				assert.Equal(t, first.ID, second.ID)
				assert.GreaterOrEqual(t, second.Similarity, policy.Threshold())

				rec, err := store.Get(ctx, first.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.wantText, rec.Text)
				assert.True(t, rec.UpdatedAt.After(rec.CreatedAt) || rec.UpdatedAt.Equal(rec.CreatedAt))
			} else {
				assert.Equal(t, memory.ActionAdded, second.Action)
				assert.NotEqual(t, first.ID, second.ID)
				assert.Less(t, second.Similarity, policy.Threshold())
			}
		})
	}
}

func TestMergePolicy_Concatenate(t *testing.T) {
	ctx := context.Background()
	emb := colorEmbedder()
	store := file.New("", emb)
	policy := memory.NewMergePolicy(store, emb, 0.85, memory.MergeConcatenate, nil)

	first, err := policy.Apply(ctx, "likes blue")
	require.NoError(t, err)
	_, err = policy.Apply(ctx, "likes green")
	require.NoError(t, err)

	rec, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "likes blue; likes green", rec.Text)
	assert.Equal(t, 1, store.Len())
}

func TestMergePolicy_Defaults(t *testing.T) {
	p := memory.NewMergePolicy(nil, nil, 0, "", nil)
	assert.Equal(t, memory.DefaultMergeThreshold, p.Threshold())
}

func TestMergePolicy_EmptyText(t *testing.T) {
	emb := colorEmbedder()
	p := memory.NewMergePolicy(file.New("", emb), emb, 0.85, memory.MergeReplace, nil)

	_, err := p.Apply(context.Background(), "   ")
	assert.Error(t, err)
	assert.Zero(t, emb.calls)
}
