package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/mock"
	"github.com/becomeliminal/nim-recall/memory/store/file"
)

func recallBlocks(conv *core.Conversation) []core.Message {
	var out []core.Message
	for _, m := range conv.Messages() {
		if m.Kind == core.KindRecall {
			out = append(out, m)
		}
	}
	return out
}

func TestRecaller_SingleLiveBlock(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(1024)
	store := file.New("", emb)
	for _, text := range []string{"user lives in Paris", "user owns a cat named Miso", "user likes jazz"} {
		_, err := store.Add(ctx, text)
		require.NoError(t, err)
	}
	recaller := memory.NewRecaller(memory.NewRetriever(store, emb, memory.WithLimit(2)), nil)

	conv := core.NewConversation("s1")
	conv.Append(core.NewPinnedMessage(core.RoleSystem, "You are helpful."))

	n, err := recaller.Recall(ctx, conv, "where does the user live")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	conv.Append(core.NewMessage(core.RoleUser, "where does the user live"))
	conv.Append(core.NewMessage(core.RoleAssistant, "Paris."))

	n, err = recaller.Recall(ctx, conv, "what pet does the user have")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	blocks := recallBlocks(conv)
	require.Len(t, blocks, 1)
	block := blocks[0]
	assert.True(t, block.Injected)
	assert.Equal(t, core.RoleSystem, block.Role)
	assert.True(t, strings.HasPrefix(block.Content, memory.RecallHeader))
	assert.Contains(t, block.Content, "1. ")

	msgs := conv.Messages()
	assert.Equal(t, block.ID, msgs[len(msgs)-1].ID, "new block is appended last")
	assert.Equal(t, 4, conv.Len())
}

func TestRecaller_NothingToInject(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(64)
	recaller := memory.NewRecaller(memory.NewRetriever(file.New("", emb), emb), nil)
	conv := core.NewConversation("s1")

	n, err := recaller.Recall(ctx, conv, "anything")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, conv.Len())

	n, err = recaller.Recall(ctx, conv, "   ")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecaller_EmbeddingFailureKeepsConversation(t *testing.T) {
	ctx := context.Background()
	emb := colorEmbedder()
	store := file.New("", emb)
	_, err := store.Add(ctx, "likes blue")
	require.NoError(t, err)
	recaller := memory.NewRecaller(memory.NewRetriever(store, emb), nil)

	conv := core.NewConversation("s1")
	conv.Append(core.NewInjectedMessage(core.KindRecall, memory.RecallHeader+"\n1. likes blue"))

	_, err = recaller.Recall(ctx, conv, "not in the table")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	assert.Len(t, recallBlocks(conv), 1, "previous block is left alone on failure")
}

func TestFormatRecall(t *testing.T) {
	got := memory.FormatRecall([]memory.Result{
		{Record: memory.Record{Text: "user lives in Paris"}},
		{Record: memory.Record{Text: "user likes jazz"}},
	})
	assert.Equal(t, memory.RecallHeader+"\n1. user lives in Paris\n2. user likes jazz", got)
}
