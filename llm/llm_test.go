package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/nim-recall/core"
)

func TestSplitSystem(t *testing.T) {
	msgs := []core.Message{
		core.NewPinnedMessage(core.RoleSystem, "be brief"),
		core.NewInjectedMessage(core.KindRecall, "=== RELEVANT MEMORIES ==="),
		core.NewMessage(core.RoleUser, "hi"),
	}

	system, rest := SplitSystem("base", msgs)
	assert.Equal(t, "base\n\nbe brief", system)
	assert.Len(t, rest, 2)
	assert.Equal(t, core.KindRecall, rest[0].Kind)
	assert.Equal(t, "hi", rest[1].Content)
}

func TestResponse_FindToolCall(t *testing.T) {
	resp := &Response{ToolCalls: []ToolCall{{Name: "a"}, {Name: "b", ID: "2"}}}

	tc, ok := resp.FindToolCall("b")
	assert.True(t, ok)
	assert.Equal(t, "2", tc.ID)

	_, ok = resp.FindToolCall("c")
	assert.False(t, ok)
}
