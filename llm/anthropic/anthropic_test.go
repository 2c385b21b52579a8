package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/llm"
)

func TestBuildParams(t *testing.T) {
	g := New(Config{APIKey: "test", Model: "claude-test", MaxTokens: 512})

	params := g.buildParams(&llm.Request{
		System: "you are helpful",
		Messages: []core.Message{
			core.NewPinnedMessage(core.RoleSystem, "remember things"),
			core.NewInjectedMessage(core.KindRecall, "user likes green"),
			core.NewMessage(core.RoleUser, "what color?"),
			core.NewMessage(core.RoleAssistant, ""),
		},
		Tools: []llm.ToolDefinition{{
			Name:        "record",
			Description: "record ops",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
				"required":   []string{"x"},
			},
		}},
		ToolChoice: "record",
	})

	assert.Equal(t, int64(512), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "you are helpful\n\nremember things", params.System[0].Text)
	assert.Len(t, params.Messages, 2, "pinned system folds into system, empty content is dropped")
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "record", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"x"}, params.Tools[0].OfTool.InputSchema.Required)
	require.NotNil(t, params.ToolChoice.OfTool)
	assert.Equal(t, "record", params.ToolChoice.OfTool.Name)
}

func TestBuildParams_Defaults(t *testing.T) {
	g := New(Config{APIKey: "test"})
	params := g.buildParams(&llm.Request{Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")}})

	assert.Equal(t, int64(DefaultMaxTokens), params.MaxTokens)
	assert.Empty(t, params.System)
	assert.Empty(t, params.Tools)
	assert.Nil(t, params.ToolChoice.OfTool)
}
