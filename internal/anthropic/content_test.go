package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContent_BareString(t *testing.T) {
	blocks, err := ParseContent([]byte(`"hello world"`))
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	assert.Equal(t, BlockTypeText, blocks[0].Type)
	assert.Equal(t, "hello world", blocks[0].Text)
}

func TestParseContent_BlockList(t *testing.T) {
	raw := `[
		{"type": "text", "text": "look at this"},
		{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"city": "Oslo"}},
		{"type": "tool_result", "tool_use_id": "toolu_01", "content": "rainy"},
		{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "aGk="}}
	]`

	blocks, err := ParseContent([]byte(raw))
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	assert.Equal(t, BlockTypeText, blocks[0].Type)
	assert.Equal(t, "look at this", blocks[0].Text)

	assert.Equal(t, BlockTypeToolUse, blocks[1].Type)
	assert.Equal(t, "toolu_01", blocks[1].ID)
	assert.Equal(t, "get_weather", blocks[1].Name)
	assert.Equal(t, map[string]any{"city": "Oslo"}, blocks[1].Input)

	assert.Equal(t, BlockTypeToolResult, blocks[2].Type)
	assert.Equal(t, "toolu_01", blocks[2].ToolUseID)

	assert.Equal(t, BlockTypeImage, blocks[3].Type)
	assert.Equal(t, "image/png", blocks[3].Source["media_type"])
}

func TestParseContent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown block type", `[{"type": "thinking", "thinking": "hmm"}]`},
		{"text without text field", `[{"type": "text"}]`},
		{"tool_use without id", `[{"type": "tool_use", "name": "f", "input": {}}]`},
		{"tool_use without name", `[{"type": "tool_use", "id": "toolu_01", "input": {}}]`},
		{"tool_result without tool_use_id", `[{"type": "tool_result", "content": "x"}]`},
		{"image without source", `[{"type": "image"}]`},
		{"missing type tag", `[{"text": "hi"}]`},
		{"number instead of block", `[42]`},
		{"object instead of list", `{"type": "text", "text": "hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseContent([]byte(tt.raw))
			require.Error(t, err)

			var malformed *MalformedContentError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestParseContent_ErrorIdentifiesBlock(t *testing.T) {
	raw := `[{"type": "text", "text": "fine"}, {"type": "tool_use", "name": "f"}]`

	_, err := ParseContent([]byte(raw))
	require.Error(t, err)

	var malformed *MalformedContentError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 1, malformed.Index)
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain string", `"it worked"`, "it worked"},
		{"text block list", `[{"type": "text", "text": "a"}, {"type": "text", "text": "b"}]`, "a\nb"},
		{"structured payload", `{"rows": 3}`, `{"rows": 3}`},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToolResultText(json.RawMessage(tt.raw)))
		})
	}
}

func TestSystemPrompt_Unmarshal(t *testing.T) {
	var s SystemPrompt
	require.NoError(t, json.Unmarshal([]byte(`"You are terse."`), &s))
	assert.Equal(t, "You are terse.", s.Text())

	var blocks SystemPrompt
	raw := `[{"type": "text", "text": "You are terse."}, {"type": "text", "text": "Answer in English."}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &blocks))
	assert.Equal(t, "You are terse.\n\nAnswer in English.", blocks.Text())

	var empty SystemPrompt
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsEmpty())
}

func TestMessage_ContentUnmarshal(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role": "user", "content": "2+2?"}`), &msg))

	assert.Equal(t, RoleUser, msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "2+2?", msg.Content[0].Text)
}
