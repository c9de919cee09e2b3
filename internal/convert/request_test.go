package convert

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/openai"
)

func testConverter(t *testing.T, mutate func(*config.Profile)) *Converter {
	t.Helper()

	profile := config.DefaultProfile()
	if mutate != nil {
		mutate(&profile)
	}

	return New(profile, nil)
}

func decodeRequest(t *testing.T, raw string) *anthropic.MessagesRequest {
	t.Helper()

	var req anthropic.MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	return &req
}

func TestToChatRequest_SystemAndText(t *testing.T) {
	conv := testConverter(t, nil)

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"system": "You are terse.",
		"messages": [{"role": "user", "content": "2+2?"}]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", out.Model)
	assert.Equal(t, 100, out.MaxTokens)

	require.Len(t, out.Messages, 2)
	assert.Equal(t, openai.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "You are terse.", out.Messages[0].Content)
	assert.Equal(t, openai.RoleUser, out.Messages[1].Role)
	assert.Equal(t, "2+2?", out.Messages[1].Content)
}

func TestToChatRequest_SystemTopLevel(t *testing.T) {
	conv := testConverter(t, func(p *config.Profile) { p.SystemInMessages = false })

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"system": "You are terse.",
		"messages": [{"role": "user", "content": "2+2?"}]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)

	assert.Equal(t, "You are terse.", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, openai.RoleUser, out.Messages[0].Role)
}

func TestToChatRequest_ToolUseAndResult(t *testing.T) {
	conv := testConverter(t, nil)

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": "weather in Oslo?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_abc", "name": "get_weather", "input": {"city": "Oslo"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_abc", "content": "rainy"},
				{"type": "text", "text": "so?"}
			]}
		]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)
	require.Len(t, out.Messages, 4)

	asst := out.Messages[1]
	assert.Equal(t, openai.RoleAssistant, asst.Role)
	assert.Equal(t, "Checking.", asst.Content)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_abc", asst.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", asst.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city": "Oslo"}`, asst.ToolCalls[0].Function.Arguments)

	toolMsg := out.Messages[2]
	assert.Equal(t, openai.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_abc", toolMsg.ToolCallID)
	assert.Equal(t, "rainy", toolMsg.Content)

	userMsg := out.Messages[3]
	assert.Equal(t, openai.RoleUser, userMsg.Role)
	assert.Equal(t, "so?", userMsg.Content)
}

func TestToChatRequest_FlattenToolContent(t *testing.T) {
	conv := testConverter(t, func(p *config.Profile) { p.FlattenToolContent = true })

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_abc", "content": "rainy"},
				{"type": "text", "text": "so?"}
			]}
		]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	assert.Equal(t, openai.RoleUser, out.Messages[0].Role)
	content := out.Messages[0].Content.(string)
	assert.Contains(t, content, "call_abc")
	assert.Contains(t, content, "rainy")
	assert.Contains(t, content, "so?")
}

func TestToChatRequest_MaxTokensCapAndRename(t *testing.T) {
	conv := testConverter(t, func(p *config.Profile) {
		p.MaxTokensCap = 16384
		p.UseMaxCompletionTokens = true
	})

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 64000,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := conv.ToChatRequest(req, "o4-mini")
	require.NoError(t, err)

	assert.Equal(t, 0, out.MaxTokens)
	assert.Equal(t, 16384, out.MaxCompletionTokens)
}

func TestToChatRequest_TopK(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"top_k": 40,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	drop := testConverter(t, nil)
	out, err := drop.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)
	assert.NotNil(t, out)

	strict := testConverter(t, func(p *config.Profile) { p.DropUnsupportedParams = false })
	_, err = strict.ToChatRequest(req, "gpt-4.1")
	require.Error(t, err)

	var unsupported *UnsupportedParameterError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "top_k", unsupported.Parameter)
}

func TestToChatRequest_ToolsAndToolChoice(t *testing.T) {
	conv := testConverter(t, nil)

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"tools": [{
			"name": "get_weather",
			"description": "Weather lookup",
			"input_schema": {"type": "object", "additionalProperties": false, "properties": {"city": {"type": "string"}}}
		}],
		"tool_choice": {"type": "tool", "name": "get_weather"},
		"messages": [{"role": "user", "content": "weather in Oslo?"}]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Function.Name)
	assert.NotContains(t, out.Tools[0].Function.Parameters, "additionalProperties")

	forced, ok := out.ToolChoice.(openai.ForcedTool)
	require.True(t, ok)
	assert.Equal(t, "get_weather", forced.Function.Name)
}

func TestToChatRequest_ToolChoiceVariants(t *testing.T) {
	conv := testConverter(t, nil)

	tests := []struct {
		choice   string
		expected any
	}{
		{"any", "required"},
		{"auto", "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.choice, func(t *testing.T) {
			req := decodeRequest(t, fmt.Sprintf(`{
				"model": "claude-sonnet-4",
				"max_tokens": 100,
				"tools": [{"name": "f", "input_schema": {"type": "object"}}],
				"tool_choice": {"type": %q},
				"messages": [{"role": "user", "content": "hi"}]
			}`, tt.choice))

			out, err := conv.ToChatRequest(req, "gpt-4.1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.ToolChoice)
		})
	}
}

func TestToChatRequest_StreamOptions(t *testing.T) {
	conv := testConverter(t, nil)

	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := conv.ToChatRequest(req, "gpt-4.1")
	require.NoError(t, err)

	assert.True(t, out.Stream)
	require.NotNil(t, out.StreamOptions)
	assert.True(t, out.StreamOptions.IncludeUsage)
}

func TestToChatRequest_ImageHandling(t *testing.T) {
	raw := `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this?"},
			{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "aGk="}}
		]}]
	}`

	vision := testConverter(t, func(p *config.Profile) { p.SupportsVision = true })
	out, err := vision.ToChatRequest(decodeRequest(t, raw), "gpt-4.1")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	parts, ok := out.Messages[0].Content.([]openai.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "data:image/png;base64,aGk=", parts[1].ImageURL.URL)

	blind := testConverter(t, nil)
	out, err = blind.ToChatRequest(decodeRequest(t, raw), "gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "what is this?", out.Messages[0].Content)
}
