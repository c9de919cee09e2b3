package anthropic

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"

	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
)

// MessagesRequest is the inbound request body of POST /v1/messages.
type MessagesRequest struct {
	Model         string         `json:"model" validate:"required"`
	MaxTokens     int            `json:"max_tokens" validate:"required,gt=0"`
	Messages      []Message      `json:"messages" validate:"required,min=1,dive"`
	System        SystemPrompt   `json:"system,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
}

// Message is one conversation turn. Content accepts both a bare string and a
// list of typed blocks on the wire; after decoding it is always a block list.
type Message struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant"`
	Content Content `json:"content"`
}

// Content is the canonical block sequence a message carries.
type Content []ContentBlock

func (c *Content) UnmarshalJSON(data []byte) error {
	blocks, err := ParseContent(data)
	if err != nil {
		return err
	}

	*c = blocks

	return nil
}

// ContentBlock is the tagged union over text, image, tool_use and tool_result
// blocks. Which fields are populated depends on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result; Content is kept raw to preserve the payload byte-for-byte
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source map[string]any `json:"source,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// SystemPrompt accepts either a plain string or a list of text blocks.
type SystemPrompt struct {
	parts []string
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		s.parts = nil
		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}

		s.parts = []string{text}

		return nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}

	s.parts = nil
	for _, b := range blocks {
		if b.Type == BlockTypeText && b.Text != "" {
			s.parts = append(s.parts, b.Text)
		}
	}

	return nil
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.IsEmpty() {
		return []byte("null"), nil
	}

	return json.Marshal(s.Text())
}

func (s SystemPrompt) IsEmpty() bool {
	return len(s.parts) == 0
}

// Text joins all system text blocks, matching how multi-block system prompts
// collapse into a single system message.
func (s SystemPrompt) Text() string {
	return strings.Join(s.parts, "\n\n")
}

// NewSystemPrompt builds a prompt from plain text, for tests and defaults.
func NewSystemPrompt(text string) SystemPrompt {
	if text == "" {
		return SystemPrompt{}
	}

	return SystemPrompt{parts: []string{text}}
}

// Tool is a client-supplied tool definition. InputSchema is never mutated;
// converters derive sanitized copies.
type Tool struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoice selects how the backend may use tools: auto, any, or a single
// forced tool by name.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Usage carries token accounting in Anthropic's field names.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the non-streaming response body of POST /v1/messages.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// TokenCountRequest is the body of POST /v1/messages/count_tokens.
type TokenCountRequest struct {
	Model      string       `json:"model" validate:"required"`
	Messages   []Message    `json:"messages" validate:"required,min=1,dive"`
	System     SystemPrompt `json:"system,omitempty"`
	Tools      []Tool       `json:"tools,omitempty"`
	ToolChoice *ToolChoice  `json:"tool_choice,omitempty"`
}

type TokenCountResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ErrorDetail is the inner error object of Anthropic's error envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the wire shape Anthropic clients expect for failures.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// NewErrorResponse builds a client-facing error envelope.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}
