package anthropic

import (
	"encoding/json"
	"fmt"
)

// Stream event names, matching the Messages API streaming protocol.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"

	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// StreamEvent is one outbound streaming event. Exactly the fields the event
// type requires are set; everything else stays omitted on the wire.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock any               `json:"content_block,omitempty"`
	Delta        any               `json:"delta,omitempty"`
	Usage        *DeltaUsage       `json:"usage,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
}

// TextStartBlock opens a text content block; the empty text field is part of
// the wire format.
type TextStartBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolUseStartBlock opens a tool_use content block with an empty input object.
type ToolUseStartBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// TextDelta is the delta payload for streamed text.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InputJSONDelta carries a partial JSON fragment of tool-call arguments. The
// fragment is forwarded as received, never parsed.
type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

// MessageDelta is the delta payload of the final message_delta event.
// StopSequence serializes as null when absent, per the protocol.
type MessageDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// DeltaUsage is the usage snapshot attached to message_delta.
type DeltaUsage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens"`
}

// SSE renders the event in wire format: named event line, JSON data line,
// blank-line terminator.
func (e StreamEvent) SSE() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal event\"}}\n\n")
	}

	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", e.Type, data)
}

func NewMessageStartEvent(messageID, model string, usage *Usage) StreamEvent {
	if usage == nil {
		usage = &Usage{}
	}

	return StreamEvent{
		Type: EventMessageStart,
		Message: &MessagesResponse{
			ID:      messageID,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   model,
			Content: []ContentBlock{},
			Usage:   usage,
		},
	}
}

func NewTextBlockStartEvent(index int) StreamEvent {
	return StreamEvent{
		Type:         EventContentBlockStart,
		Index:        &index,
		ContentBlock: TextStartBlock{Type: BlockTypeText, Text: ""},
	}
}

func NewToolUseBlockStartEvent(index int, id, name string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockStart,
		Index: &index,
		ContentBlock: ToolUseStartBlock{
			Type:  BlockTypeToolUse,
			ID:    id,
			Name:  name,
			Input: map[string]any{},
		},
	}
}

func NewTextDeltaEvent(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: TextDelta{Type: DeltaTypeText, Text: text},
	}
}

func NewInputJSONDeltaEvent(index int, partial string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: InputJSONDelta{Type: DeltaTypeInputJSON, PartialJSON: partial},
	}
}

func NewContentBlockStopEvent(index int) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockStop,
		Index: &index,
	}
}

func NewMessageDeltaEvent(stopReason string, usage *DeltaUsage) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: MessageDelta{StopReason: &stopReason},
		Usage: usage,
	}
}

func NewMessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

func NewPingEvent() StreamEvent {
	return StreamEvent{Type: EventPing}
}

func NewErrorEvent(errType, message string) StreamEvent {
	return StreamEvent{
		Type:  EventError,
		Error: &ErrorDetail{Type: errType, Message: message},
	}
}
