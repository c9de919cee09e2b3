package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MalformedContentError reports a content block that could not be recognized:
// an unknown type tag, a missing required field, or JSON that is neither a
// string nor a block list.
type MalformedContentError struct {
	Index  int // position of the offending block; -1 when the whole value is bad
	Reason string
}

func (e *MalformedContentError) Error() string {
	if e.Index < 0 {
		return "malformed content: " + e.Reason
	}

	return fmt.Sprintf("malformed content block %d: %s", e.Index, e.Reason)
}

// ParseContent normalizes the polymorphic message content value into a block
// sequence. A bare JSON string becomes a single text block; a JSON array is
// decoded block by block. It is a pure function of its input.
func ParseContent(raw json.RawMessage) ([]ContentBlock, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, &MalformedContentError{Index: -1, Reason: "content is empty"}
	}

	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, &MalformedContentError{Index: -1, Reason: "invalid string content: " + err.Error()}
		}

		return []ContentBlock{TextBlock(text)}, nil
	}

	if !strings.HasPrefix(trimmed, "[") {
		return nil, &MalformedContentError{Index: -1, Reason: "content must be a string or an array of blocks"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedContentError{Index: -1, Reason: "invalid content array: " + err.Error()}
	}

	blocks := make([]ContentBlock, 0, len(items))

	for i, item := range items {
		block, err := parseBlock(i, item)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

func parseBlock(index int, raw json.RawMessage) (ContentBlock, error) {
	// Decode twice: once into the struct, once into a key set so missing
	// required fields can be told apart from present-but-empty ones.
	var block ContentBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return ContentBlock{}, &MalformedContentError{Index: index, Reason: "invalid block: " + err.Error()}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ContentBlock{}, &MalformedContentError{Index: index, Reason: "block is not an object"}
	}

	if _, ok := fields["type"]; !ok {
		return ContentBlock{}, &MalformedContentError{Index: index, Reason: "block has no type tag"}
	}

	switch block.Type {
	case BlockTypeText:
		if _, ok := fields["text"]; !ok {
			return ContentBlock{}, &MalformedContentError{Index: index, Reason: "text block missing text field"}
		}
	case BlockTypeToolUse:
		if block.ID == "" {
			return ContentBlock{}, &MalformedContentError{Index: index, Reason: "tool_use block missing id"}
		}
		if block.Name == "" {
			return ContentBlock{}, &MalformedContentError{Index: index, Reason: "tool_use block missing name"}
		}
	case BlockTypeToolResult:
		if block.ToolUseID == "" {
			return ContentBlock{}, &MalformedContentError{Index: index, Reason: "tool_result block missing tool_use_id"}
		}
	case BlockTypeImage:
		if len(block.Source) == 0 {
			return ContentBlock{}, &MalformedContentError{Index: index, Reason: "image block missing source"}
		}
	default:
		return ContentBlock{}, &MalformedContentError{Index: index, Reason: "unrecognized block type " + quoted(block.Type)}
	}

	return block, nil
}

func quoted(s string) string {
	if s == "" {
		return "(empty)"
	}

	return fmt.Sprintf("%q", s)
}

// ToolResultText flattens a tool_result payload to plain text. The payload may
// be a string, a list of text blocks, a single object, or arbitrary JSON;
// anything that is not text is re-serialized.
func ToolResultText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text
		}

		return trimmed
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return trimmed
		}

		var sb strings.Builder
		for _, item := range items {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(itemText(item))
		}

		return sb.String()
	}

	return itemText(raw)
}

func itemText(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Scalars pass through as their JSON representation.
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text
		}

		return strings.TrimSpace(string(raw))
	}

	if textRaw, ok := obj["text"]; ok {
		var text string
		if err := json.Unmarshal(textRaw, &text); err == nil {
			return text
		}
	}

	return strings.TrimSpace(string(raw))
}
