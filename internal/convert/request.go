// Package convert translates between the Anthropic Messages wire format and
// the chat-completions format spoken by the configured backends, in both
// directions and for both buffered and streamed responses.
package convert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/openai"
)

// Converter holds the immutable backend profile for one provider. A single
// Converter is shared across requests; it keeps no per-request state.
type Converter struct {
	profile config.Profile
	logger  *slog.Logger
}

// New builds a Converter for the given backend profile.
func New(profile config.Profile, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Converter{profile: profile, logger: logger}
}

// ToChatRequest maps an Anthropic-shaped request onto the chat-completions
// shape, with model already resolved by the router.
func (c *Converter) ToChatRequest(req *anthropic.MessagesRequest, model string) (*openai.ChatRequest, error) {
	out := &openai.ChatRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if req.TopK != nil {
		if !c.profile.DropUnsupportedParams {
			return nil, &UnsupportedParameterError{Parameter: "top_k"}
		}
		c.logger.Debug("dropping unsupported parameter", "parameter", "top_k")
	}

	maxTokens := req.MaxTokens
	if c.profile.MaxTokensCap > 0 && maxTokens > c.profile.MaxTokensCap {
		c.logger.Debug("capping max_tokens", "requested", maxTokens, "cap", c.profile.MaxTokensCap)
		maxTokens = c.profile.MaxTokensCap
	}

	if c.profile.UseMaxCompletionTokens {
		out.MaxCompletionTokens = maxTokens
	} else {
		out.MaxTokens = maxTokens
	}

	if !req.System.IsEmpty() {
		if c.profile.SystemInMessages {
			out.Messages = append(out.Messages, openai.ChatMessage{
				Role:    openai.RoleSystem,
				Content: req.System.Text(),
			})
		} else {
			out.System = req.System.Text()
		}
	}

	for i, msg := range req.Messages {
		converted, err := c.convertMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  SanitizeSchema(tool.InputSchema, c.profile),
			},
		})
	}

	if req.ToolChoice != nil && len(out.Tools) > 0 {
		out.ToolChoice = c.convertToolChoice(req.ToolChoice, out.Tools)
	}

	if req.Stream && c.profile.StreamUsage {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out, nil
}

// convertMessage flattens one Anthropic message into one or more chat
// messages. Tool results expand into dedicated tool-role messages that must
// precede any sibling user text.
func (c *Converter) convertMessage(msg anthropic.Message) ([]openai.ChatMessage, error) {
	switch msg.Role {
	case anthropic.RoleAssistant:
		return c.convertAssistantMessage(msg)
	case anthropic.RoleUser:
		return c.convertUserMessage(msg)
	default:
		return nil, fmt.Errorf("unexpected role %q", msg.Role)
	}
}

func (c *Converter) convertAssistantMessage(msg anthropic.Message) ([]openai.ChatMessage, error) {
	out := openai.ChatMessage{Role: openai.RoleAssistant}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case anthropic.BlockTypeText:
			text.WriteString(block.Text)
		case anthropic.BlockTypeToolUse:
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %q: %w", block.ID, err)
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   ToCallID(block.ID),
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		default:
			return nil, fmt.Errorf("block type %q not valid in assistant message", block.Type)
		}
	}

	if text.Len() > 0 {
		out.Content = text.String()
	}

	return []openai.ChatMessage{out}, nil
}

func (c *Converter) convertUserMessage(msg anthropic.Message) ([]openai.ChatMessage, error) {
	var toolMsgs []openai.ChatMessage
	var parts []openai.ContentPart
	var text strings.Builder
	hasImage := false

	for _, block := range msg.Content {
		switch block.Type {
		case anthropic.BlockTypeText:
			text.WriteString(block.Text)
			parts = append(parts, openai.ContentPart{Type: "text", Text: block.Text})
		case anthropic.BlockTypeToolResult:
			content := anthropic.ToolResultText(block.Content)
			if block.IsError {
				content = "Error: " + content
			}
			toolMsgs = append(toolMsgs, openai.ChatMessage{
				Role:       openai.RoleTool,
				Content:    content,
				ToolCallID: ToCallID(block.ToolUseID),
			})
		case anthropic.BlockTypeImage:
			if !c.profile.SupportsVision {
				if !c.profile.DropUnsupportedParams {
					return nil, &UnsupportedParameterError{Parameter: "image content"}
				}
				c.logger.Debug("dropping image block for non-vision backend")
				continue
			}
			hasImage = true
			parts = append(parts, openai.ContentPart{
				Type:     "image_url",
				ImageURL: &openai.ImageURL{URL: imageDataURL(block.Source)},
			})
		default:
			return nil, fmt.Errorf("block type %q not valid in user message", block.Type)
		}
	}

	if c.profile.FlattenToolContent && len(toolMsgs) > 0 {
		// Some backends reject tool messages; fold the results into user text.
		var b strings.Builder
		for _, tm := range toolMsgs {
			fmt.Fprintf(&b, "Tool result for %s:\n%s\n\n", tm.ToolCallID, tm.TextContent())
		}
		b.WriteString(text.String())
		return []openai.ChatMessage{{Role: openai.RoleUser, Content: strings.TrimSpace(b.String())}}, nil
	}

	out := toolMsgs
	if hasImage {
		out = append(out, openai.ChatMessage{Role: openai.RoleUser, Content: parts})
	} else if text.Len() > 0 {
		out = append(out, openai.ChatMessage{Role: openai.RoleUser, Content: text.String()})
	}

	return out, nil
}

// convertToolChoice maps the tool_choice variants. A forced named tool wins
// over auto when both are expressible; a forced tool whose sanitized schema
// came back empty falls back per the profile policy.
func (c *Converter) convertToolChoice(tc *anthropic.ToolChoice, tools []openai.Tool) any {
	switch tc.Type {
	case "any":
		return "required"
	case "tool":
		for _, tool := range tools {
			if tool.Function.Name != tc.Name {
				continue
			}
			if len(tool.Function.Parameters) == 0 && c.profile.ForcedToolFallback == "auto" {
				c.logger.Warn("forced tool schema sanitized away, falling back to auto", "tool", tc.Name)
				return "auto"
			}
			return openai.ForcedTool{
				Type:     "function",
				Function: openai.ForcedFunction{Name: tc.Name},
			}
		}
		c.logger.Warn("forced tool not found in request tools", "tool", tc.Name)
		return "auto"
	default:
		return "auto"
	}
}

// imageDataURL rebuilds a data URL from a base64 image source. URL sources
// pass through as-is.
func imageDataURL(source map[string]any) string {
	srcType, _ := source["type"].(string)
	if srcType == "url" {
		u, _ := source["url"].(string)
		return u
	}

	mediaType, _ := source["media_type"].(string)
	data, _ := source["data"].(string)

	return fmt.Sprintf("data:%s;base64,%s", mediaType, data)
}

// ToCallID converts an Anthropic tool identifier to the call_ form.
func ToCallID(id string) string {
	if after, ok := strings.CutPrefix(id, "toolu_"); ok {
		return "call_" + after
	}
	return id
}

// ToToolUseID converts a backend call identifier to the toolu_ form.
func ToToolUseID(id string) string {
	if after, ok := strings.CutPrefix(id, "call_"); ok {
		return "toolu_" + after
	}
	return id
}
