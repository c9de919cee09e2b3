package convert

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/openai"
)

// ToMessagesResponse maps a completed chat response back into Anthropic's
// message shape for the non-streaming path.
func (c *Converter) ToMessagesResponse(resp *openai.ChatResponse, clientModel string) (*anthropic.MessagesResponse, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("backend error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, &IncompleteResponseError{Reason: "no choices"}
	}

	choice := resp.Choices[0]
	if choice.Message == nil {
		return nil, &IncompleteResponseError{Reason: "choice has no message"}
	}

	out := &anthropic.MessagesResponse{
		ID:    responseID(resp.ID),
		Type:  "message",
		Role:  anthropic.RoleAssistant,
		Model: clientModel,
	}

	if text := choice.Message.TextContent(); text != "" {
		out.Content = append(out.Content, anthropic.TextBlock(text))
	}

	for pos, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type:  anthropic.BlockTypeToolUse,
			ID:    toolUseID(call.ID, resp.ID, pos),
			Name:  call.Function.Name,
			Input: parseToolArguments(call.Function.Arguments),
		})
	}

	finishReason := ""
	if choice.FinishReason != nil {
		finishReason = *choice.FinishReason
	}

	// Clients expect at least one block even for empty completions.
	if len(out.Content) == 0 {
		if finishReason == "" {
			return nil, &IncompleteResponseError{Reason: "empty completion without finish reason"}
		}
		out.Content = []anthropic.ContentBlock{anthropic.TextBlock("")}
	}

	stop := c.StopReason(finishReason, len(choice.Message.ToolCalls) > 0)
	out.StopReason = &stop

	if resp.Usage != nil {
		out.Usage = &anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// StopReason maps a backend finish reason onto Anthropic's stop_reason
// vocabulary. Profile overrides win; unrecognized reasons default to
// end_turn.
func (c *Converter) StopReason(finishReason string, hasToolCalls bool) string {
	if mapped, ok := c.profile.FinishReasons[finishReason]; ok {
		return mapped
	}

	switch finishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return anthropic.StopReasonToolUse
	case openai.FinishReasonLength:
		return anthropic.StopReasonMaxTokens
	case openai.FinishReasonStop:
		if hasToolCalls {
			return anthropic.StopReasonToolUse
		}
		return anthropic.StopReasonEndTurn
	default:
		return anthropic.StopReasonEndTurn
	}
}

// TranslateError converts a backend error payload into the Anthropic error
// envelope, preserving the backend's message verbatim.
func TranslateError(status int, backendErr *openai.Error) *anthropic.ErrorResponse {
	errType := "api_error"
	switch {
	case status == 401:
		errType = "authentication_error"
	case status == 403:
		errType = "permission_error"
	case status == 404:
		errType = "not_found_error"
	case status == 429:
		errType = "rate_limit_error"
	case status >= 400 && status < 500:
		errType = "invalid_request_error"
	case status >= 529:
		errType = "overloaded_error"
	}

	message := fmt.Sprintf("upstream returned status %d", status)
	if backendErr != nil && backendErr.Message != "" {
		message = backendErr.Message
	}

	return anthropic.NewErrorResponse(errType, message)
}

// parseToolArguments decodes a tool call's argument string. Arguments the
// backend emitted as invalid JSON are preserved under a raw key instead of
// being thrown away.
func parseToolArguments(arguments string) map[string]any {
	if arguments == "" {
		return map[string]any{}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		return map[string]any{"raw": arguments}
	}

	return parsed
}

// responseID reuses the backend response id when present so retried
// translations stay stable.
func responseID(backendID string) string {
	if backendID != "" {
		return "msg_" + backendID
	}
	return "msg_" + uuid.NewString()
}

// toolUseID converts the backend call id, or derives a deterministic one
// from the response id and the call's position when the backend omitted it.
func toolUseID(callID, respID string, pos int) string {
	if callID != "" {
		return ToToolUseID(callID)
	}
	if respID != "" {
		return fmt.Sprintf("toolu_%s_%d", respID, pos)
	}
	return "toolu_" + uuid.NewString()
}
