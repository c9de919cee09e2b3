package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkoukk/tiktoken-go"

	"claude-bridge/internal/anthropic"
)

// TokenCountHandler serves POST /v1/messages/count_tokens. Counts are an
// estimate produced locally with the cl100k_base encoding; no backend call
// is made.
type TokenCountHandler struct {
	validate *validator.Validate
	logger   *slog.Logger

	once     sync.Once
	encoding *tiktoken.Tiktoken
	encErr   error
}

func NewTokenCountHandler(logger *slog.Logger) *TokenCountHandler {
	return &TokenCountHandler{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (h *TokenCountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req anthropic.TokenCountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	tokens, err := h.count(&req)
	if err != nil {
		h.logger.Error("token counting failed", "error", err)
		writeError(w, http.StatusInternalServerError, "api_error", "token counting unavailable")
		return
	}

	writeJSON(w, http.StatusOK, anthropic.TokenCountResponse{InputTokens: tokens})
}

func (h *TokenCountHandler) count(req *anthropic.TokenCountRequest) (int, error) {
	h.once.Do(func() {
		h.encoding, h.encErr = tiktoken.GetEncoding("cl100k_base")
	})
	if h.encErr != nil {
		return 0, h.encErr
	}

	var text strings.Builder

	if !req.System.IsEmpty() {
		text.WriteString(req.System.Text())
		text.WriteString("\n")
	}

	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			switch block.Type {
			case anthropic.BlockTypeText:
				text.WriteString(block.Text)
			case anthropic.BlockTypeToolUse:
				if args, err := json.Marshal(block.Input); err == nil {
					text.WriteString(block.Name)
					text.Write(args)
				}
			case anthropic.BlockTypeToolResult:
				text.WriteString(anthropic.ToolResultText(block.Content))
			}
			text.WriteString("\n")
		}
	}

	for _, tool := range req.Tools {
		text.WriteString(tool.Name)
		text.WriteString("\n")
		text.WriteString(tool.Description)
		text.WriteString("\n")
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			text.Write(schema)
		}
	}

	return len(h.encoding.Encode(text.String(), nil, nil)), nil
}
