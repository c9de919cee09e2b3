// Package handlers contains the HTTP surface: the Messages endpoint, token
// counting and health.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/convert"
	"claude-bridge/internal/router"
)

// MessagesHandler serves POST /v1/messages. The rule table and per-provider
// converters are built once and shared read-only across requests.
type MessagesHandler struct {
	cfg       *config.Config
	mapper    *router.Mapper
	transport Transport
	validate  *validator.Validate
	logger    *slog.Logger

	converters map[string]*convert.Converter
}

// NewMessagesHandler wires the handler from a config snapshot.
func NewMessagesHandler(cfg *config.Config, transport Transport, logger *slog.Logger) (*MessagesHandler, error) {
	mapper, err := router.New(cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("building model mapper: %w", err)
	}

	converters := make(map[string]*convert.Converter, len(cfg.Providers))
	for _, p := range cfg.Providers {
		converters[p.Name] = convert.New(p.Profile, logger)
	}

	return &MessagesHandler{
		cfg:        cfg,
		mapper:     mapper,
		transport:  transport,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		converters: converters,
	}, nil
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	clientModel := gjson.GetBytes(body, "model").String()
	streaming := gjson.GetBytes(body, "stream").Bool()

	target, err := h.mapper.Resolve(clientModel)
	if err != nil {
		var unknown *router.UnknownModelError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", unknown.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	provider := h.cfg.FindProvider(target.Provider)
	if provider == nil {
		writeError(w, http.StatusInternalServerError, "api_error",
			fmt.Sprintf("provider %q is not configured", target.Provider))
		return
	}

	h.logger.Info("routing request",
		"model", clientModel,
		"provider", provider.Name,
		"backend_model", target.Model,
		"stream", streaming,
	)

	if provider.Profile.Passthrough {
		h.servePassthrough(w, r, provider, target, body, streaming)
		return
	}

	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	conv := h.converters[provider.Name]

	chatReq, err := conv.ToChatRequest(&req, target.Model)
	if err != nil {
		var unsupported *convert.UnsupportedParameterError
		if errors.As(err, &unsupported) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", unsupported.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	outBody, err := json.Marshal(chatReq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	if streaming {
		h.serveStreaming(w, r, provider, conv, clientModel, outBody)
	} else {
		h.serveBuffered(w, r, provider, conv, clientModel, outBody)
	}
}

func (h *MessagesHandler) serveBuffered(w http.ResponseWriter, r *http.Request, provider *config.Provider, conv *convert.Converter, clientModel string, body []byte) {
	resp, err := h.transport.Send(r.Context(), provider.APIBase, provider.APIKey, body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("upstream error", "status", resp.StatusCode, "provider", provider.Name)
		writeErrorResponse(w, mapUpstreamStatus(resp.StatusCode), convert.TranslateError(resp.StatusCode, resp.DecodeError()))
		return
	}

	chatResp, err := resp.Decode()
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	msg, err := conv.ToMessagesResponse(chatResp, clientModel)
	if err != nil {
		var incomplete *convert.IncompleteResponseError
		if errors.As(err, &incomplete) {
			writeError(w, http.StatusBadGateway, "api_error", incomplete.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, msg)

	if msg.Usage != nil {
		h.logger.Info("completed request",
			"provider", provider.Name,
			"input_tokens", msg.Usage.InputTokens,
			"output_tokens", msg.Usage.OutputTokens,
		)
	}
}

func (h *MessagesHandler) serveStreaming(w http.ResponseWriter, r *http.Request, provider *config.Provider, conv *convert.Converter, clientModel string, body []byte) {
	stream, err := h.transport.SendStream(r.Context(), provider.APIBase, provider.APIKey, body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	defer stream.Close()

	if stream.StatusCode != http.StatusOK {
		raw := stream.ReadAll()
		h.logger.Warn("upstream error on stream open", "status", stream.StatusCode, "body", string(raw))

		backendErr := (&BackendResponse{Body: raw}).DecodeError()
		writeErrorResponse(w, mapUpstreamStatus(stream.StatusCode), convert.TranslateError(stream.StatusCode, backendErr))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	reframer := conv.NewReframer(clientModel)

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.Error("stream read error", "error", err)
			h.writeEvents(w, r, reframer.Fail("upstream stream failed: "+err.Error()))
			break
		}

		h.writeEvents(w, r, reframer.Push(chunk))

		if reframer.Done() {
			break
		}
	}

	h.writeEvents(w, r, reframer.Finish())

	// Both the success and failure paths end with the [DONE] terminator.
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)

	if err := reframer.Err(); err != nil {
		h.logger.Warn("stream completed with protocol violations", "error", err)
	}
}

// servePassthrough forwards the raw request to a backend that already speaks
// the inbound protocol, rewriting only the model id.
func (h *MessagesHandler) servePassthrough(w http.ResponseWriter, r *http.Request, provider *config.Provider, target router.Target, body []byte, streaming bool) {
	rewritten, err := sjson.SetBytes(body, "model", target.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	if !streaming {
		resp, err := h.transport.Send(r.Context(), provider.APIBase, provider.APIKey, rewritten)
		if err != nil {
			writeError(w, http.StatusBadGateway, "api_error", err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
		return
	}

	stream, err := h.transport.SendStream(r.Context(), provider.APIBase, provider.APIKey, rewritten)
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(stream.StatusCode)

	for {
		line, err := stream.NextRaw()
		if err != nil {
			return
		}

		fmt.Fprintf(w, "%s\n", line)
		flush(w)
	}
}

func (h *MessagesHandler) writeEvents(w http.ResponseWriter, r *http.Request, events []anthropic.StreamEvent) {
	for _, event := range events {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		w.Write(event.SSE())
		flush(w)
	}
}

// mapUpstreamStatus keeps client-facing statuses inside the vocabulary
// Anthropic clients handle.
func mapUpstreamStatus(status int) int {
	if status >= 200 && status < 600 {
		return status
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeErrorResponse(w, status, anthropic.NewErrorResponse(errType, message))
}

func writeErrorResponse(w http.ResponseWriter, status int, resp *anthropic.ErrorResponse) {
	writeJSON(w, status, resp)
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
