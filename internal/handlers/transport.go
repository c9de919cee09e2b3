package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"claude-bridge/internal/openai"
)

// Transport is the backend boundary: one call for buffered completions, one
// for streamed ones. Implementations must honor context cancellation so
// client disconnects propagate upstream.
type Transport interface {
	Send(ctx context.Context, url, apiKey string, body []byte) (*BackendResponse, error)
	SendStream(ctx context.Context, url, apiKey string, body []byte) (*ChunkStream, error)
}

// BackendResponse is a fully-read upstream reply.
type BackendResponse struct {
	StatusCode int
	Body       []byte
}

// Decode parses the body as a chat completion.
func (r *BackendResponse) Decode() (*openai.ChatResponse, error) {
	var resp openai.ChatResponse
	if err := json.Unmarshal(r.Body, &resp); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}

	return &resp, nil
}

// DecodeError extracts the upstream error payload, tolerating both the
// wrapped {"error": {...}} form and a bare error object.
func (r *BackendResponse) DecodeError() *openai.Error {
	var wrapped struct {
		Error *openai.Error `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &wrapped); err == nil && wrapped.Error != nil {
		return wrapped.Error
	}

	var bare openai.Error
	if err := json.Unmarshal(r.Body, &bare); err == nil && bare.Message != "" {
		return &bare
	}

	return nil
}

// ChunkStream delivers upstream SSE chunks one at a time. Next returns
// io.EOF after the terminal [DONE] marker or when the upstream closes.
type ChunkStream struct {
	StatusCode int

	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next blocks until the next data chunk is available. Comment lines and
// blank keep-alives are consumed internally.
func (s *ChunkStream) Next() (*openai.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Named events and other SSE framing carry nothing we translate.
			continue
		}

		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding stream chunk: %w", err)
		}

		return &chunk, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}

	return nil, io.EOF
}

// NextRaw returns the next raw SSE line without decoding, for passthrough
// backends whose frames are already in the outbound format.
func (s *ChunkStream) NextRaw() (string, error) {
	if s.done {
		return "", io.EOF
	}

	if !s.scanner.Scan() {
		s.done = true
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return s.scanner.Text(), nil
}

// ReadAll drains the remaining raw body, used to surface error payloads on
// non-200 streaming responses.
func (s *ChunkStream) ReadAll() []byte {
	var buf bytes.Buffer
	for s.scanner.Scan() {
		buf.WriteString(s.scanner.Text())
		buf.WriteByte('\n')
	}

	return bytes.TrimSpace(buf.Bytes())
}

func (s *ChunkStream) Close() error {
	return s.body.Close()
}

// HTTPTransport speaks chat-completions over HTTP with gzip and brotli
// response decompression.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds the production transport. Timeout applies only to
// buffered calls; streamed calls run until cancelled or closed.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, url, apiKey string, body []byte) (*BackendResponse, error) {
	resp, err := t.do(ctx, url, apiKey, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("upstream decompression: %w", err)
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	return &BackendResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

func (t *HTTPTransport) SendStream(ctx context.Context, url, apiKey string, body []byte) (*ChunkStream, error) {
	// The client's own timeout would kill long streams; rely on ctx instead.
	streamClient := &http.Client{Transport: t.client.Transport}

	resp, err := t.doWith(ctx, streamClient, url, apiKey, body, true)
	if err != nil {
		return nil, err
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream decompression: %w", err)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &ChunkStream{
		StatusCode: resp.StatusCode,
		body:       resp.Body,
		scanner:    scanner,
	}, nil
}

func (t *HTTPTransport) do(ctx context.Context, url, apiKey string, body []byte, stream bool) (*http.Response, error) {
	return t.doWith(ctx, t.client, url, apiKey, body, stream)
}

func (t *HTTPTransport) doWith(ctx context.Context, client *http.Client, url, apiKey string, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return resp, nil
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
