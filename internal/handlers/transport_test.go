package handlers

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(raw string) *ChunkStream {
	reader := strings.NewReader(raw)

	return &ChunkStream{
		StatusCode: 200,
		body:       io.NopCloser(reader),
		scanner:    bufio.NewScanner(reader),
	}
}

func TestChunkStream_Next(t *testing.T) {
	stream := newTestStream(strings.Join([]string{
		`: keep-alive comment`,
		``,
		`data: {"id": "c1", "choices": [{"index": 0, "delta": {"content": "a"}}]}`,
		``,
		`data: {"id": "c1", "choices": [{"index": 0, "delta": {"content": "b"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n"))

	first, err := stream.Next()
	require.NoError(t, err)
	require.Len(t, first.Choices, 1)
	assert.Equal(t, "a", first.Choices[0].Delta.Content)

	second, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", second.Choices[0].Delta.Content)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)

	// Exhausted streams stay exhausted.
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestChunkStream_EOFWithoutDone(t *testing.T) {
	stream := newTestStream(`data: {"id": "c1", "choices": []}` + "\n")

	_, err := stream.Next()
	require.NoError(t, err)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestChunkStream_BadChunk(t *testing.T) {
	stream := newTestStream("data: {not json}\n")

	_, err := stream.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestBackendResponse_DecodeError(t *testing.T) {
	wrapped := &BackendResponse{Body: []byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`)}
	require.NotNil(t, wrapped.DecodeError())
	assert.Equal(t, "nope", wrapped.DecodeError().Message)

	bare := &BackendResponse{Body: []byte(`{"message": "also nope"}`)}
	require.NotNil(t, bare.DecodeError())
	assert.Equal(t, "also nope", bare.DecodeError().Message)

	junk := &BackendResponse{Body: []byte(`<html>gateway error</html>`)}
	assert.Nil(t, junk.DecodeError())
}
