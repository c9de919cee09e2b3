package convert

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/openai"
)

// blockKind distinguishes the two streamable block types.
type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

// blockState tracks one outbound content block across chunks.
type blockState struct {
	kind     blockKind
	closed   bool
	toolID   string
	toolName string
	args     strings.Builder

	// full argument string last seen, for backends that resend the whole
	// payload each chunk instead of a fragment
	lastArgs string
}

// Reframer converts one backend chunk stream into Anthropic streaming
// events. It owns all per-stream state and must only be driven by the single
// goroutine handling that request.
type Reframer struct {
	conv        *Converter
	clientModel string
	logger      *slog.Logger

	started     bool
	stopped     bool
	messageID   string
	pendingStop string
	finishSeen  bool

	blocks    map[int]*blockState
	order     []int
	toolIndex map[int]int // upstream tool_call index -> outbound block index
	textBlock int         // outbound index of the open text block, -1 if none
	nextIndex int

	usage     *anthropic.Usage
	usageSeen bool
	strays    []error
}

// NewReframer starts a fresh stream translation. Each request gets its own
// Reframer; it is not reusable once Finish or Fail has been called.
func (c *Converter) NewReframer(clientModel string) *Reframer {
	return &Reframer{
		conv:        c,
		clientModel: clientModel,
		logger:      c.logger,
		blocks:      make(map[int]*blockState),
		toolIndex:   make(map[int]int),
		textBlock:   -1,
	}
}

// Push consumes one backend chunk and returns the events it produces, in
// emission order. Events must be written out before the next Push.
//
// A finish_reason chunk records the stop reason but does not terminate the
// stream: backends asked for stream_options.include_usage deliver the usage
// totals in a choices-empty chunk after it. The terminal event pair is
// emitted by Finish once the backend is exhausted.
func (r *Reframer) Push(chunk *openai.StreamChunk) []anthropic.StreamEvent {
	if r.stopped {
		r.stray(-1, "chunk after message_stop")
		return nil
	}

	var events []anthropic.StreamEvent

	if !r.started {
		events = append(events, r.start(chunk)...)
	}

	if chunk.Error != nil {
		return append(events, r.fail(chunk.Error.Message)...)
	}

	if chunk.Usage != nil {
		r.recordUsage(chunk.Usage)
	}

	if len(chunk.Choices) == 0 {
		return events
	}

	choice := chunk.Choices[0]

	if r.finishSeen {
		if choice.Delta != nil && (choice.Delta.Content != "" || len(choice.Delta.ToolCalls) > 0) {
			r.stray(-1, "content delta after finish_reason")
		}
		return events
	}

	if choice.Delta != nil {
		if choice.Delta.Content != "" {
			events = append(events, r.pushText(choice.Delta.Content)...)
		}

		for _, call := range choice.Delta.ToolCalls {
			events = append(events, r.pushToolCall(call)...)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		r.finishSeen = true
		r.pendingStop = *choice.FinishReason
	}

	return events
}

// Finish closes the stream after the backend is exhausted. Blocks the
// backend left open are force-closed so the client always sees a well-formed
// sequence. Calling Finish on a completed stream returns nil.
func (r *Reframer) Finish() []anthropic.StreamEvent {
	if r.stopped {
		return nil
	}

	var events []anthropic.StreamEvent

	if !r.started {
		events = append(events, r.start(nil)...)
	}

	reason := r.pendingStop
	if !r.finishSeen {
		r.logger.Debug("backend stream ended without finish reason, force-closing")
		reason = openai.FinishReasonStop
	}

	return append(events, r.finish(reason)...)
}

// Fail terminates the stream with an error event followed by message_stop.
// Used when the backend dies mid-stream.
func (r *Reframer) Fail(message string) []anthropic.StreamEvent {
	if r.stopped {
		return nil
	}

	var events []anthropic.StreamEvent

	if !r.started {
		events = append(events, r.start(nil)...)
	}

	return append(events, r.fail(message)...)
}

// Err reports the stray chunks observed during the stream, joined. Nil when
// the backend behaved.
func (r *Reframer) Err() error {
	return errors.Join(r.strays...)
}

// Done reports whether the terminal event has been emitted.
func (r *Reframer) Done() bool {
	return r.stopped
}

func (r *Reframer) start(chunk *openai.StreamChunk) []anthropic.StreamEvent {
	r.started = true

	r.messageID = "msg_" + uuid.NewString()
	if chunk != nil && chunk.ID != "" {
		r.messageID = "msg_" + chunk.ID
	}

	// The ping after message_start doubles as an early keep-alive while the
	// backend warms up.
	return []anthropic.StreamEvent{
		anthropic.NewMessageStartEvent(r.messageID, r.clientModel, nil),
		anthropic.NewPingEvent(),
	}
}

func (r *Reframer) pushText(text string) []anthropic.StreamEvent {
	var events []anthropic.StreamEvent

	if r.textBlock < 0 {
		idx := r.openBlock(&blockState{kind: blockText})
		r.textBlock = idx
		events = append(events, anthropic.NewTextBlockStartEvent(idx))
	}

	return append(events, anthropic.NewTextDeltaEvent(r.textBlock, text))
}

func (r *Reframer) pushToolCall(call openai.ToolCall) []anthropic.StreamEvent {
	upstream := 0
	if call.Index != nil {
		upstream = *call.Index
	}

	idx, known := r.toolIndex[upstream]

	if !known {
		var events []anthropic.StreamEvent

		// A new tool call ends the text block that preceded it.
		if r.textBlock >= 0 {
			events = append(events, r.closeBlock(r.textBlock)...)
			r.textBlock = -1
		}

		state := &blockState{
			kind:     blockToolUse,
			toolID:   call.ID,
			toolName: call.Function.Name,
		}
		if state.toolID == "" {
			state.toolID = "call_" + uuid.NewString()
		}

		idx = r.openBlock(state)
		r.toolIndex[upstream] = idx

		events = append(events, anthropic.NewToolUseBlockStartEvent(idx, ToToolUseID(state.toolID), state.toolName))

		if call.Function.Arguments != "" {
			events = append(events, r.pushArguments(idx, call.Function.Arguments)...)
		}

		return events
	}

	state := r.blocks[idx]
	if state.closed {
		r.stray(idx, "tool call delta after content_block_stop")
		return nil
	}

	if call.Function.Name != "" && state.toolName == "" {
		state.toolName = call.Function.Name
	}

	if call.Function.Arguments == "" {
		return nil
	}

	return r.pushArguments(idx, call.Function.Arguments)
}

// pushArguments forwards a partial JSON fragment. Some backends resend the
// cumulative argument string each chunk; the common-prefix check extracts
// the genuinely new part.
func (r *Reframer) pushArguments(idx int, args string) []anthropic.StreamEvent {
	state := r.blocks[idx]

	fragment := args
	if state.lastArgs != "" && strings.HasPrefix(args, state.lastArgs) {
		if len(args) == len(state.lastArgs) {
			return nil
		}
		fragment = args[len(state.lastArgs):]
		state.lastArgs = args
	} else {
		state.lastArgs += args
	}

	state.args.WriteString(fragment)

	return []anthropic.StreamEvent{anthropic.NewInputJSONDeltaEvent(idx, fragment)}
}

func (r *Reframer) finish(finishReason string) []anthropic.StreamEvent {
	var events []anthropic.StreamEvent

	hasTools := false
	for _, idx := range r.order {
		if r.blocks[idx].kind == blockToolUse {
			hasTools = true
		}
		events = append(events, r.closeBlock(idx)...)
	}
	r.textBlock = -1

	stop := r.conv.StopReason(finishReason, hasTools)

	var usage *anthropic.DeltaUsage
	if r.usageSeen {
		usage = &anthropic.DeltaUsage{
			InputTokens:  r.usage.InputTokens,
			OutputTokens: r.usage.OutputTokens,
		}
	}

	events = append(events, anthropic.NewMessageDeltaEvent(stop, usage))
	events = append(events, anthropic.NewMessageStopEvent())
	r.stopped = true

	return events
}

func (r *Reframer) fail(message string) []anthropic.StreamEvent {
	var events []anthropic.StreamEvent

	for _, idx := range r.order {
		events = append(events, r.closeBlock(idx)...)
	}

	events = append(events, anthropic.NewErrorEvent("api_error", message))
	events = append(events, anthropic.NewMessageStopEvent())
	r.stopped = true

	return events
}

func (r *Reframer) openBlock(state *blockState) int {
	idx := r.nextIndex
	r.nextIndex++
	r.blocks[idx] = state
	r.order = append(r.order, idx)

	return idx
}

func (r *Reframer) closeBlock(idx int) []anthropic.StreamEvent {
	state := r.blocks[idx]
	if state == nil || state.closed {
		return nil
	}

	state.closed = true

	return []anthropic.StreamEvent{anthropic.NewContentBlockStopEvent(idx)}
}

func (r *Reframer) stray(idx int, reason string) {
	err := &OutOfOrderChunkError{Index: idx, Reason: reason}
	r.strays = append(r.strays, err)
	r.logger.Warn("ignoring stray stream chunk", "block", idx, "reason", reason)
}

func (r *Reframer) recordUsage(u *openai.Usage) {
	if r.usage == nil {
		r.usage = &anthropic.Usage{}
	}

	if u.PromptTokens > 0 {
		r.usage.InputTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		r.usage.OutputTokens = u.CompletionTokens
	}

	r.usageSeen = true
}
