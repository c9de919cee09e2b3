package convert

import "fmt"

// UnsupportedParameterError is returned when a request carries a parameter
// the backend profile cannot express and the profile forbids dropping it.
type UnsupportedParameterError struct {
	Parameter string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("parameter %q is not supported by the target backend", e.Parameter)
}

// IncompleteResponseError is returned when a backend response is missing the
// pieces a translated reply needs, such as a choice list.
type IncompleteResponseError struct {
	Reason string
}

func (e *IncompleteResponseError) Error() string {
	return "incomplete backend response: " + e.Reason
}

// OutOfOrderChunkError records a stream chunk that arrived out of protocol
// order: for a content block already closed, after the finish reason, or
// after the terminal events. Index is -1 when no single block is at fault.
// It is diagnostic, not fatal; the reframer drops the chunk and keeps going.
type OutOfOrderChunkError struct {
	Index  int
	Reason string
}

func (e *OutOfOrderChunkError) Error() string {
	if e.Index < 0 {
		return "out-of-order chunk: " + e.Reason
	}

	return fmt.Sprintf("out-of-order chunk for block %d: %s", e.Index, e.Reason)
}
