// Package frame turns a chunked token stream into decoded events.
//
// The same grammar is used on both hops: the engine's NDJSON lines
// (MarkerNone) and the relay's server-sent events (MarkerSSE). A line that
// cannot be decoded is reported as a *ParseError and skipped; decoding
// continues with the next line. Nothing is emitted after a terminal event.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MarkerSSE prefixes every event line the relay writes.
	MarkerSSE = "data: "
	// MarkerNone is used for the engine's newline-delimited JSON.
	MarkerNone = ""
)

// Event is one decoded payload.
type Event struct {
	// Delta is the text appended to the assistant reply by this event.
	Delta string
	// Terminal marks the last event of a stream.
	Terminal bool
	// DoneReason is the engine's stop reason on terminal events, when given.
	DoneReason string
	// Failure carries an error reported in-band by the engine. Failure events are terminal.
	Failure string
}

// Failed reports whether the engine ended the stream with an error.
func (e Event) Failed() bool { return e.Failure != "" }

// Frame is the outcome of one line: a decoded event or a parse error.
type Frame struct {
	// Raw is the line with the marker removed, suitable for verbatim forwarding.
	Raw []byte
	// Event is valid when Err is nil.
	Event Event
	Err   *ParseError
}

var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrMissingMarker = errors.New("missing event marker")
	ErrNotObject     = errors.New("payload is not a JSON object")
	ErrMissingDone   = errors.New(`payload has no boolean "done"`)
	ErrMissingDelta  = errors.New(`non-terminal payload has no "message.content"`)
)

// ParseError reports one undecodable line. It is never fatal for the stream.
type ParseError struct {
	Line int    // 1-based line number within the stream
	Text string // offending line, truncated
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const maxErrorText = 120

type wireMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type wirePayload struct {
	Message    *wireMessage `json:"message"`
	Done       *bool        `json:"done"`
	DoneReason string       `json:"done_reason"`
	Error      string       `json:"error"`
}

// ParsePayload decodes one payload, without marker or line terminator.
func ParsePayload(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{}, ErrEmptyPayload
	}
	if raw[0] != '{' {
		return Event{}, ErrNotObject
	}

	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, err
	}
	if p.Error != "" {
		return Event{Terminal: true, Failure: p.Error}, nil
	}
	if p.Done == nil {
		return Event{}, ErrMissingDone
	}

	ev := Event{Terminal: *p.Done}
	if p.Message != nil && p.Message.Content != nil {
		ev.Delta = *p.Message.Content
	} else if !ev.Terminal {
		return Event{}, ErrMissingDelta
	}
	if ev.Terminal {
		ev.DoneReason = p.DoneReason
	}
	return ev, nil
}

// Encode renders a payload in the wire grammar; used by tests and fakes.
func Encode(delta string, done bool) []byte {
	b, _ := json.Marshal(struct {
		Message wireMessage `json:"message"`
		Done    bool        `json:"done"`
	}{Message: wireMessage{Role: "assistant", Content: &delta}, Done: done})
	return b
}
