package relay

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/domain/frame"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Final reports whether no further transition is possible.
func (s State) Final() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateStreaming, StateFailed, StateCancelled},
	StateStreaming:  {StateCompleted, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	errConnectTimeout = errors.New("relay: no upstream data within connect timeout")
	errSessionClosed  = errors.New("relay: session closed")
	errSessionDone    = errors.New("relay: session finished")
)

// Session is one relayed request. It owns exactly one upstream stream and
// releases it once, on completion, failure, cancellation, or Close.
type Session struct {
	id      string
	log     zerolog.Logger
	started time.Time

	mu    sync.Mutex
	state State
	err        error
	lines      int
	doneReason string

	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	reader  *frame.Reader
	stopCtx func() bool

	releaseOnce sync.Once
	onRelease   func(*Session)
}

// ID returns the session identifier (UUIDv7).
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, nil while running or after completion.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Forwarded returns how many upstream lines Next has handed out.
func (s *Session) Forwarded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// DoneReason returns the engine's stop reason from the terminal line, if any.
func (s *Session) DoneReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneReason
}

// Next returns the next upstream line, verbatim, for forwarding.
// It returns io.EOF once the session completed; any other error is an *Error
// and the session is already Failed or Cancelled.
func (s *Session) Next() ([]byte, error) {
	if st := s.State(); st.Final() {
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	f, err := s.reader.NextFrame()
	switch {
	case err == nil:
		s.mu.Lock()
		s.lines++
		s.mu.Unlock()
		if f.Err == nil && f.Event.Terminal {
			s.mu.Lock()
			s.doneReason = f.Event.DoneReason
			s.mu.Unlock()
			if f.Event.Failed() {
				s.finish(StateFailed, NewError(KindUpstreamUnavailable, nil, "engine error: %s", f.Event.Failure))
			} else {
				s.finish(StateCompleted, nil)
			}
		}
		return f.Raw, nil

	case errors.Is(err, io.EOF):
		switch {
		case s.reader.Terminated():
		case s.Forwarded() == 0:
			s.finish(StateFailed, NewError(KindUpstreamUnavailable, nil, "upstream closed the stream before sending data"))
		case s.reader.LastFailed():
			s.finish(StateFailed, NewError(KindStreamParse, nil, "upstream ended with a malformed chunk"))
		default:
			s.finish(StateCompleted, nil)
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF

	default:
		s.finish(s.classify(err))
		return nil, s.Err()
	}
}

// Lines ranges over the remaining upstream lines. A failure is yielded once and ends the sequence.
func (s *Session) Lines() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			line, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the upstream connection. A session that had not finished becomes
// Cancelled. Close is idempotent and always returns nil.
func (s *Session) Close() error {
	s.cancel(errSessionClosed)
	s.finish(StateCancelled, NewError(KindCancelled, nil, "session closed"))
	s.release()
	return nil
}

// classify maps a read failure, or the reason the session context ended, to a final state.
func (s *Session) classify(readErr error) (State, error) {
	switch cause := context.Cause(s.ctx); {
	case errors.Is(cause, errConnectTimeout):
		return StateFailed, NewError(KindUpstreamTimeout, readErr, "upstream did not respond in time")
	case cause != nil:
		return StateCancelled, NewError(KindCancelled, cause, "request cancelled")
	default:
		return StateFailed, NewError(KindUpstreamUnavailable, readErr, "upstream connection dropped")
	}
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.log.Debug().Str("from", s.state.String()).Str("to", to.String()).Msg("session transition")
	s.state = to
	return true
}

// finish moves to a final state, records err and releases upstream. Only the first call wins.
func (s *Session) finish(to State, err error) {
	s.mu.Lock()
	if !canTransition(s.state, to) {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.err = err
	s.mu.Unlock()
	s.release()
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.timer.Stop()
		if s.stopCtx != nil {
			s.stopCtx()
		}
		s.cancel(errSessionDone)
		if s.reader != nil {
			_ = s.reader.Close()
		}
		if s.onRelease != nil {
			s.onRelease(s)
		}
	})
}

// firstChunkBody reports the first byte received from upstream.
type firstChunkBody struct {
	io.ReadCloser
	once    sync.Once
	onFirst func()
}

func (b *firstChunkBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.once.Do(b.onFirst)
	}
	return n, err
}
