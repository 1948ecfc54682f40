// Package relay validates chat requests and relays the engine's token stream.
//
// Each accepted request gets its own Session with one upstream connection.
// The relay holds no per-request state beyond the session; configuration is
// read-only and lifecycle events go to an optional bus.
package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/domain/frame"
	"github.com/matiasleandrokruk/velune/internal/infra/eventbus"
	"github.com/matiasleandrokruk/velune/internal/infra/llm"
	"github.com/matiasleandrokruk/velune/pkg/auth"
)

// Lifecycle topics published on the bus.
const (
	TopicSessionOpened = "relay.session.opened"
	TopicSessionClosed = "relay.session.closed"
)

// SessionEvent is the payload of lifecycle events.
type SessionEvent struct {
	ID         string
	State      State
	Lines      int
	DoneReason string
	Duration   time.Duration
	Err        error
}

// Config holds the relay settings.
type Config struct {
	// Model is the only identifier clients may request.
	Model string
	// UpstreamModel is sent to the engine; empty means Model.
	UpstreamModel string
	// SystemPrompt, when set, is prepended to the upstream messages only.
	SystemPrompt string
	// ConnectTimeout bounds the wait for the first upstream byte.
	ConnectTimeout time.Duration
	Policy         auth.TokenPolicy
}

// Relay opens sessions against an upstream engine.
type Relay struct {
	cfg       Config
	validator *Validator
	upstream  llm.ChatStreamer
	bus       eventbus.EventBus
	log       zerolog.Logger
	active    atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

// WithBus publishes session lifecycle events on bus.
func WithBus(bus eventbus.EventBus) Option {
	return func(r *Relay) { r.bus = bus }
}

// WithLogger sets the relay logger. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.log = l }
}

const defaultConnectTimeout = 30 * time.Second

// New returns a Relay forwarding to upstream.
func New(cfg Config, upstream llm.ChatStreamer, opts ...Option) *Relay {
	if cfg.UpstreamModel == "" {
		cfg.UpstreamModel = cfg.Model
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	r := &Relay{
		cfg:       cfg,
		validator: NewValidator(cfg.Model, cfg.Policy),
		upstream:  upstream,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validator returns the request validator.
func (r *Relay) Validator() *Validator { return r.validator }

// Model returns the public model identifier.
func (r *Relay) Model() string { return r.cfg.Model }

// Active returns the number of sessions not yet released.
func (r *Relay) Active() int64 { return r.active.Load() }

// Open validates req and opens the upstream stream. It returns once the engine
// answered with response headers; the first chunk is awaited by Session.Next.
// Validation failures never reach upstream. Cancelling ctx cancels the session.
func (r *Relay) Open(ctx context.Context, req ChatRequest, token string) (*Session, error) {
	if err := r.validator.Validate(req, token); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		id:      uuid.Must(uuid.NewV7()).String(),
		started: time.Now(),
		ctx:     sctx,
		cancel:  cancel,
		state:   StateIdle,
	}
	s.log = r.log.With().Str("session_id", s.id).Logger()
	s.onRelease = r.released
	s.timer = time.AfterFunc(r.cfg.ConnectTimeout, func() { cancel(errConnectTimeout) })

	r.active.Add(1)
	s.transition(StateConnecting)
	r.publish(TopicSessionOpened, SessionEvent{ID: s.id, State: StateConnecting})

	body, err := r.upstream.ChatStream(sctx, r.upstreamRequest(req))
	if err != nil {
		s.finish(r.classifyOpen(s, err))
		s.release()
		return nil, s.Err()
	}

	watched := &firstChunkBody{ReadCloser: body, onFirst: func() {
		s.timer.Stop()
		s.transition(StateStreaming)
	}}
	s.reader = frame.NewReader(watched, frame.MarkerNone, frame.WithLogger(s.log))
	// Releases upstream even if the caller stops calling Next.
	s.stopCtx = context.AfterFunc(sctx, func() { s.finish(s.classify(nil)) })
	return s, nil
}

func (r *Relay) classifyOpen(s *Session, err error) (State, error) {
	if context.Cause(s.ctx) != nil {
		return s.classify(err)
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return StateFailed, NewError(KindUpstreamUnavailable, err, "upstream rejected the request (status %d)", se.StatusCode)
	}
	return StateFailed, NewError(KindUpstreamUnavailable, err, "upstream unavailable")
}

func (r *Relay) upstreamRequest(req ChatRequest) llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	if r.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: r.cfg.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return llm.ChatRequest{Model: r.cfg.UpstreamModel, Messages: msgs}
}

func (r *Relay) released(s *Session) {
	r.active.Add(-1)
	st, err, lines := s.State(), s.Err(), s.Forwarded()
	dur := time.Since(s.started)

	ev := s.log.Info()
	if st == StateFailed {
		ev = s.log.Warn().Err(err)
	}
	reason := s.DoneReason()
	if reason != "" {
		ev = ev.Str("done_reason", reason)
	}
	ev.Str("state", st.String()).Int("lines", lines).Dur("duration", dur).Msg("session closed")

	r.publish(TopicSessionClosed, SessionEvent{ID: s.id, State: st, Lines: lines, DoneReason: reason, Duration: dur, Err: err})
}

func (r *Relay) publish(topic string, ev SessionEvent) {
	if r.bus != nil {
		r.bus.Publish(topic, ev)
	}
}

// NewChatRequest builds the request body a client sends for msgs.
func NewChatRequest(model string, msgs []conversation.Message) ChatRequest {
	stream := true
	return ChatRequest{Model: model, Messages: msgs, Stream: &stream}
}
