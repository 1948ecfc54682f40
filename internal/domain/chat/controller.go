// Package chat drives one conversation turn at a time against a relay.
//
// A turn appends the user message, persists it, streams the assistant reply
// into a pending slot and commits the slot only when the stream terminated.
// Every failure leaves the ledger as it was plus the user message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/domain/frame"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

var (
	// ErrEmptyInput is returned for blank input; nothing is sent.
	ErrEmptyInput = errors.New("chat: empty input")
	// ErrTurnInFlight is returned when a turn is already running.
	ErrTurnInFlight = errors.New("chat: a turn is already in flight")
)

// Opener starts a chat stream. *relayclient.Client satisfies it.
type Opener interface {
	Open(ctx context.Context, req relay.ChatRequest) (*frame.Reader, error)
}

// Config holds the controller's collaborators.
type Config struct {
	Store          conversation.Store
	ConversationID string
	Model          string
	Opener         Opener
	Logger         zerolog.Logger
}

// DeltaFunc receives each non-empty delta and the reply accumulated so far.
type DeltaFunc func(delta, content string)

// Controller owns one conversation's ledger.
type Controller struct {
	cfg    Config
	ledger *conversation.Ledger
	busy   atomic.Bool
	log    zerolog.Logger
}

// NewController loads the conversation from the store.
func NewController(ctx context.Context, cfg Config) (*Controller, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("chat: store is required")
	case cfg.Opener == nil:
		return nil, errors.New("chat: opener is required")
	case cfg.Model == "":
		return nil, errors.New("chat: model is required")
	}

	msgs, err := cfg.Store.Load(ctx, cfg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: load conversation %q: %w", cfg.ConversationID, err)
	}
	ledger, err := conversation.NewLedger(msgs)
	if err != nil {
		return nil, fmt.Errorf("chat: load conversation %q: %w", cfg.ConversationID, err)
	}
	log := cfg.Logger.With().Str("conversation_id", cfg.ConversationID).Logger()
	log.Debug().Int("messages", ledger.Len()).Msg("conversation loaded")
	return &Controller{cfg: cfg, ledger: ledger, log: log}, nil
}

// Messages returns the committed messages.
func (c *Controller) Messages() []conversation.Message { return c.ledger.Messages() }

// Busy reports whether a turn is running.
func (c *Controller) Busy() bool { return c.busy.Load() }

// Reset clears the conversation in memory and in the store.
func (c *Controller) Reset(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer c.busy.Store(false)

	if err := c.cfg.Store.Save(ctx, c.cfg.ConversationID, nil); err != nil {
		return fmt.Errorf("chat: reset: %w", err)
	}
	return c.ledger.Reset()
}

// Send runs one turn and returns the committed assistant message.
// onDelta may be nil. Errors from the relay are *relay.Error.
func (c *Controller) Send(ctx context.Context, text string, onDelta DeltaFunc) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyInput
	}
	if !c.busy.CompareAndSwap(false, true) {
		return conversation.Message{}, ErrTurnInFlight
	}
	defer c.busy.Store(false)

	if err := c.ledger.Append(conversation.Message{Role: conversation.RoleUser, Content: text}); err != nil {
		return conversation.Message{}, fmt.Errorf("chat: append user message: %w", err)
	}
	if err := c.persist(ctx); err != nil {
		_, _ = c.ledger.Rollback()
		return conversation.Message{}, err
	}

	pending, err := c.ledger.Reserve()
	if err != nil {
		return conversation.Message{}, fmt.Errorf("chat: reserve reply: %w", err)
	}
	reply, err := c.stream(ctx, pending, onDelta)
	if err != nil {
		pending.Discard()
		c.log.Debug().Err(err).Str("kind", relay.KindOf(err).String()).Msg("turn failed")
		return conversation.Message{}, err
	}
	return reply, nil
}

// stream reads the relay's events into pending and commits on the terminal event.
func (c *Controller) stream(ctx context.Context, pending *conversation.Pending, onDelta DeltaFunc) (conversation.Message, error) {
	reader, err := c.cfg.Opener.Open(ctx, relay.NewChatRequest(c.cfg.Model, c.ledger.Messages()))
	if err != nil {
		return conversation.Message{}, err
	}
	defer reader.Close() //nolint:errcheck

	for ev, err := range reader.Events() {
		if err != nil {
			return conversation.Message{}, readError(ctx, err)
		}
		if ev.Failed() {
			return conversation.Message{}, relay.NewError(relay.KindUpstreamUnavailable, nil, "engine error: %s", ev.Failure)
		}
		content := pending.Append(ev.Delta)
		if ev.Delta != "" && onDelta != nil {
			onDelta(ev.Delta, content)
		}
		if ev.Terminal {
			return c.commit(ctx, pending)
		}
	}

	if n := reader.Frames(); n > 0 && reader.Skipped() == n {
		return conversation.Message{}, relay.NewError(relay.KindStreamParse, nil, "no line of the stream could be decoded")
	}
	return conversation.Message{}, relay.NewError(relay.KindUpstreamUnavailable, nil, "stream ended before completion")
}

// commit appends the reply and persists the ledger. A reply that cannot be
// persisted is taken back out so memory never holds more than the store.
func (c *Controller) commit(ctx context.Context, pending *conversation.Pending) (conversation.Message, error) {
	reply, err := pending.Commit()
	if err != nil {
		return conversation.Message{}, fmt.Errorf("chat: commit reply: %w", err)
	}
	if err := c.persist(ctx); err != nil {
		_, _ = c.ledger.Rollback()
		return conversation.Message{}, err
	}
	c.log.Debug().Int("chars", len(reply.Content)).Msg("turn completed")
	return reply, nil
}

func (c *Controller) persist(ctx context.Context) error {
	// The store write must not be cut short by a cancelled turn.
	if err := c.cfg.Store.Save(context.WithoutCancel(ctx), c.cfg.ConversationID, c.ledger.Messages()); err != nil {
		return fmt.Errorf("chat: persist conversation %q: %w", c.cfg.ConversationID, err)
	}
	return nil
}

func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return relay.NewError(relay.KindCancelled, err, "turn cancelled")
	}
	return relay.NewError(relay.KindUpstreamUnavailable, err, "connection to the relay dropped")
}
