// Package conversation holds the client-side message ledger and its persistence.
//
// A Ledger is an ordered, append-only list of committed messages plus at most
// one pending assistant slot. The slot exists only while a turn is in flight:
// it is either committed as the next assistant message or discarded.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a ledger accepts. Matching is case-sensitive.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one committed entry of a conversation. It is also the wire shape
// sent to the relay and the persisted shape.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

var (
	ErrInvalidRole  = errors.New("conversation: invalid role")
	ErrSlotReserved = errors.New("conversation: assistant slot already reserved")
	ErrSlotResolved = errors.New("conversation: pending slot already resolved")
)

// Ledger is safe for concurrent use; a single caller is expected to drive a turn.
type Ledger struct {
	mu      sync.Mutex
	msgs    []Message
	pending *Pending
}

// NewLedger returns a ledger seeded with msgs. msgs is copied.
func NewLedger(msgs []Message) (*Ledger, error) {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w %q at index %d", ErrInvalidRole, m.Role, i)
		}
	}
	return &Ledger{msgs: append([]Message(nil), msgs...)}, nil
}

// Append adds a committed message. It fails while a slot is reserved, so a
// user message can never land between a turn's prompt and its reply.
func (l *Ledger) Append(m Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidRole, m.Role)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return ErrSlotReserved
	}
	l.msgs = append(l.msgs, m)
	return nil
}

// Reserve opens the trailing assistant slot.
func (l *Ledger) Reserve() (*Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return nil, ErrSlotReserved
	}
	l.pending = &Pending{ledger: l}
	return l.pending, nil
}

// Messages returns a copy of the committed messages. The pending slot is never included.
func (l *Ledger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.msgs...)
}

// Len returns the number of committed messages.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Reset drops every committed message. It fails while a slot is reserved.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return ErrSlotReserved
	}
	l.msgs = nil
	return nil
}

// Pending accumulates the in-flight assistant reply.
type Pending struct {
	ledger   *Ledger
	buf      strings.Builder
	resolved bool
}

// Append adds a delta and returns the content accumulated so far.
// Deltas arriving after the slot is resolved are dropped.
func (p *Pending) Append(delta string) string {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	if !p.resolved {
		p.buf.WriteString(delta)
	}
	return p.buf.String()
}

// Commit appends the accumulated text as an assistant message and closes the slot.
func (p *Pending) Commit() (Message, error) {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	if p.resolved {
		return Message{}, ErrSlotResolved
	}
	p.resolved = true
	p.ledger.pending = nil
	m := Message{Role: RoleAssistant, Content: p.buf.String()}
	p.ledger.msgs = append(p.ledger.msgs, m)
	return m, nil
}

// Discard closes the slot without touching the committed messages.
// Discarding twice, or after Commit, is a no-op.
func (p *Pending) Discard() {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.ledger.pending = nil
}

// Rollback removes the trailing committed message. It undoes a commit whose
// persistence failed; it fails while a slot is reserved or when the ledger is empty.
func (l *Ledger) Rollback() (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return Message{}, ErrSlotReserved
	}
	if len(l.msgs) == 0 {
		return Message{}, errors.New("conversation: rollback on empty ledger")
	}
	last := l.msgs[len(l.msgs)-1]
	l.msgs = l.msgs[:len(l.msgs)-1]
	return last, nil
}
