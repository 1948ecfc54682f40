package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/domain/frame"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

type fakeOpener struct {
	mu    sync.Mutex
	reqs  []relay.ChatRequest
	calls atomic.Int32
	open  func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeOpener) Open(ctx context.Context, req relay.ChatRequest) (*frame.Reader, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	body, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	return frame.NewReader(body, frame.MarkerSSE), nil
}

func (f *fakeOpener) lastRequest() relay.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func sseBody(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}

func delta(s string) string { return string(frame.Encode(s, false)) }
func done(s string) string  { return string(frame.Encode(s, true)) }

func streaming(payloads ...string) *fakeOpener {
	return &fakeOpener{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(sseBody(payloads...))), nil
	}}
}

func failing(err error) *fakeOpener {
	return &fakeOpener{open: func(context.Context) (io.ReadCloser, error) { return nil, err }}
}

// flakyStore fails the Save call numbered failOn (1-based).
type flakyStore struct {
	*conversation.MemoryStore
	failOn int
	n      int
}

func (s *flakyStore) Save(ctx context.Context, id string, msgs []conversation.Message) error {
	s.n++
	if s.n == s.failOn {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, id, msgs)
}

func newController(t *testing.T, store conversation.Store, op Opener) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), Config{
		Store:          store,
		ConversationID: "default",
		Model:          "chain",
		Opener:         op,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func user(s string) conversation.Message {
	return conversation.Message{Role: conversation.RoleUser, Content: s}
}

func assistant(s string) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, Content: s}
}

func TestController_CompletedTurnCommitsConcatenation(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	op := streaming(delta("H"), delta("i"), delta("!"), done(""))
	c := newController(t, store, op)

	var seen []string
	reply, err := c.Send(context.Background(), "hello", func(d, content string) {
		seen = append(seen, d+"|"+content)
	})
	require.NoError(t, err)
	require.Equal(t, assistant("Hi!"), reply)
	require.Equal(t, []string{"H|H", "i|Hi", "!|Hi!"}, seen)
	require.Equal(t, []conversation.Message{user("hello"), assistant("Hi!")}, c.Messages())

	persisted, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	require.Equal(t, c.Messages(), persisted)
	require.False(t, c.Busy())
}

func TestController_TerminalDeltaIsKept(t *testing.T) {
	t.Parallel()

	c := newController(t, conversation.NewMemoryStore(), streaming(delta("Hel"), done("lo")))

	reply, err := c.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Equal(t, "Hello", reply.Content)
}

func TestController_SendsHistoryWithoutPendingSlot(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "default", []conversation.Message{user("a"), assistant("b")}))
	op := streaming(done("d"))
	c := newController(t, store, op)

	_, err := c.Send(context.Background(), "c", nil)
	require.NoError(t, err)

	req := op.lastRequest()
	require.Equal(t, "chain", req.Model)
	require.NotNil(t, req.Stream)
	require.True(t, *req.Stream)
	require.Equal(t, []conversation.Message{user("a"), assistant("b"), user("c")}, req.Messages)
}

func TestController_EmptyInputNeverContactsRelay(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	op := streaming(done(""))
	c := newController(t, store, op)

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := c.Send(context.Background(), in, nil)
		require.ErrorIs(t, err, ErrEmptyInput)
	}
	require.Zero(t, op.calls.Load())
	require.Empty(t, c.Messages())
	require.Zero(t, store.Saves())
}

func TestController_FailuresKeepOnlyUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opener   *fakeOpener
		wantKind relay.Kind
	}{
		{"validation", failing(relay.NewError(relay.KindValidation, nil, "Invalid model %q. Use 'chain'.", "other-model")), relay.KindValidation},
		{"auth", failing(relay.NewError(relay.KindAuth, nil, "Invalid or missing token.")), relay.KindAuth},
		{"refused", failing(relay.NewError(relay.KindUpstreamUnavailable, nil, "upstream unavailable")), relay.KindUpstreamUnavailable},
		{"timeout", failing(relay.NewError(relay.KindUpstreamTimeout, nil, "upstream did not respond in time")), relay.KindUpstreamTimeout},
		{"truncated", streaming(delta("Hal"), delta("f")), relay.KindUpstreamUnavailable},
		{"empty stream", streaming(), relay.KindUpstreamUnavailable},
		{"all lines malformed", streaming("{nope", "[1,2]", `{"done":"yes"}`), relay.KindStreamParse},
		{"engine error", streaming(delta("par"), `{"error":"model crashed"}`), relay.KindUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := conversation.NewMemoryStore()
			c := newController(t, store, tt.opener)

			_, err := c.Send(context.Background(), "hello", nil)
			require.Error(t, err)
			require.Equal(t, tt.wantKind, relay.KindOf(err), "err = %v", err)

			require.Equal(t, []conversation.Message{user("hello")}, c.Messages())
			persisted, loadErr := store.Load(context.Background(), "default")
			require.NoError(t, loadErr)
			require.Equal(t, []conversation.Message{user("hello")}, persisted)
			require.False(t, c.Busy())
		})
	}
}

func TestController_MalformedLineBetweenGoodLinesIsSkipped(t *testing.T) {
	t.Parallel()

	c := newController(t, conversation.NewMemoryStore(), streaming(delta("a"), "{broken", done("b")))

	var deltas []string
	reply, err := c.Send(context.Background(), "x", func(d, _ string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	require.Equal(t, "ab", reply.Content)
	require.Equal(t, []string{"a", "b"}, deltas)
}

func TestController_RecoversAfterFailure(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	op := &fakeOpener{open: func(context.Context) (io.ReadCloser, error) {
		if n.Add(1) == 1 {
			return nil, relay.NewError(relay.KindUpstreamUnavailable, nil, "upstream unavailable")
		}
		return io.NopCloser(strings.NewReader(sseBody(done("back")))), nil
	}}
	c := newController(t, conversation.NewMemoryStore(), op)

	_, err := c.Send(context.Background(), "first", nil)
	require.Error(t, err)

	reply, err := c.Send(context.Background(), "second", nil)
	require.NoError(t, err)
	require.Equal(t, "back", reply.Content)
	require.Equal(t, []conversation.Message{user("first"), user("second"), assistant("back")}, c.Messages())
}

func TestController_UserMessagePersistedBeforeNetwork(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	op := &fakeOpener{}
	op.open = func(ctx context.Context) (io.ReadCloser, error) {
		msgs, err := store.Load(ctx, "default")
		require.NoError(t, err)
		require.Equal(t, []conversation.Message{user("hello")}, msgs)
		return io.NopCloser(strings.NewReader(sseBody(done("ok")))), nil
	}
	c := newController(t, store, op)

	_, err := c.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
}

func TestController_UserPersistFailureAbortsBeforeNetwork(t *testing.T) {
	t.Parallel()

	op := streaming(done("never"))
	c := newController(t, &flakyStore{MemoryStore: conversation.NewMemoryStore(), failOn: 1}, op)

	_, err := c.Send(context.Background(), "hello", nil)
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, op.calls.Load())
	require.Empty(t, c.Messages())
}

func TestController_CommitPersistFailureDropsReply(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: conversation.NewMemoryStore(), failOn: 2}
	c := newController(t, store, streaming(done("lost")))

	_, err := c.Send(context.Background(), "hello", nil)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, []conversation.Message{user("hello")}, c.Messages())

	persisted, loadErr := store.Load(context.Background(), "default")
	require.NoError(t, loadErr)
	require.Equal(t, c.Messages(), persisted)
}

func TestController_ConcurrentSendIsRejected(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	started := make(chan struct{})
	op := &fakeOpener{open: func(context.Context) (io.ReadCloser, error) {
		close(started)
		return pr, nil
	}}
	c := newController(t, conversation.NewMemoryStore(), op)

	result := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "first", nil)
		result <- err
	}()
	<-started
	require.True(t, c.Busy())

	_, err := c.Send(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrTurnInFlight)
	require.ErrorIs(t, c.Reset(context.Background()), ErrTurnInFlight)
	require.Equal(t, int32(1), op.calls.Load())

	_, _ = pw.Write([]byte(sseBody(done("ok"))))
	_ = pw.Close()
	require.NoError(t, <-result)
	require.Equal(t, []conversation.Message{user("first"), assistant("ok")}, c.Messages())
}

func TestController_CancellationDiscardsSlot(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	op := &fakeOpener{open: func(ctx context.Context) (io.ReadCloser, error) {
		context.AfterFunc(ctx, func() { _ = pw.CloseWithError(ctx.Err()) })
		return pr, nil
	}}
	c := newController(t, conversation.NewMemoryStore(), op)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "hello", func(string, string) { cancel() })
		result <- err
	}()
	_, _ = pw.Write([]byte(sseBody(delta("par"))))

	err := <-result
	require.True(t, relay.IsKind(err, relay.KindCancelled), "err = %v", err)
	require.Equal(t, []conversation.Message{user("hello")}, c.Messages())
	require.False(t, c.Busy())
}

func TestController_Reset(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	c := newController(t, store, streaming(done("ok")))
	_, err := c.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	require.NoError(t, c.Reset(context.Background()))
	require.Empty(t, c.Messages())
	persisted, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestNewController_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewController(context.Background(), Config{Model: "chain", Opener: streaming()})
	require.Error(t, err)
	_, err = NewController(context.Background(), Config{Model: "chain", Store: conversation.NewMemoryStore()})
	require.Error(t, err)
	_, err = NewController(context.Background(), Config{Opener: streaming(), Store: conversation.NewMemoryStore()})
	require.Error(t, err)
}
