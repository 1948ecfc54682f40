package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/velune/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

// ChatRelay opens one relay session per request. *relay.Relay satisfies it.
type ChatRelay interface {
	Open(ctx context.Context, req relay.ChatRequest, token string) (*relay.Session, error)
}

// ChatHandler serves POST /api/chat as a server-sent event stream.
type ChatHandler struct {
	relay    ChatRelay
	maxBytes int64
	log      zerolog.Logger
}

func NewChatHandler(r ChatRelay, maxBytes int64, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{relay: r, maxBytes: maxBytes, log: log}
}

// Chat validates the request, opens the session and waits for the first upstream
// line before committing to a 200. Anything that fails before that line becomes a
// JSON error; a failure after it ends the stream early.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r, h.maxBytes)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	sess, err := h.relay.Open(r.Context(), req, ctxkeys.String(r.Context(), ctxkeys.Token))
	if err != nil {
		writeRelayError(w, err)
		return
	}
	defer sess.Close() //nolint:errcheck

	first, err := sess.Next()
	if err == nil {
		// An in-band engine error as the first line already failed the session.
		err = sess.Err()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		writeRelayError(w, err)
		return
	}

	bw, flusher, err := prepareChatStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if first == nil {
		return
	}
	if err := writeEvent(bw, flusher, first); err != nil {
		return
	}
	h.streamLines(bw, flusher, sess)
}

func (h *ChatHandler) streamLines(bw *bufio.Writer, flusher http.Flusher, sess *relay.Session) {
	for line, err := range sess.Lines() {
		if err != nil {
			ev := h.log.Warn()
			if relay.IsKind(err, relay.KindCancelled) {
				ev = h.log.Debug()
			}
			ev.Str("session_id", sess.ID()).Err(err).Msg("stream ended early")
			return
		}
		if writeErr := writeEvent(bw, flusher, line); writeErr != nil {
			return
		}
	}
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (relay.ChatRequest, error) {
	var req relay.ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return relay.ChatRequest{}, relay.NewError(relay.KindValidation, err, "request body exceeds %d bytes.", maxBytes)
		}
		return relay.ChatRequest{}, relay.NewError(relay.KindValidation, err, "Invalid request body.")
	}
	return req, nil
}

func prepareChatStream(w http.ResponseWriter) (*bufio.Writer, http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Flusher")
	}

	w.Header().Set(headerContentType, mimeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return bufio.NewWriter(w), flusher, nil
}

// writeEvent frames line as one SSE event and flushes it to the client.
func writeEvent(bw *bufio.Writer, flusher http.Flusher, line []byte) error {
	if _, err := fmt.Fprintf(bw, "data: %s\n\n", line); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
