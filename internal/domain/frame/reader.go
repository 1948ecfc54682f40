package frame

import (
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/rs/zerolog"
)

const readChunkSize = 4 << 10

// Reader is a lazy, finite, non-restartable event sequence over a byte stream.
// Next returns io.EOF after the terminal event or at end of input; use
// Terminated to tell the two apart.
type Reader struct {
	src     io.ReadCloser
	dec     *Decoder
	chunk   []byte
	queue   []Frame
	err     error
	onSkip  func(*ParseError)
	closeMu sync.Once

	frames     int
	skipped    int
	lastFailed bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithSkipHandler is called for every line that fails to decode.
func WithSkipHandler(fn func(*ParseError)) ReaderOption {
	return func(r *Reader) { r.onSkip = fn }
}

// WithLogger logs skipped lines at warn level. It is the default, with a no-op logger.
func WithLogger(l zerolog.Logger) ReaderOption {
	return func(r *Reader) {
		r.onSkip = func(pe *ParseError) {
			l.Warn().Int("line", pe.Line).Str("text", pe.Text).Err(pe.Err).Msg("skipping undecodable stream line")
		}
	}
}

// NewReader decodes src, whose lines are prefixed with marker. Close closes src.
func NewReader(src io.ReadCloser, marker string, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:    src,
		dec:    NewDecoder(marker),
		chunk:  make([]byte, readChunkSize),
		onSkip: func(*ParseError) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextFrame returns the next frame, including parse errors.
// Read errors other than io.EOF are returned as-is once queued frames are drained.
func (r *Reader) NextFrame() (Frame, error) {
	for {
		if len(r.queue) > 0 {
			f := r.queue[0]
			r.queue = r.queue[1:]
			r.frames++
			r.lastFailed = f.Err != nil
			if f.Err != nil {
				r.skipped++
			}
			return f, nil
		}
		if r.err != nil {
			return Frame{}, r.err
		}
		if r.dec.Done() {
			r.err = io.EOF
			continue
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Decode(r.chunk[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				r.err = io.EOF
			} else {
				r.err = err
			}
		}
	}
}

// Next returns the next decoded event, skipping undecodable lines.
func (r *Reader) Next() (Event, error) {
	for {
		f, err := r.NextFrame()
		if err != nil {
			return Event{}, err
		}
		if f.Err != nil {
			r.onSkip(f.Err)
			continue
		}
		return f.Event, nil
	}
}

// Events ranges over the remaining events. A read error is yielded once and ends the sequence.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Terminated reports whether the terminal event was decoded.
func (r *Reader) Terminated() bool { return r.dec.Done() }

// Skipped returns the number of lines that failed to decode.
func (r *Reader) Skipped() int { return r.skipped }

// Frames returns the number of frames produced so far, including parse errors.
func (r *Reader) Frames() int { return r.frames }

// LastFailed reports whether the most recent frame was a parse error.
func (r *Reader) LastFailed() bool { return r.lastFailed }

// Close closes the underlying stream. Later calls are no-ops and return nil.
func (r *Reader) Close() error {
	var err error
	r.closeMu.Do(func() { err = r.src.Close() })
	return err
}
