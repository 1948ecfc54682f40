package frame

import (
	"bytes"
	"strings"
)

// Decoder splits chunks into lines and decodes them. Partial lines are kept
// until the rest arrives. It does no I/O and is not safe for concurrent use.
type Decoder struct {
	marker []byte
	// loose accepts the marker without its trailing space ("data:x").
	loose []byte
	buf   []byte
	line  int
	done  bool
}

// NewDecoder returns a decoder for lines prefixed with marker.
func NewDecoder(marker string) *Decoder {
	d := &Decoder{marker: []byte(marker)}
	if trimmed := strings.TrimSuffix(marker, " "); trimmed != marker {
		d.loose = []byte(trimmed)
	}
	return d
}

// Done reports whether a terminal event was decoded.
func (d *Decoder) Done() bool { return d.done }

// Decode consumes chunk and returns the frames of every line it completes.
func (d *Decoder) Decode(chunk []byte) []Frame {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte{'\r'})
		if f, ok := d.decodeLine(line); ok {
			frames = append(frames, f)
		}
		d.buf = d.buf[i+1:]
	}

	if d.done {
		d.buf = nil
	} else if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	} else {
		d.buf = d.buf[:0]
	}
	return frames
}

// Flush decodes a trailing line that was never terminated. Call it once at end of input.
func (d *Decoder) Flush() []Frame {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := bytes.TrimSuffix(d.buf, []byte{'\r'})
	d.buf = nil
	if f, ok := d.decodeLine(line); ok {
		return []Frame{f}
	}
	return nil
}

// decodeLine returns false for lines that carry no frame: blank separators and SSE comments.
func (d *Decoder) decodeLine(line []byte) (Frame, bool) {
	d.line++
	if len(bytes.TrimSpace(line)) == 0 {
		return Frame{}, false
	}
	if len(d.marker) > 0 && line[0] == ':' {
		return Frame{}, false
	}

	payload, ok := d.stripMarker(line)
	if !ok {
		return d.fail(line, ErrMissingMarker), true
	}
	ev, err := ParsePayload(payload)
	if err != nil {
		return d.fail(line, err), true
	}
	if ev.Terminal {
		d.done = true
	}
	return Frame{Raw: bytes.Clone(payload), Event: ev}, true
}

func (d *Decoder) stripMarker(line []byte) ([]byte, bool) {
	if rest, ok := bytes.CutPrefix(line, d.marker); ok {
		return rest, true
	}
	if d.loose != nil {
		if rest, ok := bytes.CutPrefix(line, d.loose); ok {
			return rest, true
		}
	}
	return nil, false
}

func (d *Decoder) fail(line []byte, err error) Frame {
	text := string(line)
	if len(text) > maxErrorText {
		text = text[:maxErrorText] + "…"
	}
	payload, ok := d.stripMarker(line)
	if !ok {
		payload = line
	}
	return Frame{
		Raw: bytes.Clone(payload),
		Err: &ParseError{Line: d.line, Text: text, Err: err},
	}
}
