// Package frame turns arbitrarily chunked byte streams into self-delimited
// frames and back. Two codecs share one contract: Lines (one JSON record per
// line, used on worker output) and SSE (data: records separated by a blank
// line with a terminal [DONE] sentinel, used on the client transport).
package frame

import (
	"bytes"
	"fmt"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
)

// DoneMarker is the literal payload of the end-of-stream sentinel.
const DoneMarker = "[DONE]"

// Frame is one complete, not yet interpreted unit of the encoding.
type Frame struct {
	// Payload holds the record bytes with framing removed.
	Payload []byte
	// Done marks the end-of-stream sentinel; Payload is empty.
	Done bool
}

// Codec describes one framing scheme.
type Codec struct {
	name       string
	terminator []byte
	wrap       func(payload []byte) []byte
	unwrap     func(segment []byte) (Frame, bool)
	sentinel   []byte
}

// Lines frames worker output: one JSON record per line.
var Lines = Codec{
	name:       "lines",
	terminator: []byte("\n"),
	wrap: func(payload []byte) []byte {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, payload...)
		return append(out, '\n')
	},
	unwrap: func(segment []byte) (Frame, bool) {
		trimmed := bytes.TrimSpace(segment)
		if len(trimmed) == 0 {
			return Frame{}, false
		}
		return Frame{Payload: trimmed}, true
	},
}

// SSE frames the client transport as server-sent events.
var SSE = Codec{
	name:       "sse",
	terminator: []byte("\n\n"),
	wrap:       wrapSSE,
	unwrap:     unwrapSSE,
	sentinel:   []byte("data: " + DoneMarker + "\n\n"),
}

// Name identifies the codec in logs and metrics.
func (c Codec) Name() string {
	return c.name
}

// Encode serializes an event into one terminated frame.
func (c Codec) Encode(evt event.Event) ([]byte, error) {
	payload, err := evt.JSON()
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.name, err)
	}
	return c.wrap(payload), nil
}

// EncodeDone returns the end-of-stream sentinel, or nil when the codec has none.
func (c Codec) EncodeDone() []byte {
	if c.sentinel == nil {
		return nil
	}
	return append([]byte(nil), c.sentinel...)
}

// Decode appends chunk to leftover and splits out every complete frame in
// order. The unterminated remainder is returned for the next call. Blank
// segments are skipped.
func (c Codec) Decode(leftover, chunk []byte) ([]Frame, []byte) {
	buf := appendNormalized(append([]byte(nil), leftover...), chunk)
	var frames []Frame
	for {
		idx := bytes.Index(buf, c.terminator)
		if idx < 0 {
			break
		}
		segment := buf[:idx]
		buf = buf[idx+len(c.terminator):]
		if f, ok := c.unwrap(segment); ok {
			frames = append(frames, f)
		}
	}
	return frames, buf
}

// NewDecoder returns a stateful decoder bound to this codec.
func (c Codec) NewDecoder() *Decoder {
	return &Decoder{codec: c}
}

// Decoder accumulates chunks and emits complete frames. It keeps its own
// buffer and resumes the terminator search where the previous Feed stopped, so
// a long record arriving in many chunks is scanned once. It is not safe for
// concurrent use.
type Decoder struct {
	codec Codec
	buf   []byte
	// scanned is the prefix of buf already searched for a terminator.
	scanned int
}

// Feed consumes the next chunk and returns every frame it completes. Returned
// payloads stay valid after later calls.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if n := len(d.buf); n > 0 && d.buf[n-1] == '\r' {
		// appendNormalized may rewrite a trailing CR.
		d.scanned = min(d.scanned, n-1)
	}
	d.buf = appendNormalized(d.buf, chunk)
	term := d.codec.terminator
	var frames []Frame
	for {
		from := max(min(d.scanned, len(d.buf))-len(term)+1, 0)
		idx := bytes.Index(d.buf[from:], term)
		if idx < 0 {
			d.scanned = len(d.buf)
			return frames
		}
		idx += from
		segment := d.buf[:idx:idx]
		d.buf = d.buf[idx+len(term):]
		d.scanned = 0
		if f, ok := d.codec.unwrap(segment); ok {
			frames = append(frames, f)
		}
	}
}

// Flush treats any buffered, unterminated bytes as a final frame. It is called
// once the input has ended.
func (d *Decoder) Flush() []Frame {
	rest := d.buf
	d.buf = nil
	d.scanned = 0
	if len(rest) == 0 {
		return nil
	}
	if f, ok := d.codec.unwrap(rest); ok {
		return []Frame{f}
	}
	return nil
}

// Buffered reports how many bytes are waiting for a terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// appendNormalized appends chunk to buf converting CRLF line endings to LF,
// including a CR left at the end of buf by the previous chunk.
func appendNormalized(buf, chunk []byte) []byte {
	if len(chunk) == 0 {
		return buf
	}
	if len(buf) > 0 && buf[len(buf)-1] == '\r' && chunk[0] == '\n' {
		buf = buf[:len(buf)-1]
	}
	for {
		idx := bytes.Index(chunk, []byte("\r\n"))
		if idx < 0 {
			return append(buf, chunk...)
		}
		buf = append(buf, chunk[:idx]...)
		buf = append(buf, '\n')
		chunk = chunk[idx+2:]
	}
}

func wrapSSE(payload []byte) []byte {
	var out bytes.Buffer
	for _, line := range bytes.Split(payload, []byte("\n")) {
		out.WriteString("data: ")
		out.Write(line)
		out.WriteByte('\n')
	}
	out.WriteByte('\n')
	return out.Bytes()
}

// unwrapSSE extracts the data payload from one event block. Comment lines and
// fields other than data are ignored; blocks without data yield no frame.
func unwrapSSE(segment []byte) (Frame, bool) {
	var data [][]byte
	for _, line := range bytes.Split(segment, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		value, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		value, _ = bytes.CutPrefix(value, []byte(" "))
		data = append(data, value)
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	payload := bytes.Join(data, []byte("\n"))
	if bytes.Equal(bytes.TrimSpace(payload), []byte(DoneMarker)) {
		return Frame{Done: true}, true
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return Frame{}, false
	}
	return Frame{Payload: payload}, true
}
