// Package sse parses text/event-stream byte streams into frames.
//
// The Reader implements the dispatch rules of the event-stream format:
// comment lines start with ':', fields are "name: value" with one optional
// leading space stripped, data lines fold with '\n', and a blank line
// dispatches the pending frame when at least one data field was seen. The
// last event id persists across frames so a transport can resume with it.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxFrameSize bounds the bytes of a single frame. Larger frames are
// dropped with a FramingError.
const DefaultMaxFrameSize = 1 << 20

type (
	// Frame is one dispatched unit of the event stream.
	Frame struct {
		// Event is the value of the last event field, empty when absent.
		Event string
		// ID is the last event id seen on the stream at dispatch time.
		ID string
		// Data is the concatenation of the frame's data fields joined by '\n'.
		Data string
		// Retry is the reconnection delay carried by this frame.
		Retry time.Duration
		// HasRetry reports whether the frame carried a valid retry field.
		HasRetry bool
	}

	// Reader reads frames from an event stream. A Reader is not safe for
	// concurrent use; each connection owns its own Reader.
	Reader struct {
		br       *bufio.Reader
		maxFrame int

		lastID   string
		retry    time.Duration
		hasRetry bool
	}

	// ReaderOption configures a Reader.
	ReaderOption func(*Reader)

	// FramingError reports a malformed frame. The frame is dropped and the
	// stream remains readable.
	FramingError struct {
		// Reason describes what was wrong with the frame.
		Reason string
		// Size is the number of bytes consumed by the dropped frame.
		Size int
	}
)

// WithMaxFrameSize overrides DefaultMaxFrameSize. Non-positive values are
// ignored.
func WithMaxFrameSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxFrame = n
		}
	}
}

// WithLastEventID seeds the persisted event id, typically with the id the
// previous connection ended on.
func WithLastEventID(id string) ReaderOption {
	return func(r *Reader) {
		r.lastID = id
	}
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	rd := &Reader{br: bufio.NewReader(r), maxFrame: DefaultMaxFrameSize}
	for _, o := range opts {
		o(rd)
	}
	return rd
}

// Error implements error.
func (e *FramingError) Error() string {
	return fmt.Sprintf("sse: malformed frame (%d bytes): %s", e.Size, e.Reason)
}

// IsFramingError reports whether err is or wraps a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// LastEventID returns the last event id observed on the stream.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// RetryHint returns the most recent valid retry value seen on the stream.
func (r *Reader) RetryHint() (time.Duration, bool) {
	return r.retry, r.hasRetry
}

// Next returns the next dispatched frame. It returns io.EOF when the stream
// ends; a partially received frame at end of stream is discarded. A
// *FramingError reports a dropped frame and callers may keep calling Next.
func (r *Reader) Next() (Frame, error) {
	var (
		frame    Frame
		data     bytes.Buffer
		dataSeen bool
		size     int
		oversize bool
	)
	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			return Frame{}, err
		}
		size += len(line)
		if tooLong || size > r.maxFrame {
			oversize = true
			dataSeen = true
		}
		if len(line) == 0 {
			if !dataSeen {
				frame.Event = ""
				size = 0
				oversize = false
				continue
			}
			if oversize {
				return Frame{}, &FramingError{Reason: fmt.Sprintf("frame exceeds %d bytes", r.maxFrame), Size: size}
			}
			if !utf8.Valid(data.Bytes()) {
				return Frame{}, &FramingError{Reason: "data is not valid UTF-8", Size: size}
			}
			frame.Data = data.String()
			frame.ID = r.lastID
			return frame, nil
		}
		if oversize || line[0] == ':' {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			frame.Event = value
		case "data":
			if dataSeen {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			dataSeen = true
		case "id":
			if !strings.ContainsAny(value, "\x00\n\r") {
				r.lastID = value
			}
		case "retry":
			if d, ok := parseRetry(value); ok {
				r.retry, r.hasRetry = d, true
				frame.Retry, frame.HasRetry = d, true
			}
		}
	}
}

// readLine returns the next line without its terminator. Lines end with LF
// or CRLF. Lines longer than the frame limit are consumed and reported via
// tooLong with their content dropped.
func (r *Reader) readLine() (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > r.maxFrame+2 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			// An unterminated trailing line never completes a frame.
			return "", false, err
		}
		break
	}
	buf = bytes.TrimSuffix(buf, []byte{'\n'})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return string(buf), tooLong, nil
}

// parseRetry accepts an ASCII decimal count of milliseconds.
func parseRetry(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms > int64(time.Duration(1<<62)/time.Millisecond) {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
