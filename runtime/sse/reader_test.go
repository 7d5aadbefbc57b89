package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) ([]Frame, []error) {
	t.Helper()
	var (
		frames []Frame
		errs   []error
	)
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, errs
		}
		if err != nil {
			require.True(t, IsFramingError(err), "unexpected error: %v", err)
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}
}

func TestReaderDispatchesOnBlankLine(t *testing.T) {
	in := "event: ping\ndata: hello\n\ndata: world\n\n"
	frames, errs := readAll(t, NewReader(strings.NewReader(in)))
	require.Empty(t, errs)
	require.Len(t, frames, 2)
	assert.Equal(t, Frame{Event: "ping", Data: "hello"}, frames[0])
	assert.Equal(t, Frame{Data: "world"}, frames[1])
}

func TestReaderFoldsMultilineData(t *testing.T) {
	in := "data: first\ndata:second\ndata\n\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 1)
	assert.Equal(t, "first\nsecond\n", frames[0].Data)
}

func TestReaderStripsSingleLeadingSpace(t *testing.T) {
	in := "data:  two spaces\n\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 1)
	assert.Equal(t, " two spaces", frames[0].Data)
}

func TestReaderIgnoresCommentsAndUnknownFields(t *testing.T) {
	in := ": keepalive\nfoo: bar\ndata: x\n\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 1)
	assert.Equal(t, "x", frames[0].Data)
}

func TestReaderRequiresDataToDispatch(t *testing.T) {
	in := "event: lonely\n\ndata: payload\n\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Event)
	assert.Equal(t, "payload", frames[0].Data)
}

func TestReaderEmptyDataStillDispatches(t *testing.T) {
	frames, _ := readAll(t, NewReader(strings.NewReader("data:\n\n")))
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Data)
}

func TestReaderPersistsLastEventID(t *testing.T) {
	in := "id: 1\ndata: a\n\ndata: b\n\nid: 2\ndata: c\n\n"
	r := NewReader(strings.NewReader(in))
	frames, _ := readAll(t, r)
	require.Len(t, frames, 3)
	assert.Equal(t, "1", frames[0].ID)
	assert.Equal(t, "1", frames[1].ID)
	assert.Equal(t, "2", frames[2].ID)
	assert.Equal(t, "2", r.LastEventID())
}

func TestReaderIgnoresIDWithNUL(t *testing.T) {
	in := "id: 7\ndata: a\n\nid: bad\x00id\ndata: b\n\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 2)
	assert.Equal(t, "7", frames[1].ID)
}

func TestReaderSeededLastEventID(t *testing.T) {
	r := NewReader(strings.NewReader("data: a\n\n"), WithLastEventID("41"))
	frames, _ := readAll(t, r)
	require.Len(t, frames, 1)
	assert.Equal(t, "41", frames[0].ID)
}

func TestReaderRetry(t *testing.T) {
	in := "retry: 1500\ndata: a\n\nretry: -1\ndata: b\n\nretry: 1.5\ndata: c\n\n"
	r := NewReader(strings.NewReader(in))
	frames, _ := readAll(t, r)
	require.Len(t, frames, 3)
	assert.True(t, frames[0].HasRetry)
	assert.Equal(t, 1500*time.Millisecond, frames[0].Retry)
	assert.False(t, frames[1].HasRetry)
	assert.False(t, frames[2].HasRetry)
	hint, ok := r.RetryHint()
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, hint)
}

func TestReaderHandlesCRLF(t *testing.T) {
	in := "event: e\r\ndata: a\r\ndata: b\r\n\r\n"
	frames, _ := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Event: "e", Data: "a\nb"}, frames[0])
}

func TestReaderDiscardsPartialFrameAtEOF(t *testing.T) {
	frames, _ := readAll(t, NewReader(strings.NewReader("data: a\n\ndata: partial\n")))
	require.Len(t, frames, 1)
	assert.Equal(t, "a", frames[0].Data)
}

func TestReaderDropsOversizeFrame(t *testing.T) {
	big := strings.Repeat("x", 64)
	in := "data: " + big + "\n\ndata: ok\n\n"
	frames, errs := readAll(t, NewReader(strings.NewReader(in), WithMaxFrameSize(16)))
	require.Len(t, errs, 1)
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].Data)
}

func TestReaderDropsInvalidUTF8(t *testing.T) {
	in := "data: \xff\xfe\n\ndata: ok\n\n"
	frames, errs := readAll(t, NewReader(strings.NewReader(in)))
	require.Len(t, errs, 1)
	var fe *FramingError
	require.ErrorAs(t, errs[0], &fe)
	assert.Contains(t, fe.Reason, "UTF-8")
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].Data)
}

func TestReaderFieldWithoutColon(t *testing.T) {
	frames, _ := readAll(t, NewReader(strings.NewReader("data\ndata\n\n")))
	require.Len(t, frames, 1)
	assert.Equal(t, "\n", frames[0].Data)
}
