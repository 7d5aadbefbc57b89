package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runview/runtime/backoff"
	"goa.design/runview/runtime/sse"
)

// streamServer serves each connection with fn, passing the 1-based
// connection number.
func streamServer(t *testing.T, fn func(w http.ResponseWriter, r *http.Request, conn int)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(conns.Add(1))
		fn(w, r, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		_, _ = fmt.Fprint(w, f)
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Backoff == nil {
		opts.Backoff = backoff.Constant(5 * time.Millisecond)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	return s
}

func TestNewSessionValidation(t *testing.T) {
	for _, opts := range []Options{
		{Endpoint: "ftp://example.com"},
		{Endpoint: "http://"},
		{Endpoint: "http://example.com", Method: http.MethodPut},
		{Endpoint: "http://example.com", MaxAttempts: -1},
	} {
		_, err := NewSession(opts)
		assert.Error(t, err, opts)
	}
}

func TestRunDeliversFramesWithHeaders(t *testing.T) {
	var headers atomic.Value
	srv, _ := streamServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		headers.Store(r.Header.Clone())
		writeFrames(w, "event: ping\ndata: hello\n\n", ": comment\ndata: world\n\n")
	})
	s := newSession(t, Options{Endpoint: srv.URL, Header: http.Header{"Authorization": {"Bearer x"}}})

	var frames []sse.Frame
	err := s.Run(context.Background(), func(_ context.Context, f sse.Frame) error {
		frames = append(frames, f)
		if len(frames) == 2 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	got := headers.Load().(http.Header)
	assert.Equal(t, "ping", frames[0].Event)
	assert.Equal(t, "hello", frames[0].Data)
	assert.Equal(t, "world", frames[1].Data)
	assert.Equal(t, "text/event-stream", got.Get("Accept"))
	assert.Equal(t, "no-cache", got.Get("Cache-Control"))
	assert.Equal(t, "Bearer x", got.Get("Authorization"))
	assert.Empty(t, got.Get("Last-Event-ID"))
}

func TestReconnectResumesWithLastEventID(t *testing.T) {
	var resumeID atomic.Value
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			writeFrames(w, "id: 42\ndata: first\n\n")
			return
		}
		resumeID.Store(r.Header.Get("Last-Event-ID"))
		writeFrames(w, "id: 43\ndata: second\n\n")
	})

	var (
		mu      sync.Mutex
		changes []StateChange
	)
	s := newSession(t, Options{
		Endpoint: srv.URL,
		OnStateChange: func(c StateChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
	})
	var data []string
	err := s.Run(context.Background(), func(_ context.Context, f sse.Frame) error {
		data = append(data, f.Data)
		if f.Data == "second" {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, data)
	assert.Equal(t, "42", resumeID.Load())
	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, "43", s.LastEventID())

	mu.Lock()
	defer mu.Unlock()
	var reconnect *StateChange
	for i := range changes {
		if changes[i].State == StateReconnecting {
			reconnect = &changes[i]
			break
		}
	}
	require.NotNil(t, reconnect)
	assert.Equal(t, "42", reconnect.LastEventID)
	assert.Positive(t, reconnect.Delay)
	assert.Equal(t, 1, reconnect.Attempt)
	assert.Equal(t, StateClosed, changes[len(changes)-1].State)
}

func TestNon2xxRetriesUntilExhausted(t *testing.T) {
	srv, conns := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	s := newSession(t, Options{Endpoint: srv.URL, MaxAttempts: 3})

	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, int32(3), conns.Load())
}

func TestFrameReceiptResetsAttempts(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, _ *http.Request, n int) {
		switch n {
		case 1, 2, 4:
			http.Error(w, "nope", http.StatusBadGateway)
		case 3:
			writeFrames(w, "data: ok\n\n")
		default:
			writeFrames(w, "data: stop\n\n")
		}
	})
	var attempts []int
	s := newSession(t, Options{
		Endpoint: srv.URL,
		OnStateChange: func(c StateChange) {
			if c.State == StateReconnecting {
				attempts = append(attempts, c.Attempt)
			}
		},
	})
	err := s.Run(context.Background(), func(_ context.Context, f sse.Frame) error {
		if f.Data == "stop" {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 2}, attempts)
}

func TestRetryHintExtendsDelay(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeFrames(w, "retry: 250\ndata: x\n\n")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delay time.Duration
	s := newSession(t, Options{
		Endpoint: srv.URL,
		OnStateChange: func(c StateChange) {
			if c.State == StateReconnecting {
				delay = c.Delay
				cancel()
			}
		},
	})
	err := s.Run(ctx, func(context.Context, sse.Frame) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 250*time.Millisecond, delay)
}

func TestIdleTimeoutTriggersReconnect(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeFrames(w)
		<-r.Context().Done()
	})
	s := newSession(t, Options{Endpoint: srv.URL, IdleTimeout: 50 * time.Millisecond, MaxAttempts: 1})
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.True(t, IsTimeout(err))
}

func TestSlowHandlerDoesNotTripIdleTimeout(t *testing.T) {
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeFrames(w)
		for i := 1; ; i++ {
			if _, err := fmt.Fprintf(w, "data: %d\n\n", i); err != nil {
				return
			}
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	})
	s := newSession(t, Options{Endpoint: srv.URL, IdleTimeout: 60 * time.Millisecond, MaxAttempts: 1})

	var seen int
	err := s.Run(context.Background(), func(_ context.Context, f sse.Frame) error {
		seen++
		if seen == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		if seen == 4 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), conns.Load())
}

func TestStaleReconnectDoesNotShortenBackoff(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv, _ := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := newSession(t, Options{Endpoint: srv.URL, Backoff: backoff.Constant(100 * time.Millisecond), MaxAttempts: 2})
	s.Reconnect()

	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 80*time.Millisecond)
}

func TestUnexpectedContentType(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	s := newSession(t, Options{Endpoint: srv.URL, MaxAttempts: 1})
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "unexpected content type")
}

func TestNoContentEndsRun(t *testing.T) {
	srv, conns := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusNoContent)
	})
	s := newSession(t, Options{Endpoint: srv.URL})
	require.NoError(t, s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil }))
	assert.Equal(t, int32(1), conns.Load())
}

func TestCloseStopsDeliveryAndReconnects(t *testing.T) {
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeFrames(w)
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			_, _ = fmt.Fprintf(w, "id: %d\ndata: tick\n\n", i)
			w.(http.Flusher).Flush()
		}
	})
	s := newSession(t, Options{Endpoint: srv.URL})
	var afterClose atomic.Int32
	var closed atomic.Bool
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error {
		if closed.Load() {
			afterClose.Add(1)
		}
		closed.Store(true)
		s.Close()
		return nil
	})
	require.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, afterClose.Load())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), conns.Load(), "no reconnect after close")

	err = s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestReconnectRequestDoesNotCountAsFailure(t *testing.T) {
	var resume atomic.Value
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			writeFrames(w, "id: 7\ndata: one\n\n")
			<-r.Context().Done()
			return
		}
		resume.Store(r.Header.Get("Last-Event-ID"))
		writeFrames(w, "data: two\n\n")
	})
	var reconnects []StateChange
	s := newSession(t, Options{
		Endpoint: srv.URL,
		Backoff:  backoff.Constant(time.Hour),
		OnStateChange: func(c StateChange) {
			if c.State == StateReconnecting {
				reconnects = append(reconnects, c)
			}
		},
	})
	err := s.Run(context.Background(), func(_ context.Context, f sse.Frame) error {
		if f.Data == "one" {
			go s.Reconnect()
			return nil
		}
		return ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, "7", resume.Load())
	require.Len(t, reconnects, 1)
	assert.Zero(t, reconnects[0].Attempt)
	assert.Zero(t, reconnects[0].Delay)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeFrames(w, "data: x\n\n")
		<-r.Context().Done()
	})
	s := newSession(t, Options{Endpoint: srv.URL})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(context.Context, sse.Frame) error {
			close(started)
			return nil
		})
	}()
	<-started
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return nil })
	require.ErrorIs(t, err, ErrRunning)
	s.Close()
	require.ErrorIs(t, <-done, ErrClosed)
}

func TestPostSendsBodyOnEveryAttempt(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv, _ := streamServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.Method+" "+string(body))
		mu.Unlock()
		if n == 1 {
			http.Error(w, "retry", http.StatusInternalServerError)
			return
		}
		writeFrames(w, "data: x\n\n")
	})
	s := newSession(t, Options{Endpoint: srv.URL, Method: http.MethodPost, Body: []byte(`{"threadId":"t"}`)})
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return ErrStop })
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`POST {"threadId":"t"}`, `POST {"threadId":"t"}`}, bodies)
}

func TestHandlerErrorEndsRun(t *testing.T) {
	srv, _ := streamServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeFrames(w, "data: x\n\n")
	})
	s := newSession(t, Options{Endpoint: srv.URL})
	boom := errors.New("boom")
	err := s.Run(context.Background(), func(context.Context, sse.Frame) error { return boom })
	require.ErrorIs(t, err, boom)
}
