// Package transport maintains a resumable Server-Sent Events connection.
//
// A Session owns at most one HTTP connection at a time. When the connection
// fails, times out or is closed by the server, the session waits for
// max(server retry hint, backoff delay) and reconnects, sending the last
// event id it observed in the Last-Event-ID header. The consecutive failure
// count drives the backoff and resets whenever a frame is received.
//
// Reading and waiting to reconnect happen sequentially in the goroutine
// calling Run, so they never overlap. Cancelling the Run context or calling
// Close aborts the in-flight request and any pending reconnect; no frame is
// delivered afterwards.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"goa.design/runview/runtime/backoff"
	"goa.design/runview/runtime/sse"
	"goa.design/runview/runtime/telemetry"
)

// DefaultIdleTimeout is the idle window used when Options.IdleTimeout is
// zero.
const DefaultIdleTimeout = 45 * time.Second

type (
	// Options configures a Session.
	Options struct {
		// Endpoint is the absolute http(s) URL of the event stream.
		Endpoint string
		// Method is GET by default. POST requests send Body on every attempt.
		Method string
		// Body is the request payload sent with each connection attempt.
		Body []byte
		// Header is added to every request.
		Header http.Header
		// HTTPClient performs requests. It must not set a Timeout shorter
		// than the stream lifetime; defaults to a client without timeout.
		HTTPClient *http.Client
		// Backoff computes the delay between attempts. Defaults to
		// backoff.DefaultExponential.
		Backoff backoff.Strategy
		// IdleTimeout bounds the time without receiving a frame. Zero uses
		// DefaultIdleTimeout; negative disables the timeout.
		IdleTimeout time.Duration
		// MaxAttempts bounds consecutive failed attempts. Zero retries
		// forever.
		MaxAttempts int
		// ConnectLimit caps connection attempts per second, with bursts of
		// ConnectBurst. Zero disables the limit.
		ConnectLimit rate.Limit
		ConnectBurst int
		// LastEventID seeds the resume id sent on the first connection.
		LastEventID string
		// Logger, Metrics and Tracer default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// OnStateChange is called synchronously on each connection state
		// transition.
		OnStateChange func(StateChange)
	}

	// Session is a resumable event stream connection.
	Session struct {
		opts    Options
		limiter *rate.Limiter

		running atomic.Bool
		closed  chan struct{}
		once    sync.Once
		nudge   chan struct{}

		mu          sync.Mutex
		lastEventID string
		retryHint   time.Duration
		hasRetry    bool
		cancelConn  context.CancelCauseFunc
	}

	// FrameHandler consumes frames in arrival order. Returning ErrStop ends
	// Run without error; any other error ends Run with that error.
	FrameHandler func(ctx context.Context, f sse.Frame) error
)

// NewSession validates opts and returns a Session.
func NewSession(opts Options) (*Session, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", opts.Endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: host is required", opts.Endpoint)
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Method != http.MethodGet && opts.Method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method %q", opts.Method)
	}
	if opts.MaxAttempts < 0 {
		return nil, errors.New("max attempts must not be negative")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.DefaultExponential()
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	limit, burst := rate.Inf, 1
	if opts.ConnectLimit > 0 {
		limit = opts.ConnectLimit
		if opts.ConnectBurst > 0 {
			burst = opts.ConnectBurst
		}
	}
	return &Session{
		opts:        opts,
		limiter:     rate.NewLimiter(limit, burst),
		closed:      make(chan struct{}),
		nudge:       make(chan struct{}, 1),
		lastEventID: opts.LastEventID,
	}, nil
}

// LastEventID returns the id of the last event received.
func (s *Session) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Close stops the session: the in-flight request is aborted, a pending
// reconnect is cancelled and Run returns ErrClosed. Close is idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
	})
}

// Reconnect drops the current connection and reconnects immediately with
// the last event id. It does not count as a failed attempt. When the
// session is waiting to reconnect the wait is cut short.
func (s *Session) Reconnect() {
	s.mu.Lock()
	cancel := s.cancelConn
	s.mu.Unlock()
	if cancel != nil {
		cancel(errReconnectRequested)
		return
	}
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Run connects and delivers frames to handle until ctx is cancelled, the
// session is closed, handle returns an error, the server answers 204 or
// MaxAttempts consecutive attempts failed.
func (s *Session) Run(ctx context.Context, handle FrameHandler) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		failures   int
		firstFail  time.Time
		lastErr    error
		parentDone = func() error {
			if s.isClosed() {
				return ErrClosed
			}
			return ctx.Err()
		}
	)
	defer s.setState(StateChange{State: StateClosed, LastEventID: s.LastEventID()})

	for {
		if err := parentDone(); err != nil {
			return err
		}
		received, err := s.connect(ctx, failures, handle)
		var herr handlerError
		switch {
		case errors.As(err, &herr):
			if errors.Is(herr.err, ErrStop) {
				return nil
			}
			return herr.err
		case errors.Is(err, errNoContent):
			s.opts.Logger.Info(ctx, "event stream ended by server", "endpoint", s.opts.Endpoint)
			return nil
		}
		if perr := parentDone(); perr != nil {
			return perr
		}
		if received {
			failures = 0
		}

		var delay time.Duration
		if errors.Is(err, errReconnectRequested) {
			s.opts.Logger.Info(ctx, "reconnect requested", "last_event_id", s.LastEventID())
		} else {
			if failures == 0 {
				firstFail = time.Now()
			}
			failures++
			lastErr = err
			if s.opts.MaxAttempts > 0 && failures >= s.opts.MaxAttempts {
				s.opts.Logger.Error(ctx, "reconnect attempts exhausted", "attempts", failures, "err", err)
				return &ExhaustedError{Attempts: failures, TotalDuration: time.Since(firstFail), LastError: lastErr}
			}
			delay = s.nextDelay(failures)
			s.opts.Metrics.IncCounter(telemetry.MetricReconnect, 1)
			s.opts.Metrics.RecordTimer(telemetry.MetricBackoff, delay)
			s.opts.Logger.Warn(ctx, "event stream disconnected, reconnecting",
				"attempt", failures, "delay", delay.String(), "last_event_id", s.LastEventID(), "err", err)
		}
		s.setState(StateChange{State: StateReconnecting, Attempt: failures, Delay: delay, LastEventID: s.LastEventID(), Err: err})
		if err := s.wait(ctx, delay); err != nil {
			return parentDone()
		}
	}
}

// nextDelay honors the server retry hint when it exceeds the backoff delay.
func (s *Session) nextDelay(attempt int) time.Duration {
	delay := s.opts.Backoff.NextDelay(attempt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRetry && s.retryHint > delay {
		return s.retryHint
	}
	return delay
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-s.nudge:
		return nil
	}
}

// connect performs one connection attempt and reads frames until the
// stream fails. received reports whether at least one frame was delivered.
func (s *Session) connect(ctx context.Context, attempt int, handle FrameHandler) (received bool, err error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	connCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.cancelConn = cancel
	lastID := s.lastEventID
	s.mu.Unlock()
	// Reconnect requests now target this connection, earlier nudges are
	// stale.
	select {
	case <-s.nudge:
	default:
	}
	defer func() {
		s.mu.Lock()
		s.cancelConn = nil
		s.mu.Unlock()
		cancel(nil)
	}()

	connCtx, span := s.opts.Tracer.Start(connCtx, "runview.transport.connect")
	defer func() {
		if err != nil && !errors.Is(err, errReconnectRequested) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var timer *time.Timer
	if s.opts.IdleTimeout > 0 {
		timer = time.AfterFunc(s.opts.IdleTimeout, func() { cancel(errIdleTimeout) })
		defer timer.Stop()
	}
	resetIdle := func() {
		if timer != nil {
			timer.Reset(s.opts.IdleTimeout)
		}
	}
	pauseIdle := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	failure := func(op string, err error) error {
		switch cause := context.Cause(connCtx); {
		case errors.Is(cause, errIdleTimeout):
			return &Error{Op: op, Timeout: true, Err: errIdleTimeout}
		case errors.Is(cause, errReconnectRequested):
			return errReconnectRequested
		case ctx.Err() != nil:
			return ctx.Err()
		}
		return &Error{Op: op, Err: err}
	}

	req, err := s.newRequest(connCtx, lastID)
	if err != nil {
		return false, err
	}
	s.setState(StateChange{State: StateConnecting, Attempt: attempt, LastEventID: lastID})
	s.opts.Metrics.IncCounter(telemetry.MetricConnect, 1)
	s.opts.Logger.Debug(ctx, "connecting to event stream", "endpoint", s.opts.Endpoint, "attempt", attempt, "last_event_id", lastID)

	resp, err := s.opts.HTTPClient.Do(req) //nolint:gosec // endpoint is URL-parsed and validated in NewSession
	if err != nil {
		return false, failure("connect", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return false, errNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &Error{Op: "connect", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(raw))}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, perr := mime.ParseMediaType(ct); perr != nil || mt != "text/event-stream" {
			return false, &Error{Op: "connect", Err: fmt.Errorf("unexpected content type %q", ct)}
		}
	}
	resetIdle()
	s.setState(StateChange{State: StateConnected, Attempt: attempt, LastEventID: lastID})
	span.AddEvent("connected", "status", resp.StatusCode)

	reader := sse.NewReader(resp.Body, sse.WithLastEventID(lastID))
	for {
		frame, err := reader.Next()
		s.recordReader(reader)
		if err != nil {
			if sse.IsFramingError(err) {
				resetIdle()
				s.opts.Metrics.IncCounter(telemetry.MetricMalformedFrames, 1)
				s.opts.Logger.Warn(ctx, "dropped malformed frame", "err", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			return received, failure("read", err)
		}
		// The idle window only covers waiting for the server.
		pauseIdle()
		if s.isClosed() {
			return received, ErrClosed
		}
		if ctx.Err() != nil {
			return received, ctx.Err()
		}
		received = true
		s.opts.Metrics.IncCounter(telemetry.MetricFrames, 1)
		if err := handle(ctx, frame); err != nil {
			return received, handlerError{err}
		}
		resetIdle()
	}
}

func (s *Session) newRequest(ctx context.Context, lastID string) (*http.Request, error) {
	var body io.Reader
	if s.opts.Method == http.MethodPost && s.opts.Body != nil {
		body = bytes.NewReader(s.opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.opts.Method, s.opts.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (s *Session) recordReader(r *sse.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventID = r.LastEventID()
	if d, ok := r.RetryHint(); ok {
		s.retryHint, s.hasRetry = d, true
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) setState(c StateChange) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(c)
	}
}
