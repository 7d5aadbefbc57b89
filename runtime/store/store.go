// Package store reconciles the event stream of one agent run into an
// AccumulatedState.
//
// A Store owns the state of a single run. Start opens a transport session and
// folds each decoded event through the subscriber pipeline and the reducer,
// strictly in arrival order. Readers get snapshots through Snapshot and Watch
// and never share mutable data with the store. When the run reaches a
// terminal status the final state is handed to the optional archive.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/runview/runtime/archive"
	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/patch"
	"goa.design/runview/runtime/pipeline"
	"goa.design/runview/runtime/reducer"
	"goa.design/runview/runtime/runlog"
	"goa.design/runview/runtime/sse"
	"goa.design/runview/runtime/state"
	"goa.design/runview/runtime/telemetry"
	"goa.design/runview/runtime/transport"
)

// archiveTimeout bounds the time spent saving a finished run.
const archiveTimeout = 10 * time.Second

type (
	// Options configures a Store.
	Options struct {
		// Transport is the template used to open the run's session. Its
		// Logger, Metrics and Tracer default to the store's.
		Transport transport.Options
		// Subscribers are invoked in order for every event.
		Subscribers []pipeline.Subscriber
		// Decoder turns frame payloads into events. Defaults to a decoder
		// without schema validation.
		Decoder *events.Decoder
		// Archive receives the final state of the run when set.
		Archive archive.Archive
		// EventLog journals every event received on the stream or
		// dispatched when set. Replayed events are not journaled.
		EventLog runlog.Store
		// Logger, Metrics and Tracer default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// NewID generates thread and run ids. Defaults to random UUIDs.
		NewID func() string
		// Now timestamps archive records. Defaults to time.Now.
		Now func() time.Time
	}

	// Store reconciles one run. Its methods are safe for concurrent use.
	// Subscribers must not call Dispatch, Replay or Cancel synchronously.
	Store struct {
		opts Options
		pipe *pipeline.Pipeline

		// proc serializes event processing.
		proc sync.Mutex
		// notify is held while observers run and while the run becomes
		// terminal, so no observer runs once the status changed.
		notify sync.Mutex
		// saving tracks archive saves still in flight.
		saving sync.WaitGroup

		mu        sync.Mutex
		status    Status
		err       error
		st        state.AccumulatedState
		input     Input
		session   *transport.Session
		cancel    context.CancelFunc
		done      chan struct{}
		watchers  map[int]chan state.AccumulatedState
		nextWatch int
	}
)

// New returns an idle store.
func New(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	if opts.Decoder == nil {
		d, err := events.NewDecoder()
		if err != nil {
			return nil, err
		}
		opts.Decoder = d
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}
	if opts.Transport.Metrics == nil {
		opts.Transport.Metrics = opts.Metrics
	}
	if opts.Transport.Tracer == nil {
		opts.Transport.Tracer = opts.Tracer
	}
	pipe, err := pipeline.New(opts.Subscribers,
		pipeline.WithLogger(opts.Logger),
		pipeline.WithMetrics(opts.Metrics))
	if err != nil {
		return nil, fmt.Errorf("build subscriber pipeline: %w", err)
	}
	return &Store{
		opts:     opts,
		pipe:     pipe,
		status:   StatusIdle,
		st:       state.New(),
		watchers: make(map[int]chan state.AccumulatedState),
	}, nil
}

// Start opens the event stream of the run described by in and returns
// without waiting for events. ctx bounds the whole run: cancelling it
// cancels the run. Start returns ErrAlreadyStarted if the store already ran.
func (s *Store) Start(ctx context.Context, in Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusIdle {
		return ErrAlreadyStarted
	}
	if in.ThreadID == "" {
		in.ThreadID = s.opts.NewID()
	}
	if in.RunID == "" {
		in.RunID = s.opts.NewID()
	}

	topts := s.opts.Transport
	topts.Header = mergeHeader(topts.Header, in.Header)
	if in.LastEventID != "" {
		topts.LastEventID = in.LastEventID
	}
	if topts.Method == http.MethodPost {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal run input: %w", err)
		}
		topts.Body = body
		topts.Header.Set("Content-Type", "application/json")
	}
	observe := topts.OnStateChange
	topts.OnStateChange = func(c transport.StateChange) {
		if c.State == transport.StateConnected {
			s.markRunning()
		}
		if observe != nil {
			observe(c)
		}
	}
	sess, err := transport.NewSession(topts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.status = StatusConnecting
	s.input = in
	s.session = sess
	s.cancel = cancel
	s.done = make(chan struct{})
	s.st = initialState(in)
	go s.run(runCtx, cancel, sess, s.done)
	return nil
}

// Replay folds evts through the subscriber pipeline and the reducer without
// a transport, as when hydrating an archived run. It returns the final state
// and the terminal error of the run. A recording without a terminal event
// ends the run with ErrStreamEnded.
func (s *Store) Replay(ctx context.Context, evts []events.Event) (state.AccumulatedState, error) {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return state.AccumulatedState{}, ErrAlreadyStarted
	}
	s.status = StatusRunning
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer close(done)

	for _, evt := range evts {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, StatusCancelled, &RunCancelledError{RunID: s.RunID(), Cause: context.Cause(ctx)})
			break
		}
		terminal, err := s.process(ctx, evt, nil)
		if terminal || errors.Is(err, ErrNotRunning) {
			break
		}
	}
	s.finish(ctx, StatusError, ErrStreamEnded)
	s.saving.Wait()
	return s.Snapshot(), s.Err()
}

// Dispatch processes evt as if it had been received on the stream. It
// returns ErrNotRunning unless the run is active, and the reducer error
// when the event was rejected, for example a *patch.SecurityError.
func (s *Store) Dispatch(ctx context.Context, evt events.Event) error {
	if evt == nil {
		return errors.New("store: nil event")
	}
	var raw []byte
	if s.opts.EventLog != nil {
		b, err := events.Encode(evt)
		if err != nil {
			return err
		}
		raw = b
	}
	_, err := s.process(ctx, evt, raw)
	return err
}

// Cancel ends the run: the connection is aborted, no reconnect is attempted
// and Wait returns a *RunCancelledError. Observer callbacks already running
// complete before Cancel returns and none is invoked afterwards. An event
// still in the interceptor chain is dropped. The archive save runs in the
// background; Wait returns once it is done.
func (s *Store) Cancel() error {
	s.mu.Lock()
	active := s.status.Active()
	cancel := s.cancel
	s.mu.Unlock()
	if !active {
		return ErrNotRunning
	}
	if !s.finish(context.Background(), StatusCancelled, &RunCancelledError{RunID: s.RunID()}) {
		return ErrNotRunning
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Reconnect drops the current connection and resumes from the last event
// id without waiting for the backoff delay.
func (s *Store) Reconnect() error {
	s.mu.Lock()
	active := s.status.Active()
	sess := s.session
	s.mu.Unlock()
	if !active || sess == nil {
		return ErrNotRunning
	}
	sess.Reconnect()
	return nil
}

// Wait blocks until the run reaches a terminal status and its archive save
// completed, or ctx is done. It returns nil for finished runs and the
// terminal error otherwise.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	saved := make(chan struct{})
	go func() {
		s.saving.Wait()
		close(saved)
	}()
	select {
	case <-saved:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() state.AccumulatedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

// Status returns the run status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the terminal error of the run, nil while the run is active or
// when it finished successfully.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RunID returns the id of the run, as announced by RUN_STARTED or given to
// Start.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, _ := s.runIDs()
	return runID
}

// ThreadID returns the id of the thread the run belongs to.
func (s *Store) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, threadID := s.runIDs()
	return threadID
}

// LastEventID returns the id of the last event received on the stream.
func (s *Store) LastEventID() string {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.LastEventID()
}

// Watch returns a channel receiving the state after each processed event,
// starting with the current state. Slow readers only see the latest state.
// The channel is closed when the run reaches a terminal status or when stop
// is called.
func (s *Store) Watch() (updates <-chan state.AccumulatedState, stop func()) {
	ch := make(chan state.AccumulatedState, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.st.Clone()
	if s.status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			close(c)
			delete(s.watchers, id)
		}
	}
}

func (s *Store) run(ctx context.Context, cancel context.CancelFunc, sess *transport.Session, done chan struct{}) {
	defer close(done)
	defer cancel()
	ctx, span := s.opts.Tracer.Start(ctx, "runview.store.run")
	defer span.End()

	err := sess.Run(ctx, s.handleFrame)
	switch {
	case err == nil:
		s.finish(ctx, StatusError, ErrStreamEnded)
	case errors.Is(err, context.Canceled), errors.Is(err, transport.ErrClosed):
		s.finish(context.WithoutCancel(ctx), StatusCancelled, &RunCancelledError{RunID: s.RunID(), Cause: context.Cause(ctx)})
	default:
		s.finish(context.WithoutCancel(ctx), StatusError, err)
	}
	if err := s.Err(); err != nil && s.Status() == StatusError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// handleFrame decodes and processes one frame. Undecodable payloads and
// unknown event types are dropped.
func (s *Store) handleFrame(ctx context.Context, f sse.Frame) error {
	if f.Data == "" {
		return nil
	}
	evt, err := s.opts.Decoder.Decode([]byte(f.Data))
	if err != nil {
		s.opts.Metrics.IncCounter(telemetry.MetricEventsIgnored, 1)
		if errors.Is(err, events.ErrUnknownEventType) {
			s.opts.Logger.Debug(ctx, "ignored unknown event", "event_id", f.ID, "err", err)
		} else {
			s.opts.Logger.Warn(ctx, "ignored undecodable event", "event_id", f.ID, "err", err)
		}
		return nil
	}
	terminal, err := s.process(ctx, evt, []byte(f.Data))
	if terminal || errors.Is(err, ErrNotRunning) {
		return transport.ErrStop
	}
	return nil
}

// process folds evt into the state and publishes the result. raw is the
// payload journaled to the event log, nil to skip journaling. terminal
// reports whether evt ended the run.
func (s *Store) process(ctx context.Context, evt events.Event, raw []byte) (terminal bool, err error) {
	s.proc.Lock()
	defer s.proc.Unlock()

	s.mu.Lock()
	if !s.status.Active() {
		s.mu.Unlock()
		return false, ErrNotRunning
	}
	if s.status == StatusConnecting {
		s.status = StatusRunning
	}
	cur := s.st
	runID, threadID := s.runIDs()
	s.mu.Unlock()

	s.opts.Metrics.IncCounter(telemetry.MetricEvents, 1, "type", string(evt.Type()))
	if raw != nil {
		s.journal(ctx, runID, threadID, evt, raw)
	}
	res, reduceErr := s.pipe.Process(ctx, cur, evt, reducer.Reduce)
	if reduceErr != nil {
		s.reject(ctx, evt, reduceErr)
	}

	s.notify.Lock()
	s.mu.Lock()
	if !s.status.Active() {
		s.mu.Unlock()
		s.notify.Unlock()
		return false, ErrNotRunning
	}
	s.st = res.State
	s.publish(res.State)
	s.mu.Unlock()
	s.pipe.Notify(ctx, evt, res, reduceErr)
	s.notify.Unlock()

	switch e := evt.(type) {
	case *events.RunFinished:
		s.finish(ctx, StatusFinished, nil)
		return true, reduceErr
	case *events.RunError:
		s.finish(ctx, StatusError, &RunFailedError{Message: e.Message, Code: e.Code})
		return true, reduceErr
	}
	return false, reduceErr
}

// journal appends evt to the event log. Failures are logged and do not
// affect the run.
func (s *Store) journal(ctx context.Context, runID, threadID string, evt events.Event, raw []byte) {
	if s.opts.EventLog == nil {
		return
	}
	if started, ok := evt.(*events.RunStarted); ok {
		if started.RunID != "" {
			runID = started.RunID
		}
		if started.ThreadID != "" {
			threadID = started.ThreadID
		}
	}
	e := &runlog.Event{
		RunID:     runID,
		ThreadID:  threadID,
		Type:      evt.Type(),
		Payload:   json.RawMessage(raw),
		Timestamp: s.opts.Now().UTC(),
	}
	if err := s.opts.EventLog.Append(ctx, e); err != nil {
		s.opts.Logger.Warn(ctx, "journal event", "run_id", runID, "type", string(evt.Type()), "err", err)
	}
}

func (s *Store) reject(ctx context.Context, evt events.Event, err error) {
	var serr *patch.SecurityError
	if errors.As(err, &serr) {
		s.opts.Metrics.IncCounter(telemetry.MetricPatchRejected, 1, "type", string(evt.Type()))
		s.opts.Logger.Warn(ctx, "rejected patch with forbidden path segment",
			"type", string(evt.Type()), "path", serr.Path, "segment", serr.Segment)
		return
	}
	s.opts.Metrics.IncCounter(telemetry.MetricEventsIgnored, 1, "type", string(evt.Type()))
	s.opts.Logger.Warn(ctx, "ignored event", "type", string(evt.Type()), "err", err)
}

// publish hands st to watchers. The caller holds s.mu.
func (s *Store) publish(st state.AccumulatedState) {
	if len(s.watchers) == 0 {
		return
	}
	snap := st.Clone()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Store) markRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusConnecting {
		s.status = StatusRunning
	}
}

// finish moves the run to a terminal status and closes the session. It
// returns false if the run already was terminal. Cancelled runs are archived
// without notifying subscribers.
func (s *Store) finish(ctx context.Context, status Status, err error) bool {
	s.notify.Lock()
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		s.notify.Unlock()
		return false
	}
	s.status = status
	s.err = err
	st := s.st.Clone()
	runID, threadID := s.runIDs()
	sess := s.session
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()
	s.notify.Unlock()

	switch status {
	case StatusFinished:
		s.opts.Logger.Info(ctx, "run finished", "run_id", runID, "thread_id", threadID)
	case StatusCancelled:
		s.opts.Logger.Info(ctx, "run cancelled", "run_id", runID, "thread_id", threadID)
	default:
		s.opts.Logger.Error(ctx, "run failed", "run_id", runID, "thread_id", threadID, "err", err)
	}
	if status != StatusCancelled {
		if status == StatusError {
			s.pipe.NotifyRunFailed(ctx, err, st)
		}
		s.pipe.NotifyRunFinalized(ctx, st)
	}
	s.saving.Add(1)
	go func() {
		defer s.saving.Done()
		s.save(ctx, runID, threadID, status, err, st)
	}()
	if sess != nil {
		sess.Close()
	}
	return true
}

func (s *Store) save(ctx context.Context, runID, threadID string, status Status, runErr error, st state.AccumulatedState) {
	if s.opts.Archive == nil {
		return
	}
	if runID == "" {
		s.opts.Logger.Warn(ctx, "run without id not archived", "status", string(status))
		return
	}
	rec := &archive.Record{
		RunID:      runID,
		ThreadID:   threadID,
		Status:     string(status),
		State:      st,
		ArchivedAt: s.opts.Now().UTC(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.opts.Archive.Save(ctx, rec); err != nil {
		s.opts.Logger.Error(ctx, "archive run", "run_id", runID, "err", err)
	}
}

// runIDs returns the run and thread ids. The caller holds s.mu.
func (s *Store) runIDs() (runID, threadID string) {
	runID, threadID = s.st.Run.RunID, s.st.Run.ThreadID
	if runID == "" {
		runID = s.input.RunID
	}
	if threadID == "" {
		threadID = s.input.ThreadID
	}
	return runID, threadID
}

func initialState(in Input) state.AccumulatedState {
	st := state.New()
	st.AgentState = in.State
	st.Run.RunID = in.RunID
	st.Run.ThreadID = in.ThreadID
	return st
}

func mergeHeader(base, extra http.Header) http.Header {
	h := make(http.Header, len(base)+len(extra))
	for k, vs := range base {
		h[k] = append([]string(nil), vs...)
	}
	maps.Copy(h, extra)
	return h
}
