// Package pipeline runs the ordered subscriber chain around the event
// reducer.
//
// For every event the pipeline invokes interceptors in registration order.
// Each interceptor sees the cumulative effect of the mutations contributed
// before it, and the reducer sees the cumulative effect of all of them. An
// interceptor that sets StopPropagation ends the chain and the reducer is
// skipped for that event. Observers are notified separately through Notify
// so the caller decides whether the result is still worth publishing.
//
// Subscriber failures never interrupt processing: errors and panics are
// logged and the subscriber is treated as having contributed nothing.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/state"
	"goa.design/runview/runtime/telemetry"
)

type (
	// Pipeline is an immutable ordered list of subscribers. A Pipeline is
	// safe for concurrent use provided its subscribers are; the store
	// serializes event processing for a run.
	Pipeline struct {
		subs    []Subscriber
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// ReduceFunc folds an event into state.
	ReduceFunc func(st state.AccumulatedState, evt events.Event) (state.AccumulatedState, error)

	// Result is the outcome of processing one event.
	Result struct {
		// State is the state to publish.
		State state.AccumulatedState
		// Stopped reports whether a subscriber stopped propagation and the
		// reducer was skipped.
		Stopped bool
		// NewMessages lists messages that first appeared during processing.
		NewMessages []state.Message
		// NewToolCalls lists tool calls that first appeared during processing.
		NewToolCalls []state.ToolCall
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)
)

// WithLogger sets the logger used to report subscriber failures.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the recorder used to count subscriber failures.
func WithMetrics(m telemetry.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New returns a pipeline invoking subs in order. It returns an error if a
// subscriber is nil or implements none of the capability interfaces.
func New(subs []Subscriber, opts ...Option) (*Pipeline, error) {
	for i, s := range subs {
		if s == nil {
			return nil, fmt.Errorf("subscriber %d is nil", i)
		}
		if !capable(s) {
			return nil, fmt.Errorf("subscriber %d (%T) implements no subscriber interface", i, s)
		}
	}
	p := &Pipeline{
		subs:    slices.Clone(subs),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Len returns the number of subscribers.
func (p *Pipeline) Len() int {
	return len(p.subs)
}

// Process runs the interceptors for evt, then reduce unless propagation was
// stopped. st is not modified and no observer is invoked.
//
// A reducer error is returned along with a Result whose State carries the
// subscriber mutations but not the rejected event.
func (p *Pipeline) Process(ctx context.Context, st state.AccumulatedState, evt events.Event, reduce ReduceFunc) (Result, error) {
	cur := st.Clone()
	stopped := false

chain:
	for i, sub := range p.subs {
		for _, ic := range interceptors(sub, evt) {
			params := Params{
				Event:    evt,
				Messages: cloneMessages(cur.Messages),
				State:    cur.AgentState,
				Run:      cur.Run,
			}
			mut, ok := p.intercept(ctx, i, sub, ic, params)
			if !ok {
				continue
			}
			if mut.Messages != nil {
				cur.Messages = cloneMessages(mut.Messages)
			}
			if mut.SetState {
				cur.AgentState = mut.State
			}
			if mut.StopPropagation {
				stopped = true
				break chain
			}
		}
	}

	var reduceErr error
	if !stopped {
		next, err := reduce(cur, evt)
		if err != nil {
			reduceErr = err
		} else {
			cur = next
		}
	}

	res := Result{
		State:        cur,
		Stopped:      stopped,
		NewMessages:  newMessages(st, cur),
		NewToolCalls: newToolCalls(st, cur),
	}
	return res, reduceErr
}

// NotifyRunFailed notifies RunFailedObserver subscribers.
func (p *Pipeline) NotifyRunFailed(ctx context.Context, err error, st state.AccumulatedState) {
	for i, sub := range p.subs {
		if o, ok := sub.(RunFailedObserver); ok {
			p.observe(ctx, i, sub, "OnRunFailed", func() { o.OnRunFailed(ctx, err, st.Clone()) })
		}
	}
}

// NotifyRunFinalized notifies RunFinalizedObserver subscribers.
func (p *Pipeline) NotifyRunFinalized(ctx context.Context, st state.AccumulatedState) {
	for i, sub := range p.subs {
		if o, ok := sub.(RunFinalizedObserver); ok {
			p.observe(ctx, i, sub, "OnRunFinalized", func() { o.OnRunFinalized(ctx, st.Clone()) })
		}
	}
}

// Notify invokes the observers for the outcome of Process. reduceErr is the
// error returned by Process, EventErrorObserver subscribers receive it.
func (p *Pipeline) Notify(ctx context.Context, evt events.Event, res Result, reduceErr error) {
	for i, sub := range p.subs {
		if reduceErr != nil {
			if o, ok := sub.(EventErrorObserver); ok {
				p.observe(ctx, i, sub, "OnEventError", func() { o.OnEventError(ctx, evt, reduceErr) })
			}
		}
		if o, ok := sub.(NewMessageObserver); ok {
			for _, m := range res.NewMessages {
				p.observe(ctx, i, sub, "OnNewMessage", func() { o.OnNewMessage(ctx, m.Clone(), res.State.Clone()) })
			}
		}
		if o, ok := sub.(NewToolCallObserver); ok {
			for _, tc := range res.NewToolCalls {
				p.observe(ctx, i, sub, "OnNewToolCall", func() { o.OnNewToolCall(ctx, tc, res.State.Clone()) })
			}
		}
		if o, ok := sub.(StateChangedObserver); ok {
			p.observe(ctx, i, sub, "OnStateChanged", func() { o.OnStateChanged(ctx, res.State.Clone()) })
		}
	}
}

// intercept invokes one interceptor, converting errors and panics into a
// logged failure.
func (p *Pipeline) intercept(ctx context.Context, idx int, sub Subscriber, ic interceptor, params Params) (mut Mutation, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, idx, sub, ic.name, params.Event, fmt.Errorf("panic: %v", r))
			mut, ok = Mutation{}, false
		}
	}()
	mut, err := ic.fn(ctx, params)
	if err != nil {
		p.fail(ctx, idx, sub, ic.name, params.Event, err)
		return Mutation{}, false
	}
	return mut, true
}

func (p *Pipeline) observe(ctx context.Context, idx int, sub Subscriber, method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, idx, sub, method, nil, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func (p *Pipeline) fail(ctx context.Context, idx int, sub Subscriber, method string, evt events.Event, err error) {
	p.metrics.IncCounter(telemetry.MetricSubscriberErrors, 1, "method", method)
	kv := []any{"subscriber", idx, "type", fmt.Sprintf("%T", sub), "method", method, "err", err}
	if evt != nil {
		kv = append(kv, "event", string(evt.Type()))
	}
	p.logger.Error(ctx, "subscriber failed", kv...)
}

func cloneMessages(msgs []state.Message) []state.Message {
	out := make([]state.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func newMessages(before, after state.AccumulatedState) []state.Message {
	known := make(map[string]struct{}, len(before.Messages))
	for _, m := range before.Messages {
		known[m.ID] = struct{}{}
	}
	var out []state.Message
	for _, m := range after.Messages {
		if _, ok := known[m.ID]; !ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// newToolCalls returns added tool calls ordered by id.
func newToolCalls(before, after state.AccumulatedState) []state.ToolCall {
	var out []state.ToolCall
	for id, tc := range after.ToolCalls {
		if _, ok := before.ToolCalls[id]; !ok {
			out = append(out, tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
