package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/patch"
	"goa.design/runview/runtime/reducer"
	"goa.design/runview/runtime/state"
)

type (
	// textOnly intercepts text events and records what it saw.
	textOnly struct {
		seen []string
	}

	// observer records lifecycle notifications.
	observer struct {
		newMessages  []string
		newToolCalls []string
		changes      int
		eventErrs    []error
		failed       error
		finalized    bool
	}

	panicky struct{}

	nothing struct{}
)

func (s *textOnly) OnTextMessageEvent(_ context.Context, p Params) (Mutation, error) {
	s.seen = append(s.seen, string(p.Event.Type()))
	return Mutation{}, nil
}

func (o *observer) OnNewMessage(_ context.Context, m state.Message, _ state.AccumulatedState) {
	o.newMessages = append(o.newMessages, m.ID)
}

func (o *observer) OnNewToolCall(_ context.Context, tc state.ToolCall, _ state.AccumulatedState) {
	o.newToolCalls = append(o.newToolCalls, tc.ID)
}

func (o *observer) OnStateChanged(context.Context, state.AccumulatedState) { o.changes++ }

func (o *observer) OnEventError(_ context.Context, _ events.Event, err error) {
	o.eventErrs = append(o.eventErrs, err)
}

func (o *observer) OnRunFailed(_ context.Context, err error, _ state.AccumulatedState) {
	o.failed = err
}

func (o *observer) OnRunFinalized(context.Context, state.AccumulatedState) { o.finalized = true }

func (panicky) OnEvent(context.Context, Params) (Mutation, error) { panic("boom") }

func process(t *testing.T, p *Pipeline, st state.AccumulatedState, evt events.Event) Result {
	t.Helper()
	res, err := p.Process(context.Background(), st, evt, reducer.Reduce)
	require.NoError(t, err)
	p.Notify(context.Background(), evt, res, nil)
	return res
}

func TestNewRejectsInvalidSubscribers(t *testing.T) {
	_, err := New([]Subscriber{nil})
	require.Error(t, err)
	_, err = New([]Subscriber{nothing{}})
	require.Error(t, err)
	p, err := New([]Subscriber{&textOnly{}, &observer{}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestMutationsAreCumulative(t *testing.T) {
	var sawState any
	first := EventFunc(func(_ context.Context, p Params) (Mutation, error) {
		return Mutation{State: map[string]any{"step": 1.0}, SetState: true}, nil
	})
	second := EventFunc(func(_ context.Context, p Params) (Mutation, error) {
		sawState = p.State
		msgs := append(p.Messages, state.Message{ID: "injected", Role: state.RoleSystem})
		return Mutation{Messages: msgs}, nil
	})
	p, err := New([]Subscriber{first, second})
	require.NoError(t, err)

	res := process(t, p, state.New(), &events.TextMessageStart{MessageID: "m1"})
	assert.Equal(t, map[string]any{"step": 1.0}, sawState)
	assert.False(t, res.Stopped)
	require.Len(t, res.State.Messages, 2)
	assert.Equal(t, "injected", res.State.Messages[0].ID)
	assert.Equal(t, "m1", res.State.Messages[1].ID, "reducer sees subscriber mutations")
	assert.Equal(t, map[string]any{"step": 1.0}, res.State.AgentState)
}

func TestStopPropagationSkipsReducerAndLaterSubscribers(t *testing.T) {
	called := false
	stopper := EventFunc(func(_ context.Context, p Params) (Mutation, error) {
		return Mutation{State: "intercepted", SetState: true, StopPropagation: true}, nil
	})
	later := EventFunc(func(context.Context, Params) (Mutation, error) {
		called = true
		return Mutation{}, nil
	})
	obs := &observer{}
	p, err := New([]Subscriber{stopper, later, obs})
	require.NoError(t, err)

	res := process(t, p, state.New(), &events.TextMessageStart{MessageID: "m1"})
	assert.True(t, res.Stopped)
	assert.False(t, called)
	assert.Empty(t, res.State.Messages, "reducer skipped")
	assert.Equal(t, "intercepted", res.State.AgentState)
	assert.Equal(t, 1, obs.changes, "observers still notified")
}

func TestSubscriberFailuresAreIsolated(t *testing.T) {
	failing := EventFunc(func(context.Context, Params) (Mutation, error) {
		return Mutation{State: "ignored", SetState: true}, errors.New("nope")
	})
	text := &textOnly{}
	p, err := New([]Subscriber{failing, panicky{}, text})
	require.NoError(t, err)

	res := process(t, p, state.New(), &events.TextMessageContent{MessageID: "m1", Delta: "hi"})
	assert.Nil(t, res.State.AgentState)
	assert.Equal(t, []string{"TEXT_MESSAGE_CONTENT"}, text.seen)
	require.Len(t, res.State.Messages, 1)
	assert.Equal(t, "hi", res.State.Messages[0].Content)
}

func TestFamilyRouting(t *testing.T) {
	text := &textOnly{}
	p, err := New([]Subscriber{text})
	require.NoError(t, err)
	st := process(t, p, state.New(), &events.ToolCallStart{ToolCallID: "t1", ToolCallName: "x"}).State
	st = process(t, p, st, &events.TextMessageStart{MessageID: "m1"}).State
	process(t, p, st, &events.TextMessageEnd{MessageID: "m1"})
	assert.Equal(t, []string{"TEXT_MESSAGE_START", "TEXT_MESSAGE_END"}, text.seen)
}

func TestLifecycleObservers(t *testing.T) {
	obs := &observer{}
	p, err := New([]Subscriber{obs})
	require.NoError(t, err)

	st := process(t, p, state.New(), &events.TextMessageStart{MessageID: "m1"}).State
	st = process(t, p, st, &events.TextMessageContent{MessageID: "m1", Delta: "x"}).State
	res := process(t, p, st, &events.ToolCallStart{ToolCallID: "t1", ToolCallName: "x", ParentMessageID: "m1"})
	assert.Equal(t, []string{"m1"}, obs.newMessages)
	assert.Equal(t, []string{"t1"}, obs.newToolCalls)
	assert.Equal(t, 3, obs.changes)

	p.NotifyRunFailed(context.Background(), errors.New("down"), res.State)
	p.NotifyRunFinalized(context.Background(), res.State)
	assert.EqualError(t, obs.failed, "down")
	assert.True(t, obs.finalized)
}

func TestProcessLeavesObserversToNotify(t *testing.T) {
	obs := &observer{}
	p, err := New([]Subscriber{obs})
	require.NoError(t, err)

	evt := &events.TextMessageStart{MessageID: "m1"}
	res, err := p.Process(context.Background(), state.New(), evt, reducer.Reduce)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Empty(t, obs.newMessages)
	assert.Zero(t, obs.changes)

	p.Notify(context.Background(), evt, res, nil)
	assert.Equal(t, []string{"m1"}, obs.newMessages)
	assert.Equal(t, 1, obs.changes)
}

func TestReducerErrorIsReturnedAndObserved(t *testing.T) {
	obs := &observer{}
	p, err := New([]Subscriber{obs})
	require.NoError(t, err)

	st := state.New()
	st.AgentState = map[string]any{"a": 1.0}
	evt := &events.StateDelta{Delta: []patch.Operation{
		{Op: patch.OpAdd, Path: "/constructor/x", Value: 1.0},
	}}
	res, err := p.Process(context.Background(), st, evt, reducer.Reduce)
	var se *patch.SecurityError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, obs.eventErrs)

	p.Notify(context.Background(), evt, res, err)
	require.Len(t, obs.eventErrs, 1)
	assert.Equal(t, map[string]any{"a": 1.0}, res.State.AgentState)
}

func TestSubscribersCannotCorruptEarlierView(t *testing.T) {
	var firstView []state.Message
	first := EventFunc(func(_ context.Context, p Params) (Mutation, error) {
		firstView = p.Messages
		return Mutation{}, nil
	})
	second := EventFunc(func(_ context.Context, p Params) (Mutation, error) {
		p.Messages[0].Content = "tampered"
		return Mutation{}, nil
	})
	p, err := New([]Subscriber{first, second})
	require.NoError(t, err)

	st := state.New()
	st.Messages = []state.Message{{ID: "m1", Role: state.RoleUser, Content: "original"}}
	res := process(t, p, st, &events.Custom{Name: "noop"})
	assert.Equal(t, "original", firstView[0].Content)
	assert.Equal(t, "original", res.State.Messages[0].Content)
	assert.Equal(t, "original", st.Messages[0].Content)
}
