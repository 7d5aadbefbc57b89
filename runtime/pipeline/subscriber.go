package pipeline

import (
	"context"

	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/state"
)

type (
	// Subscriber is any value implementing at least one of the capability
	// interfaces below. Interceptors (EventSubscriber and the per-family
	// subscribers) run before the reducer and may contribute a Mutation;
	// observers (the lifecycle interfaces) are notified after the event was
	// folded into state.
	//
	// A subscriber implementing several interceptor interfaces is invoked
	// once per matching interface in this order: OnEvent, then the method of
	// the event's family.
	Subscriber any

	// Params describes the event being processed and the state as seen by
	// the current subscriber, including the mutations contributed by
	// subscribers invoked before it. Messages is a private copy; State is
	// shared and must not be modified in place.
	Params struct {
		Event    events.Event
		Messages []state.Message
		State    any
		Run      state.Run
	}

	// Mutation is the optional contribution of an interceptor. The zero value
	// changes nothing.
	Mutation struct {
		// Messages replaces the message list when non-nil.
		Messages []state.Message
		// State replaces the agent state when SetState is true.
		State    any
		SetState bool
		// StopPropagation skips the remaining subscribers and the reducer for
		// this event. Mutations contributed so far still apply.
		StopPropagation bool
	}

	// EventSubscriber intercepts every event.
	EventSubscriber interface {
		OnEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// RunSubscriber intercepts run and step events.
	RunSubscriber interface {
		OnRunEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// TextMessageSubscriber intercepts text message events.
	TextMessageSubscriber interface {
		OnTextMessageEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// ThinkingSubscriber intercepts reasoning events.
	ThinkingSubscriber interface {
		OnThinkingEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// ToolCallSubscriber intercepts tool call events.
	ToolCallSubscriber interface {
		OnToolCallEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// StateSubscriber intercepts state and messages snapshot/delta events.
	StateSubscriber interface {
		OnStateEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// ActivitySubscriber intercepts activity events.
	ActivitySubscriber interface {
		OnActivityEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// CustomSubscriber intercepts raw and custom events.
	CustomSubscriber interface {
		OnCustomEvent(ctx context.Context, p Params) (Mutation, error)
	}

	// NewMessageObserver is notified of each message that first appeared
	// while processing an event.
	NewMessageObserver interface {
		OnNewMessage(ctx context.Context, msg state.Message, st state.AccumulatedState)
	}

	// NewToolCallObserver is notified of each tool call that first appeared
	// while processing an event.
	NewToolCallObserver interface {
		OnNewToolCall(ctx context.Context, tc state.ToolCall, st state.AccumulatedState)
	}

	// StateChangedObserver is notified with the resulting state after every
	// processed event.
	StateChangedObserver interface {
		OnStateChanged(ctx context.Context, st state.AccumulatedState)
	}

	// EventErrorObserver is notified when the reducer rejects an event, for
	// example a patch with a forbidden path segment.
	EventErrorObserver interface {
		OnEventError(ctx context.Context, evt events.Event, err error)
	}

	// RunFailedObserver is notified once when the run ends in error.
	RunFailedObserver interface {
		OnRunFailed(ctx context.Context, err error, st state.AccumulatedState)
	}

	// RunFinalizedObserver is notified once when the run reaches a terminal
	// state, after any RunFailedObserver notification.
	RunFinalizedObserver interface {
		OnRunFinalized(ctx context.Context, st state.AccumulatedState)
	}

	// EventFunc adapts a function to EventSubscriber.
	EventFunc func(ctx context.Context, p Params) (Mutation, error)

	// StateChangedFunc adapts a function to StateChangedObserver.
	StateChangedFunc func(ctx context.Context, st state.AccumulatedState)
)

// OnEvent implements EventSubscriber.
func (f EventFunc) OnEvent(ctx context.Context, p Params) (Mutation, error) {
	return f(ctx, p)
}

// OnStateChanged implements StateChangedObserver.
func (f StateChangedFunc) OnStateChanged(ctx context.Context, st state.AccumulatedState) {
	f(ctx, st)
}

// interceptors returns the interceptor methods of sub that apply to evt in
// invocation order.
func interceptors(sub Subscriber, evt events.Event) []interceptor {
	var out []interceptor
	if s, ok := sub.(EventSubscriber); ok {
		out = append(out, interceptor{"OnEvent", s.OnEvent})
	}
	switch evt.Type().Family() {
	case events.FamilyRun:
		if s, ok := sub.(RunSubscriber); ok {
			out = append(out, interceptor{"OnRunEvent", s.OnRunEvent})
		}
	case events.FamilyText:
		if s, ok := sub.(TextMessageSubscriber); ok {
			out = append(out, interceptor{"OnTextMessageEvent", s.OnTextMessageEvent})
		}
	case events.FamilyThinking:
		if s, ok := sub.(ThinkingSubscriber); ok {
			out = append(out, interceptor{"OnThinkingEvent", s.OnThinkingEvent})
		}
	case events.FamilyTool:
		if s, ok := sub.(ToolCallSubscriber); ok {
			out = append(out, interceptor{"OnToolCallEvent", s.OnToolCallEvent})
		}
	case events.FamilyState:
		if s, ok := sub.(StateSubscriber); ok {
			out = append(out, interceptor{"OnStateEvent", s.OnStateEvent})
		}
	case events.FamilyActivity:
		if s, ok := sub.(ActivitySubscriber); ok {
			out = append(out, interceptor{"OnActivityEvent", s.OnActivityEvent})
		}
	case events.FamilyCustom:
		if s, ok := sub.(CustomSubscriber); ok {
			out = append(out, interceptor{"OnCustomEvent", s.OnCustomEvent})
		}
	}
	return out
}

type interceptor struct {
	name string
	fn   func(ctx context.Context, p Params) (Mutation, error)
}

// capable reports whether sub implements at least one capability.
func capable(sub Subscriber) bool {
	switch sub.(type) {
	case EventSubscriber, RunSubscriber, TextMessageSubscriber, ThinkingSubscriber,
		ToolCallSubscriber, StateSubscriber, ActivitySubscriber, CustomSubscriber,
		NewMessageObserver, NewToolCallObserver, StateChangedObserver,
		EventErrorObserver, RunFailedObserver, RunFinalizedObserver:
		return true
	}
	return false
}
