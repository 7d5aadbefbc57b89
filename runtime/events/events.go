// Package events defines the closed set of protocol events folded into run
// state and the codec used to read them off the wire.
//
// Every event type implements Event and dispatches itself to a Visitor, so
// adding a type means adding a Visitor method: every consumer that handles
// events through a Visitor then fails to compile until it handles the new
// type.
package events

type (
	// EventType is the wire discriminator carried in the "type" field.
	EventType string

	// Family groups event types that subscribers usually handle together.
	Family string

	// Event is implemented by every protocol event.
	Event interface {
		// Type returns the wire discriminator.
		Type() EventType
		// Timestamp returns the producer timestamp in Unix milliseconds, or
		// zero when the producer did not set one.
		Timestamp() int64
		// Accept dispatches the event to the matching Visitor method.
		Accept(v Visitor) error

		base() *Base
	}

	// Base carries the fields shared by every event.
	Base struct {
		TimestampMs int64 `json:"timestamp,omitempty"`
		// RawEvent optionally carries the upstream event this one was
		// translated from.
		RawEvent any `json:"rawEvent,omitempty"`
	}

	// Visitor handles each event type. Implementations must handle every
	// type; there is intentionally no default.
	Visitor interface {
		VisitRunStarted(*RunStarted) error
		VisitRunFinished(*RunFinished) error
		VisitRunError(*RunError) error
		VisitStepStarted(*StepStarted) error
		VisitStepFinished(*StepFinished) error
		VisitTextMessageStart(*TextMessageStart) error
		VisitTextMessageContent(*TextMessageContent) error
		VisitTextMessageEnd(*TextMessageEnd) error
		VisitTextMessageChunk(*TextMessageChunk) error
		VisitThinkingStart(*ThinkingStart) error
		VisitThinkingEnd(*ThinkingEnd) error
		VisitThinkingTextMessageStart(*ThinkingTextMessageStart) error
		VisitThinkingTextMessageContent(*ThinkingTextMessageContent) error
		VisitThinkingTextMessageEnd(*ThinkingTextMessageEnd) error
		VisitToolCallStart(*ToolCallStart) error
		VisitToolCallArgs(*ToolCallArgs) error
		VisitToolCallEnd(*ToolCallEnd) error
		VisitToolCallChunk(*ToolCallChunk) error
		VisitToolCallResult(*ToolCallResult) error
		VisitStateSnapshot(*StateSnapshot) error
		VisitStateDelta(*StateDelta) error
		VisitMessagesSnapshot(*MessagesSnapshot) error
		VisitActivitySnapshot(*ActivitySnapshot) error
		VisitActivityDelta(*ActivityDelta) error
		VisitRaw(*Raw) error
		VisitCustom(*Custom) error
	}
)

const (
	TypeRunStarted                 EventType = "RUN_STARTED"
	TypeRunFinished                EventType = "RUN_FINISHED"
	TypeRunError                   EventType = "RUN_ERROR"
	TypeStepStarted                EventType = "STEP_STARTED"
	TypeStepFinished               EventType = "STEP_FINISHED"
	TypeTextMessageStart           EventType = "TEXT_MESSAGE_START"
	TypeTextMessageContent         EventType = "TEXT_MESSAGE_CONTENT"
	TypeTextMessageEnd             EventType = "TEXT_MESSAGE_END"
	TypeTextMessageChunk           EventType = "TEXT_MESSAGE_CHUNK"
	TypeThinkingStart              EventType = "THINKING_START"
	TypeThinkingEnd                EventType = "THINKING_END"
	TypeThinkingTextMessageStart   EventType = "THINKING_TEXT_MESSAGE_START"
	TypeThinkingTextMessageContent EventType = "THINKING_TEXT_MESSAGE_CONTENT"
	TypeThinkingTextMessageEnd     EventType = "THINKING_TEXT_MESSAGE_END"
	TypeToolCallStart              EventType = "TOOL_CALL_START"
	TypeToolCallArgs               EventType = "TOOL_CALL_ARGS"
	TypeToolCallEnd                EventType = "TOOL_CALL_END"
	TypeToolCallChunk              EventType = "TOOL_CALL_CHUNK"
	TypeToolCallResult             EventType = "TOOL_CALL_RESULT"
	TypeStateSnapshot              EventType = "STATE_SNAPSHOT"
	TypeStateDelta                 EventType = "STATE_DELTA"
	TypeMessagesSnapshot           EventType = "MESSAGES_SNAPSHOT"
	TypeActivitySnapshot           EventType = "ACTIVITY_SNAPSHOT"
	TypeActivityDelta              EventType = "ACTIVITY_DELTA"
	TypeRaw                        EventType = "RAW"
	TypeCustom                     EventType = "CUSTOM"
)

const (
	FamilyRun      Family = "run"
	FamilyText     Family = "text"
	FamilyThinking Family = "thinking"
	FamilyTool     Family = "tool"
	FamilyState    Family = "state"
	FamilyActivity Family = "activity"
	FamilyCustom   Family = "custom"
)

// Types lists every known event type.
var Types = []EventType{
	TypeRunStarted, TypeRunFinished, TypeRunError, TypeStepStarted, TypeStepFinished,
	TypeTextMessageStart, TypeTextMessageContent, TypeTextMessageEnd, TypeTextMessageChunk,
	TypeThinkingStart, TypeThinkingEnd, TypeThinkingTextMessageStart,
	TypeThinkingTextMessageContent, TypeThinkingTextMessageEnd,
	TypeToolCallStart, TypeToolCallArgs, TypeToolCallEnd, TypeToolCallChunk, TypeToolCallResult,
	TypeStateSnapshot, TypeStateDelta, TypeMessagesSnapshot,
	TypeActivitySnapshot, TypeActivityDelta,
	TypeRaw, TypeCustom,
}

// Timestamp implements Event.
func (b *Base) Timestamp() int64 { return b.TimestampMs }

func (b *Base) base() *Base { return b }

// Family returns the family t belongs to, or "" for unknown types.
func (t EventType) Family() Family {
	switch t {
	case TypeRunStarted, TypeRunFinished, TypeRunError, TypeStepStarted, TypeStepFinished:
		return FamilyRun
	case TypeTextMessageStart, TypeTextMessageContent, TypeTextMessageEnd, TypeTextMessageChunk:
		return FamilyText
	case TypeThinkingStart, TypeThinkingEnd, TypeThinkingTextMessageStart,
		TypeThinkingTextMessageContent, TypeThinkingTextMessageEnd:
		return FamilyThinking
	case TypeToolCallStart, TypeToolCallArgs, TypeToolCallEnd, TypeToolCallChunk, TypeToolCallResult:
		return FamilyTool
	case TypeStateSnapshot, TypeStateDelta, TypeMessagesSnapshot:
		return FamilyState
	case TypeActivitySnapshot, TypeActivityDelta:
		return FamilyActivity
	case TypeRaw, TypeCustom:
		return FamilyCustom
	}
	return ""
}

// Known reports whether t is part of the event set.
func (t EventType) Known() bool {
	return t.Family() != ""
}

// Terminal reports whether t ends a run.
func (t EventType) Terminal() bool {
	return t == TypeRunFinished || t == TypeRunError
}
