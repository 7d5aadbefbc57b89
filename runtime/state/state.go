// Package state defines the accumulated view of an agent run produced by
// folding protocol events: messages, tool calls, activities, the agent's
// JSON state blob and run metadata.
package state

import "slices"

type (
	// Role identifies the author of a message.
	Role string

	// ToolCallStatus is the lifecycle status of a tool call. Transitions
	// only move forward: pending, streaming, then completed or error.
	ToolCallStatus string

	// Message is a normalized chat message.
	Message struct {
		ID          string     `json:"id"`
		Role        Role       `json:"role"`
		Content     string     `json:"content"`
		IsStreaming bool       `json:"isStreaming"`
		ToolCalls   []ToolCall `json:"toolCalls,omitempty"`
		// ToolCallID links a tool message to the call whose result it carries.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ActivityType is set on activity messages.
		ActivityType string `json:"activityType,omitempty"`
		Name         string `json:"name,omitempty"`
		Timestamp    int64  `json:"timestamp,omitempty"`
	}

	// ToolCall is a normalized tool invocation.
	ToolCall struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		// ParsedArguments holds the decoded arguments once the call ended
		// with valid JSON.
		ParsedArguments any            `json:"parsedArguments,omitempty"`
		Result          *string        `json:"result,omitempty"`
		Status          ToolCallStatus `json:"status"`
		ParentMessageID string         `json:"parentMessageId,omitempty"`
	}

	// Activity is a structured application payload patchable by id.
	Activity struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Content   any    `json:"content"`
		MessageID string `json:"messageId"`
		Timestamp int64  `json:"timestamp,omitempty"`
	}

	// Run describes the run being observed.
	Run struct {
		RunID     string `json:"runId"`
		ThreadID  string `json:"threadId"`
		IsRunning bool   `json:"isRunning"`
		// CurrentStep is the name of the step in progress, empty when none.
		CurrentStep string `json:"currentStep,omitempty"`
	}

	// AccumulatedState is the folded view of a run. Values handed to
	// observers are snapshots: JSON values in AgentState, activity Content
	// and ParsedArguments are shared and must be treated as read-only.
	AccumulatedState struct {
		Messages   []Message           `json:"messages"`
		ToolCalls  map[string]ToolCall `json:"toolCalls"`
		Activities map[string]Activity `json:"activities"`
		AgentState any                 `json:"agentState,omitempty"`
		Run        Run                 `json:"run"`

		// ended records messages that received TEXT_MESSAGE_END so late
		// deltas can be dropped.
		ended map[string]struct{}
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
	RoleActivity  Role = "activity"
)

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallStreaming ToolCallStatus = "streaming"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// New returns an empty state.
func New() AccumulatedState {
	return AccumulatedState{
		Messages:   []Message{},
		ToolCalls:  map[string]ToolCall{},
		Activities: map[string]Activity{},
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleDeveloper, RoleTool, RoleActivity:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallError
}

// Rank orders statuses along the lifecycle so callers can enforce
// monotonic transitions.
func (s ToolCallStatus) Rank() int {
	switch s {
	case ToolCallPending:
		return 0
	case ToolCallStreaming:
		return 1
	case ToolCallCompleted, ToolCallError:
		return 2
	}
	return -1
}

// Clone returns a copy of m whose ToolCalls slice is not shared.
func (m Message) Clone() Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return m
}

// Clone returns a copy of s that can be modified without affecting s.
// Collections are copied; JSON values are shared.
func (s AccumulatedState) Clone() AccumulatedState {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	out.ToolCalls = make(map[string]ToolCall, len(s.ToolCalls))
	for k, v := range s.ToolCalls {
		out.ToolCalls[k] = v
	}
	out.Activities = make(map[string]Activity, len(s.Activities))
	for k, v := range s.Activities {
		out.Activities[k] = v
	}
	if s.ended != nil {
		out.ended = make(map[string]struct{}, len(s.ended))
		for k := range s.ended {
			out.ended[k] = struct{}{}
		}
	}
	return out
}

// FindMessage returns the index of the message with the given id.
func (s AccumulatedState) FindMessage(id string) (int, bool) {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// Message returns the message with the given id.
func (s AccumulatedState) Message(id string) (Message, bool) {
	if i, ok := s.FindMessage(id); ok {
		return s.Messages[i], true
	}
	return Message{}, false
}

// MessageEnded reports whether the message with the given id was closed by
// an end event.
func (s AccumulatedState) MessageEnded(id string) bool {
	_, ok := s.ended[id]
	return ok
}

// MarkMessageEnded records that the message with the given id ended. s must
// be a state the caller owns, such as the result of Clone.
func (s *AccumulatedState) MarkMessageEnded(id string) {
	if s.ended == nil {
		s.ended = make(map[string]struct{})
	}
	s.ended[id] = struct{}{}
}

// ResetEnded forgets which messages ended, used when the message list is
// replaced wholesale.
func (s *AccumulatedState) ResetEnded() {
	s.ended = nil
}

// OpenMessages returns the ids of messages still streaming.
func (s AccumulatedState) OpenMessages() []string {
	var ids []string
	for _, m := range s.Messages {
		if m.IsStreaming {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
