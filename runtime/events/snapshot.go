package events

import (
	"bytes"
	"encoding/json"

	"goa.design/runview/runtime/patch"
	"goa.design/runview/runtime/state"
)

type (
	// StateSnapshot replaces the agent state wholesale.
	StateSnapshot struct {
		Base
		Snapshot any `json:"snapshot"`
	}

	// StateDelta patches the agent state.
	StateDelta struct {
		Base
		Delta []patch.Operation `json:"delta"`
	}

	// MessagesSnapshot replaces the message list wholesale.
	MessagesSnapshot struct {
		Base
		Messages []Message `json:"messages"`
	}

	// Message is the wire form of a message inside a snapshot.
	Message struct {
		ID           string     `json:"id"`
		Role         state.Role `json:"role"`
		Content      Content    `json:"content"`
		Name         string     `json:"name,omitempty"`
		ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
		ToolCallID   string     `json:"toolCallId,omitempty"`
		ActivityType string     `json:"activityType,omitempty"`
	}

	// ToolCall is the wire form of a tool call inside a snapshot message.
	ToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type,omitempty"`
		Function FunctionCall `json:"function"`
	}

	// FunctionCall names the invoked function and its JSON arguments.
	FunctionCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// Content is message content: plain text or any other JSON value such
	// as a list of multimodal parts.
	Content struct {
		Text string
		// Raw holds non-string content verbatim.
		Raw json.RawMessage
	}
)

func (*StateSnapshot) Type() EventType    { return TypeStateSnapshot }
func (*StateDelta) Type() EventType       { return TypeStateDelta }
func (*MessagesSnapshot) Type() EventType { return TypeMessagesSnapshot }

func (e *StateSnapshot) Accept(v Visitor) error    { return v.VisitStateSnapshot(e) }
func (e *StateDelta) Accept(v Visitor) error       { return v.VisitStateDelta(e) }
func (e *MessagesSnapshot) Accept(v Visitor) error { return v.VisitMessagesSnapshot(e) }

// Text returns text content.
func Text(s string) Content { return Content{Text: s} }

// String returns the text, or the raw JSON for structured content.
func (c Content) String() string {
	if len(c.Raw) > 0 {
		return string(c.Raw)
	}
	return c.Text
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*c = Content{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	}
	*c = Content{Raw: bytes.Clone(trimmed)}
	return nil
}
