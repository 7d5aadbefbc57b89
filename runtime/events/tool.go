package events

import "goa.design/runview/runtime/state"

type (
	// ToolCallStart opens a tool call, optionally attached to a message.
	ToolCallStart struct {
		Base
		ToolCallID      string `json:"toolCallId"`
		ToolCallName    string `json:"toolCallName"`
		ParentMessageID string `json:"parentMessageId,omitempty"`
	}

	// ToolCallArgs appends Delta to the call's argument string.
	ToolCallArgs struct {
		Base
		ToolCallID string `json:"toolCallId"`
		Delta      string `json:"delta"`
	}

	// ToolCallEnd closes argument streaming for a call.
	ToolCallEnd struct {
		Base
		ToolCallID string `json:"toolCallId"`
	}

	// ToolCallChunk is the self-describing form of an argument delta. It is
	// ignored unless ToolCallID is set.
	ToolCallChunk struct {
		Base
		ToolCallID      string `json:"toolCallId,omitempty"`
		ToolCallName    string `json:"toolCallName,omitempty"`
		ParentMessageID string `json:"parentMessageId,omitempty"`
		Delta           string `json:"delta,omitempty"`
	}

	// ToolCallResult carries the output of a call and the id of the tool
	// message that transcribes it.
	ToolCallResult struct {
		Base
		MessageID  string     `json:"messageId"`
		ToolCallID string     `json:"toolCallId"`
		Content    string     `json:"content"`
		Role       state.Role `json:"role,omitempty"`
	}
)

func (*ToolCallStart) Type() EventType  { return TypeToolCallStart }
func (*ToolCallArgs) Type() EventType   { return TypeToolCallArgs }
func (*ToolCallEnd) Type() EventType    { return TypeToolCallEnd }
func (*ToolCallChunk) Type() EventType  { return TypeToolCallChunk }
func (*ToolCallResult) Type() EventType { return TypeToolCallResult }

func (e *ToolCallStart) Accept(v Visitor) error  { return v.VisitToolCallStart(e) }
func (e *ToolCallArgs) Accept(v Visitor) error   { return v.VisitToolCallArgs(e) }
func (e *ToolCallEnd) Accept(v Visitor) error    { return v.VisitToolCallEnd(e) }
func (e *ToolCallChunk) Accept(v Visitor) error  { return v.VisitToolCallChunk(e) }
func (e *ToolCallResult) Accept(v Visitor) error { return v.VisitToolCallResult(e) }
