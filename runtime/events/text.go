package events

import "goa.design/runview/runtime/state"

type (
	// TextMessageStart opens a streamed message.
	TextMessageStart struct {
		Base
		MessageID string     `json:"messageId"`
		Role      state.Role `json:"role,omitempty"`
	}

	// TextMessageContent appends Delta to a streamed message.
	TextMessageContent struct {
		Base
		MessageID string `json:"messageId"`
		Delta     string `json:"delta"`
	}

	// TextMessageEnd closes a streamed message.
	TextMessageEnd struct {
		Base
		MessageID string `json:"messageId"`
	}

	// TextMessageChunk is the self-describing form of a text delta. It is
	// ignored unless both MessageID and Delta are set.
	TextMessageChunk struct {
		Base
		MessageID string     `json:"messageId,omitempty"`
		Role      state.Role `json:"role,omitempty"`
		Delta     string     `json:"delta,omitempty"`
	}

	// ThinkingStart opens a reasoning section.
	ThinkingStart struct {
		Base
		Title string `json:"title,omitempty"`
	}

	// ThinkingEnd closes a reasoning section.
	ThinkingEnd struct {
		Base
	}

	// ThinkingTextMessageStart opens a reasoning message.
	ThinkingTextMessageStart struct {
		Base
	}

	// ThinkingTextMessageContent carries reasoning text.
	ThinkingTextMessageContent struct {
		Base
		Delta string `json:"delta"`
	}

	// ThinkingTextMessageEnd closes a reasoning message.
	ThinkingTextMessageEnd struct {
		Base
	}
)

func (*TextMessageStart) Type() EventType           { return TypeTextMessageStart }
func (*TextMessageContent) Type() EventType         { return TypeTextMessageContent }
func (*TextMessageEnd) Type() EventType             { return TypeTextMessageEnd }
func (*TextMessageChunk) Type() EventType           { return TypeTextMessageChunk }
func (*ThinkingStart) Type() EventType              { return TypeThinkingStart }
func (*ThinkingEnd) Type() EventType                { return TypeThinkingEnd }
func (*ThinkingTextMessageStart) Type() EventType   { return TypeThinkingTextMessageStart }
func (*ThinkingTextMessageContent) Type() EventType { return TypeThinkingTextMessageContent }
func (*ThinkingTextMessageEnd) Type() EventType     { return TypeThinkingTextMessageEnd }

func (e *TextMessageStart) Accept(v Visitor) error   { return v.VisitTextMessageStart(e) }
func (e *TextMessageContent) Accept(v Visitor) error { return v.VisitTextMessageContent(e) }
func (e *TextMessageEnd) Accept(v Visitor) error     { return v.VisitTextMessageEnd(e) }
func (e *TextMessageChunk) Accept(v Visitor) error   { return v.VisitTextMessageChunk(e) }
func (e *ThinkingStart) Accept(v Visitor) error      { return v.VisitThinkingStart(e) }
func (e *ThinkingEnd) Accept(v Visitor) error        { return v.VisitThinkingEnd(e) }
func (e *ThinkingTextMessageStart) Accept(v Visitor) error {
	return v.VisitThinkingTextMessageStart(e)
}
func (e *ThinkingTextMessageContent) Accept(v Visitor) error {
	return v.VisitThinkingTextMessageContent(e)
}
func (e *ThinkingTextMessageEnd) Accept(v Visitor) error {
	return v.VisitThinkingTextMessageEnd(e)
}
