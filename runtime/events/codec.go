package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// DecodeError reports a payload that does not have the shape its type
	// requires. The event is dropped and the stream continues.
	DecodeError struct {
		Type EventType
		Err  error
	}

	// Decoder turns frame payloads into events.
	Decoder struct {
		schemas map[EventType]*jsonschema.Schema
	}

	// DecoderOption configures a Decoder.
	DecoderOption func(*decoderOptions)

	decoderOptions struct {
		validate bool
	}
)

// ErrUnknownEventType is returned by Decode for payloads whose type is not
// part of the event set. Callers ignore such events.
var ErrUnknownEventType = errors.New("unknown event type")

var defaultDecoder = &Decoder{}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode event: %v", e.Err)
	}
	return fmt.Sprintf("decode %s event: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// WithSchemaValidation validates each payload against the JSON schema of
// its type before decoding it.
func WithSchemaValidation() DecoderOption {
	return func(o *decoderOptions) {
		o.validate = true
	}
}

// NewDecoder returns a Decoder configured with opts.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	var o decoderOptions
	for _, opt := range opts {
		opt(&o)
	}
	d := &Decoder{}
	if o.validate {
		schemas, err := compileSchemas()
		if err != nil {
			return nil, err
		}
		d.schemas = schemas
	}
	return d, nil
}

// Decode decodes data with a Decoder that does not validate schemas.
func Decode(data []byte) (Event, error) {
	return defaultDecoder.Decode(data)
}

// Decode decodes a single event payload. It returns an error wrapping
// ErrUnknownEventType for unknown types and a *DecodeError for malformed
// payloads.
func (d *Decoder) Decode(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if head.Type == "" {
		return nil, &DecodeError{Err: errors.New("missing type")}
	}
	evt := newEvent(head.Type)
	if evt == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEventType, head.Type)
	}
	if schema, ok := d.schemas[head.Type]; ok {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Type: head.Type, Err: err}
		}
		if err := schema.Validate(doc); err != nil {
			return nil, &DecodeError{Type: head.Type, Err: err}
		}
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, &DecodeError{Type: head.Type, Err: err}
	}
	if err := checkRequired(evt); err != nil {
		return nil, &DecodeError{Type: head.Type, Err: err}
	}
	return evt, nil
}

// Encode returns the wire JSON of evt including its "type" discriminator.
func Encode(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.Type(), err)
	}
	typ, err := json.Marshal(evt.Type())
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.Type(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func newEvent(t EventType) Event {
	switch t {
	case TypeRunStarted:
		return &RunStarted{}
	case TypeRunFinished:
		return &RunFinished{}
	case TypeRunError:
		return &RunError{}
	case TypeStepStarted:
		return &StepStarted{}
	case TypeStepFinished:
		return &StepFinished{}
	case TypeTextMessageStart:
		return &TextMessageStart{}
	case TypeTextMessageContent:
		return &TextMessageContent{}
	case TypeTextMessageEnd:
		return &TextMessageEnd{}
	case TypeTextMessageChunk:
		return &TextMessageChunk{}
	case TypeThinkingStart:
		return &ThinkingStart{}
	case TypeThinkingEnd:
		return &ThinkingEnd{}
	case TypeThinkingTextMessageStart:
		return &ThinkingTextMessageStart{}
	case TypeThinkingTextMessageContent:
		return &ThinkingTextMessageContent{}
	case TypeThinkingTextMessageEnd:
		return &ThinkingTextMessageEnd{}
	case TypeToolCallStart:
		return &ToolCallStart{}
	case TypeToolCallArgs:
		return &ToolCallArgs{}
	case TypeToolCallEnd:
		return &ToolCallEnd{}
	case TypeToolCallChunk:
		return &ToolCallChunk{}
	case TypeToolCallResult:
		return &ToolCallResult{}
	case TypeStateSnapshot:
		return &StateSnapshot{}
	case TypeStateDelta:
		return &StateDelta{}
	case TypeMessagesSnapshot:
		return &MessagesSnapshot{}
	case TypeActivitySnapshot:
		return &ActivitySnapshot{}
	case TypeActivityDelta:
		return &ActivityDelta{}
	case TypeRaw:
		return &Raw{}
	case TypeCustom:
		return &Custom{}
	}
	return nil
}

// checkRequired enforces the identifiers each event needs to be reduced.
func checkRequired(evt Event) error {
	missing := func(field string) error {
		return fmt.Errorf("missing %s", field)
	}
	switch e := evt.(type) {
	case *RunStarted:
		if e.RunID == "" {
			return missing("runId")
		}
	case *StepStarted:
		if e.StepName == "" {
			return missing("stepName")
		}
	case *StepFinished:
		if e.StepName == "" {
			return missing("stepName")
		}
	case *TextMessageStart:
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *TextMessageContent:
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *TextMessageEnd:
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *ToolCallStart:
		if e.ToolCallID == "" {
			return missing("toolCallId")
		}
	case *ToolCallArgs:
		if e.ToolCallID == "" {
			return missing("toolCallId")
		}
	case *ToolCallEnd:
		if e.ToolCallID == "" {
			return missing("toolCallId")
		}
	case *ToolCallResult:
		if e.ToolCallID == "" {
			return missing("toolCallId")
		}
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *MessagesSnapshot:
		for i, m := range e.Messages {
			if m.ID == "" {
				return missing(fmt.Sprintf("messages[%d].id", i))
			}
		}
	case *ActivitySnapshot:
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *ActivityDelta:
		if e.MessageID == "" {
			return missing("messageId")
		}
	case *Custom:
		if e.Name == "" {
			return missing("name")
		}
	}
	return nil
}
