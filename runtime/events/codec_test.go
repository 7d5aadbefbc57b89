package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runview/runtime/patch"
	"goa.design/runview/runtime/state"
)

func TestDecodeTextMessageStart(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"TEXT_MESSAGE_START","messageId":"m1","role":"assistant","timestamp":1700}`))
	require.NoError(t, err)
	start, ok := evt.(*TextMessageStart)
	require.True(t, ok)
	assert.Equal(t, "m1", start.MessageID)
	assert.Equal(t, state.RoleAssistant, start.Role)
	assert.Equal(t, int64(1700), start.Timestamp())
	assert.Equal(t, TypeTextMessageStart, start.Type())
}

func TestDecodeStateDelta(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"STATE_DELTA","delta":[{"op":"add","path":"/a","value":1},{"op":"remove","path":"/b"}]}`))
	require.NoError(t, err)
	delta := evt.(*StateDelta)
	require.Len(t, delta.Delta, 2)
	assert.Equal(t, patch.OpAdd, delta.Delta[0].Op)
	assert.InDelta(t, 1.0, delta.Delta[0].Value, 0)
	assert.Equal(t, patch.OpRemove, delta.Delta[1].Op)
}

func TestDecodeMessagesSnapshotContent(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"MESSAGES_SNAPSHOT","messages":[
		{"id":"u1","role":"user","content":"hi"},
		{"id":"u2","role":"user","content":[{"type":"text","text":"parts"}]},
		{"id":"a1","role":"assistant","toolCalls":[{"id":"t1","type":"function","function":{"name":"search","arguments":"{}"}}]}
	]}`))
	require.NoError(t, err)
	snap := evt.(*MessagesSnapshot)
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "hi", snap.Messages[0].Content.String())
	assert.JSONEq(t, `[{"type":"text","text":"parts"}]`, snap.Messages[1].Content.String())
	assert.Empty(t, snap.Messages[2].Content.String())
	assert.Equal(t, "search", snap.Messages[2].ToolCalls[0].Function.Name)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SOMETHING_NEW","x":1}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
	var de *DecodeError
	assert.False(t, errors.As(err, &de))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing type":      `{"messageId":"m1"}`,
		"wrong field type":  `{"type":"TEXT_MESSAGE_CONTENT","messageId":"m1","delta":5}`,
		"missing id":        `{"type":"TOOL_CALL_ARGS","delta":"x"}`,
		"missing result id": `{"type":"TOOL_CALL_RESULT","toolCallId":"t1","content":"x"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestSchemaValidation(t *testing.T) {
	d, err := NewDecoder(WithSchemaValidation())
	require.NoError(t, err)

	_, err = d.Decode([]byte(`{"type":"STATE_DELTA","delta":[{"op":"move","path":"/a","from":"/b"}]}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TypeStateDelta, de.Type)

	_, err = d.Decode([]byte(`{"type":"TEXT_MESSAGE_START","messageId":"m1","role":"robot"}`))
	require.ErrorAs(t, err, &de)

	evt, err := d.Decode([]byte(`{"type":"TOOL_CALL_START","toolCallId":"t1","toolCallName":"search"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeToolCallStart, evt.Type())
}

func TestSchemaCoversEveryType(t *testing.T) {
	schemas, err := compileSchemas()
	require.NoError(t, err)
	for _, typ := range Types {
		assert.Contains(t, schemas, typ)
	}
}

func TestEncodeIncludesType(t *testing.T) {
	data, err := Encode(&ToolCallArgs{ToolCallID: "t1", Delta: `{"q":`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"TOOL_CALL_ARGS","toolCallId":"t1","delta":"{\"q\":"}`, string(data))

	data, err = Encode(&ThinkingEnd{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"THINKING_END"}`, string(data))
}

func TestEncodeDecodeActivityDelta(t *testing.T) {
	in := &ActivityDelta{
		Base:      Base{TimestampMs: 42},
		MessageID: "act-1",
		Patch:     []patch.Operation{{Op: patch.OpReplace, Path: "/progress", Value: 0.5}},
	}
	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFamilies(t *testing.T) {
	for _, typ := range Types {
		assert.True(t, typ.Known(), typ)
	}
	assert.Equal(t, FamilyTool, TypeToolCallChunk.Family())
	assert.Equal(t, FamilyState, TypeMessagesSnapshot.Family())
	assert.False(t, EventType("NOPE").Known())
	assert.True(t, TypeRunError.Terminal())
	assert.False(t, TypeStepFinished.Terminal())
}
