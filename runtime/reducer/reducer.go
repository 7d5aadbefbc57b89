// Package reducer folds protocol events into accumulated run state.
//
// Reduce is pure: it never modifies the state it is given and returns a new
// top-level value for every event, sharing untouched JSON values with the
// input. Replaying the same event sequence from an empty state always yields
// the same result.
//
// The reducer is permissive: deltas for ended messages, argument deltas for
// completed tool calls and unknown identifiers are ignored rather than
// reported, so duplicate delivery across a reconnect is harmless. Only
// patch failures are returned as errors.
package reducer

import (
	"encoding/json"
	"fmt"

	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/patch"
	"goa.design/runview/runtime/state"
)

// reducer applies a single event to a state it owns.
type reducer struct {
	st  state.AccumulatedState
	now int64
}

// Reduce returns the state that results from applying evt to st. On error
// st is returned unchanged.
func Reduce(st state.AccumulatedState, evt events.Event) (state.AccumulatedState, error) {
	r := &reducer{st: st.Clone(), now: evt.Timestamp()}
	if r.st.ToolCalls == nil || r.st.Activities == nil || r.st.Messages == nil {
		empty := state.New()
		if r.st.Messages == nil {
			r.st.Messages = empty.Messages
		}
		if r.st.ToolCalls == nil {
			r.st.ToolCalls = empty.ToolCalls
		}
		if r.st.Activities == nil {
			r.st.Activities = empty.Activities
		}
	}
	if err := evt.Accept(r); err != nil {
		return st, err
	}
	return r.st, nil
}

// ReduceAll folds evts into st in order, stopping at the first error.
func ReduceAll(st state.AccumulatedState, evts ...events.Event) (state.AccumulatedState, error) {
	for _, evt := range evts {
		next, err := Reduce(st, evt)
		if err != nil {
			return st, fmt.Errorf("reduce %s: %w", evt.Type(), err)
		}
		st = next
	}
	return st, nil
}

func (r *reducer) VisitRunStarted(e *events.RunStarted) error {
	r.st.Run = state.Run{RunID: e.RunID, ThreadID: e.ThreadID, IsRunning: true}
	return nil
}

func (r *reducer) VisitRunFinished(*events.RunFinished) error {
	r.closeRun()
	return nil
}

func (r *reducer) VisitRunError(*events.RunError) error {
	r.closeRun()
	return nil
}

func (r *reducer) VisitStepStarted(e *events.StepStarted) error {
	r.st.Run.CurrentStep = e.StepName
	return nil
}

func (r *reducer) VisitStepFinished(e *events.StepFinished) error {
	if r.st.Run.CurrentStep == e.StepName {
		r.st.Run.CurrentStep = ""
	}
	return nil
}

func (r *reducer) VisitTextMessageStart(e *events.TextMessageStart) error {
	if r.st.MessageEnded(e.MessageID) {
		return nil
	}
	m := r.findOrCreateMessage(e.MessageID, e.Role)
	if e.Role != "" {
		m.Role = e.Role
	}
	m.IsStreaming = true
	return nil
}

func (r *reducer) VisitTextMessageContent(e *events.TextMessageContent) error {
	r.appendText(e.MessageID, "", e.Delta)
	return nil
}

func (r *reducer) VisitTextMessageChunk(e *events.TextMessageChunk) error {
	if e.MessageID == "" || e.Delta == "" {
		return nil
	}
	r.appendText(e.MessageID, e.Role, e.Delta)
	return nil
}

func (r *reducer) VisitTextMessageEnd(e *events.TextMessageEnd) error {
	i, ok := r.st.FindMessage(e.MessageID)
	if !ok {
		return nil
	}
	r.st.Messages[i].IsStreaming = false
	r.st.MarkMessageEnded(e.MessageID)
	return nil
}

func (r *reducer) VisitThinkingStart(*events.ThinkingStart) error { return nil }
func (r *reducer) VisitThinkingEnd(*events.ThinkingEnd) error     { return nil }
func (r *reducer) VisitThinkingTextMessageStart(*events.ThinkingTextMessageStart) error {
	return nil
}
func (r *reducer) VisitThinkingTextMessageContent(*events.ThinkingTextMessageContent) error {
	return nil
}
func (r *reducer) VisitThinkingTextMessageEnd(*events.ThinkingTextMessageEnd) error {
	return nil
}

func (r *reducer) VisitToolCallStart(e *events.ToolCallStart) error {
	tc, ok := r.st.ToolCalls[e.ToolCallID]
	if !ok {
		tc = state.ToolCall{ID: e.ToolCallID, Status: state.ToolCallPending}
	}
	if e.ToolCallName != "" {
		tc.Name = e.ToolCallName
	}
	if e.ParentMessageID != "" {
		tc.ParentMessageID = e.ParentMessageID
	}
	r.putToolCall(tc)
	return nil
}

func (r *reducer) VisitToolCallArgs(e *events.ToolCallArgs) error {
	r.appendArgs(e.ToolCallID, "", "", e.Delta)
	return nil
}

func (r *reducer) VisitToolCallChunk(e *events.ToolCallChunk) error {
	if e.ToolCallID == "" {
		return nil
	}
	r.appendArgs(e.ToolCallID, e.ToolCallName, e.ParentMessageID, e.Delta)
	return nil
}

func (r *reducer) VisitToolCallEnd(e *events.ToolCallEnd) error {
	tc, ok := r.st.ToolCalls[e.ToolCallID]
	if !ok || tc.Status.Terminal() {
		return nil
	}
	r.putToolCall(complete(tc))
	return nil
}

func (r *reducer) VisitToolCallResult(e *events.ToolCallResult) error {
	tc, ok := r.st.ToolCalls[e.ToolCallID]
	if !ok {
		tc = state.ToolCall{ID: e.ToolCallID}
	}
	content := e.Content
	tc.Result = &content
	if tc.Status != state.ToolCallError {
		tc = complete(tc)
	}
	r.putToolCall(tc)

	msg := state.Message{
		ID:         e.MessageID,
		Role:       state.RoleTool,
		Content:    e.Content,
		ToolCallID: e.ToolCallID,
		Timestamp:  r.now,
	}
	if i, ok := r.st.FindMessage(e.MessageID); ok {
		msg.Timestamp = r.st.Messages[i].Timestamp
		r.st.Messages[i] = msg
	} else {
		r.st.Messages = append(r.st.Messages, msg)
	}
	r.st.MarkMessageEnded(e.MessageID)
	return nil
}

func (r *reducer) VisitStateSnapshot(e *events.StateSnapshot) error {
	r.st.AgentState = e.Snapshot
	return nil
}

func (r *reducer) VisitStateDelta(e *events.StateDelta) error {
	next, err := patch.Apply(r.st.AgentState, e.Delta)
	if err != nil {
		return fmt.Errorf("apply state delta: %w", err)
	}
	r.st.AgentState = next
	return nil
}

func (r *reducer) VisitMessagesSnapshot(e *events.MessagesSnapshot) error {
	msgs := make([]state.Message, 0, len(e.Messages))
	for _, wm := range e.Messages {
		m := state.Message{
			ID:           wm.ID,
			Role:         wm.Role,
			Content:      wm.Content.String(),
			Name:         wm.Name,
			ToolCallID:   wm.ToolCallID,
			ActivityType: wm.ActivityType,
		}
		for _, wtc := range wm.ToolCalls {
			tc := state.ToolCall{
				ID:              wtc.ID,
				Name:            wtc.Function.Name,
				Arguments:       wtc.Function.Arguments,
				ParentMessageID: wm.ID,
			}
			if prev, ok := r.st.ToolCalls[wtc.ID]; ok {
				tc.Result = prev.Result
				if prev.Status == state.ToolCallError {
					tc.Status = state.ToolCallError
				}
			}
			if tc.Status == "" {
				tc = complete(tc)
			} else {
				tc.ParsedArguments = parseArgs(tc.Arguments)
			}
			r.st.ToolCalls[tc.ID] = tc
			m.ToolCalls = append(m.ToolCalls, tc)
		}
		msgs = append(msgs, m)
	}
	r.st.Messages = msgs
	r.st.ResetEnded()
	return nil
}

func (r *reducer) VisitActivitySnapshot(e *events.ActivitySnapshot) error {
	r.st.Activities[e.MessageID] = state.Activity{
		ID:        e.MessageID,
		Type:      e.ActivityType,
		Content:   e.Content,
		MessageID: e.MessageID,
		Timestamp: r.now,
	}
	r.putActivityMessage(e.MessageID, e.ActivityType, e.Content)
	return nil
}

func (r *reducer) VisitActivityDelta(e *events.ActivityDelta) error {
	act, ok := r.st.Activities[e.MessageID]
	if !ok {
		return nil
	}
	next, err := patch.Apply(act.Content, e.Patch)
	if err != nil {
		return fmt.Errorf("apply activity delta %q: %w", e.MessageID, err)
	}
	act.Content = next
	if e.ActivityType != "" {
		act.Type = e.ActivityType
	}
	r.st.Activities[e.MessageID] = act
	r.putActivityMessage(act.MessageID, act.Type, act.Content)
	return nil
}

func (r *reducer) VisitRaw(*events.Raw) error       { return nil }
func (r *reducer) VisitCustom(*events.Custom) error { return nil }

// closeRun marks the run stopped and force-closes anything still open.
func (r *reducer) closeRun() {
	r.st.Run.IsRunning = false
	r.st.Run.CurrentStep = ""
	for i := range r.st.Messages {
		m := &r.st.Messages[i]
		if m.IsStreaming {
			m.IsStreaming = false
			r.st.MarkMessageEnded(m.ID)
		}
	}
	for _, tc := range r.st.ToolCalls {
		if !tc.Status.Terminal() {
			r.putToolCall(complete(tc))
		}
	}
}

// findOrCreateMessage returns a pointer into the owned message list.
func (r *reducer) findOrCreateMessage(id string, role state.Role) *state.Message {
	if i, ok := r.st.FindMessage(id); ok {
		return &r.st.Messages[i]
	}
	if role == "" {
		role = state.RoleAssistant
	}
	r.st.Messages = append(r.st.Messages, state.Message{ID: id, Role: role, Timestamp: r.now})
	return &r.st.Messages[len(r.st.Messages)-1]
}

func (r *reducer) appendText(id string, role state.Role, delta string) {
	if r.st.MessageEnded(id) {
		return
	}
	m := r.findOrCreateMessage(id, role)
	m.Content += delta
	m.IsStreaming = true
}

func (r *reducer) appendArgs(id, name, parent, delta string) {
	tc, ok := r.st.ToolCalls[id]
	if !ok {
		tc = state.ToolCall{ID: id, Name: name, ParentMessageID: parent, Status: state.ToolCallPending}
	}
	if tc.Status.Terminal() {
		return
	}
	if tc.Name == "" {
		tc.Name = name
	}
	if tc.ParentMessageID == "" {
		tc.ParentMessageID = parent
	}
	tc.Arguments += delta
	tc.Status = state.ToolCallStreaming
	r.putToolCall(tc)
}

// putToolCall stores tc and keeps the copy held by its parent message in
// sync, attaching it on first sight.
func (r *reducer) putToolCall(tc state.ToolCall) {
	r.st.ToolCalls[tc.ID] = tc
	if tc.ParentMessageID == "" {
		return
	}
	i, ok := r.st.FindMessage(tc.ParentMessageID)
	if !ok {
		return
	}
	m := &r.st.Messages[i]
	for j := range m.ToolCalls {
		if m.ToolCalls[j].ID == tc.ID {
			m.ToolCalls[j] = tc
			return
		}
	}
	m.ToolCalls = append(m.ToolCalls, tc)
}

func (r *reducer) putActivityMessage(id, activityType string, content any) {
	msg := state.Message{
		ID:           id,
		Role:         state.RoleActivity,
		Content:      stringify(content),
		ActivityType: activityType,
		Timestamp:    r.now,
	}
	if i, ok := r.st.FindMessage(id); ok {
		msg.Timestamp = r.st.Messages[i].Timestamp
		r.st.Messages[i] = msg
		return
	}
	r.st.Messages = append(r.st.Messages, msg)
}

// complete marks tc completed and decodes its arguments when they are
// valid JSON.
func complete(tc state.ToolCall) state.ToolCall {
	tc.Status = state.ToolCallCompleted
	tc.ParsedArguments = parseArgs(tc.Arguments)
	return tc
}

func parseArgs(args string) any {
	if args == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return nil
	}
	return v
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
