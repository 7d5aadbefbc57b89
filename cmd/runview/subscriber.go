package main

import (
	"context"

	"goa.design/clue/log"

	"goa.design/runview/runtime/state"
)

// stateLogger logs the reconciled state after every event.
type stateLogger struct{}

func (stateLogger) OnNewMessage(ctx context.Context, msg state.Message, _ state.AccumulatedState) {
	log.Info(ctx, log.KV{K: "msg", V: "new message"}, log.KV{K: "id", V: msg.ID}, log.KV{K: "role", V: string(msg.Role)})
}

func (stateLogger) OnNewToolCall(ctx context.Context, tc state.ToolCall, _ state.AccumulatedState) {
	log.Info(ctx, log.KV{K: "msg", V: "new tool call"}, log.KV{K: "id", V: tc.ID}, log.KV{K: "name", V: tc.Name})
}

func (stateLogger) OnStateChanged(ctx context.Context, st state.AccumulatedState) {
	fields := []log.Fielder{
		log.KV{K: "msg", V: "state changed"},
		log.KV{K: "messages", V: len(st.Messages)},
		log.KV{K: "tool_calls", V: len(st.ToolCalls)},
		log.KV{K: "activities", V: len(st.Activities)},
		log.KV{K: "running", V: st.Run.IsRunning},
	}
	if st.Run.CurrentStep != "" {
		fields = append(fields, log.KV{K: "step", V: st.Run.CurrentStep})
	}
	if n := len(st.Messages); n > 0 {
		last := st.Messages[n-1]
		fields = append(fields, log.KV{K: "last_message", V: last.ID}, log.KV{K: "streaming", V: last.IsStreaming})
	}
	log.Debug(ctx, fields...)
}

func (stateLogger) OnRunFailed(ctx context.Context, err error, _ state.AccumulatedState) {
	log.Error(ctx, err, log.KV{K: "msg", V: "run failed"})
}

func (stateLogger) OnRunFinalized(ctx context.Context, st state.AccumulatedState) {
	log.Info(ctx, log.KV{K: "msg", V: "run finalized"}, log.KV{K: "messages", V: len(st.Messages)}, log.KV{K: "tool_calls", V: len(st.ToolCalls)})
}
