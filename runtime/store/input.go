package store

import (
	"net/http"

	"goa.design/runview/runtime/events"
)

type (
	// Input describes the run to start. When the transport uses POST, Input
	// is sent as the JSON request body on every connection attempt.
	Input struct {
		// ThreadID and RunID are generated when empty.
		ThreadID string `json:"threadId"`
		RunID    string `json:"runId"`
		// State is the agent state the run starts from.
		State          any              `json:"state,omitempty"`
		Messages       []events.Message `json:"messages,omitempty"`
		Tools          []Tool           `json:"tools,omitempty"`
		Context        []ContextEntry   `json:"context,omitempty"`
		ForwardedProps any              `json:"forwardedProps,omitempty"`

		// Header is added to the transport headers for this run.
		Header http.Header `json:"-"`
		// LastEventID resumes a stream interrupted in a previous process.
		LastEventID string `json:"-"`
	}

	// Tool is a client-side tool the agent may call.
	Tool struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		// Parameters is the JSON schema of the tool arguments.
		Parameters any `json:"parameters,omitempty"`
	}

	// ContextEntry is a piece of context made available to the agent.
	ContextEntry struct {
		Description string `json:"description"`
		Value       string `json:"value"`
	}
)
