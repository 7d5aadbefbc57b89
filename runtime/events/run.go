package events

type (
	// RunStarted opens a run.
	RunStarted struct {
		Base
		ThreadID    string `json:"threadId"`
		RunID       string `json:"runId"`
		ParentRunID string `json:"parentRunId,omitempty"`
	}

	// RunFinished closes a run successfully.
	RunFinished struct {
		Base
		ThreadID string `json:"threadId"`
		RunID    string `json:"runId"`
		Result   any    `json:"result,omitempty"`
	}

	// RunError closes a run with a failure.
	RunError struct {
		Base
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	}

	// StepStarted marks the beginning of a named step.
	StepStarted struct {
		Base
		StepName string `json:"stepName"`
	}

	// StepFinished marks the end of a named step.
	StepFinished struct {
		Base
		StepName string `json:"stepName"`
	}
)

func (*RunStarted) Type() EventType   { return TypeRunStarted }
func (*RunFinished) Type() EventType  { return TypeRunFinished }
func (*RunError) Type() EventType     { return TypeRunError }
func (*StepStarted) Type() EventType  { return TypeStepStarted }
func (*StepFinished) Type() EventType { return TypeStepFinished }

func (e *RunStarted) Accept(v Visitor) error   { return v.VisitRunStarted(e) }
func (e *RunFinished) Accept(v Visitor) error  { return v.VisitRunFinished(e) }
func (e *RunError) Accept(v Visitor) error     { return v.VisitRunError(e) }
func (e *StepStarted) Accept(v Visitor) error  { return v.VisitStepStarted(e) }
func (e *StepFinished) Accept(v Visitor) error { return v.VisitStepFinished(e) }
