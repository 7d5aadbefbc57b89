package events

type (
	// Raw passes through an upstream event verbatim.
	Raw struct {
		Base
		Event  any    `json:"event"`
		Source string `json:"source,omitempty"`
	}

	// Custom carries an application-defined named value.
	Custom struct {
		Base
		Name  string `json:"name"`
		Value any    `json:"value,omitempty"`
	}
)

func (*Raw) Type() EventType    { return TypeRaw }
func (*Custom) Type() EventType { return TypeCustom }

func (e *Raw) Accept(v Visitor) error    { return v.VisitRaw(e) }
func (e *Custom) Accept(v Visitor) error { return v.VisitCustom(e) }
