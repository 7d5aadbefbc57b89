package events

import "goa.design/runview/runtime/patch"

type (
	// ActivitySnapshot upserts the activity identified by MessageID.
	ActivitySnapshot struct {
		Base
		MessageID    string `json:"messageId"`
		ActivityType string `json:"activityType"`
		Content      any    `json:"content"`
	}

	// ActivityDelta patches the content of an existing activity.
	ActivityDelta struct {
		Base
		MessageID    string            `json:"messageId"`
		ActivityType string            `json:"activityType,omitempty"`
		Patch        []patch.Operation `json:"patch"`
	}
)

func (*ActivitySnapshot) Type() EventType { return TypeActivitySnapshot }
func (*ActivityDelta) Type() EventType    { return TypeActivityDelta }

func (e *ActivitySnapshot) Accept(v Visitor) error { return v.VisitActivitySnapshot(e) }
func (e *ActivityDelta) Accept(v Visitor) error    { return v.VisitActivityDelta(e) }
