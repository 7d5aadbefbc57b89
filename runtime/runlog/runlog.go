// Package runlog provides an append-only journal of the events received by a
// run.
//
// The store appends the wire payload of every event it processes so a run
// can be rebuilt later by replaying its journal. Callers page through a run's
// events using opaque cursors.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/runview/runtime/events"
)

// DefaultPageSize is the page size used by Load when none is given.
const DefaultPageSize = 500

type (
	// Event is a single immutable journal entry.
	//
	// Store implementations assign the ID when persisting the event. IDs are
	// opaque, ordered within a run, and suitable for cursor-based pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID is the identifier of the run this event belongs to.
		RunID string
		// ThreadID is the thread of the run.
		ThreadID string
		// Type is the protocol event type.
		Type events.EventType
		// Payload is the JSON wire payload of the event.
		Payload json.RawMessage
		// Timestamp is the time the event was processed.
		Timestamp time.Time
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to use to fetch the next page.
		// It is empty when there are no further events.
		NextCursor string
	}

	// Store is an append-only event journal.
	//
	// Implementations must provide stable ordering within a run. Cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append stores the event and assigns its ID.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for the given run ID.
		// Cursor is a value returned by a previous call to List, or empty to
		// start from the beginning. Limit must be greater than zero.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)

// Validate reports whether e can be appended.
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return errors.New("event is required")
	case e.RunID == "":
		return errors.New("run id is required")
	case e.Type == "":
		return errors.New("event type is required")
	case e.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}

// Load reads the whole journal of runID and decodes it with dec. Entries
// whose type is no longer known are skipped; any other decoding failure is
// returned.
func Load(ctx context.Context, s Store, runID string, dec *events.Decoder, pageSize int) ([]events.Event, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if dec == nil {
		var err error
		if dec, err = events.NewDecoder(); err != nil {
			return nil, err
		}
	}
	var (
		out    []events.Event
		cursor string
	)
	for {
		page, err := s.List(ctx, runID, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list events of run %q: %w", runID, err)
		}
		for _, e := range page.Events {
			evt, err := dec.Decode(e.Payload)
			if err != nil {
				if errors.Is(err, events.ErrUnknownEventType) {
					continue
				}
				return nil, fmt.Errorf("decode event %s of run %q: %w", e.ID, runID, err)
			}
			out = append(out, evt)
		}
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
