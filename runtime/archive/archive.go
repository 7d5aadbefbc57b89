// Package archive defines where finished runs go once the store has reached a
// terminal status.
//
// An Archive keeps the final AccumulatedState of a run together with how the
// run ended so hosts can list and hydrate past runs. Available
// implementations:
//
//   - runtime/archive/inmem: process-local archive for development and tests
//   - features/archive/pulse: Pulse replicated map backed by Redis
//   - features/archive/mongo: MongoDB collection
//
// Implementations return ErrNotFound for unknown run IDs and must be safe for
// concurrent use.
package archive

import (
	"context"
	"errors"
	"sort"
	"time"

	"goa.design/runview/runtime/state"
)

// Terminal statuses recorded in Record.Status.
const (
	StatusFinished  = "finished"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// ErrNotFound is returned when a run is not present in the archive.
var ErrNotFound = errors.New("run not found")

type (
	// Archive persists finished runs.
	Archive interface {
		// Save stores or replaces the record keyed by rec.RunID.
		Save(ctx context.Context, rec *Record) error
		// Load returns the record for runID or ErrNotFound.
		Load(ctx context.Context, runID string) (*Record, error)
		// Delete removes the record for runID or returns ErrNotFound.
		Delete(ctx context.Context, runID string) error
		// List returns the records of a thread ordered by ArchivedAt. An
		// empty threadID lists every record.
		List(ctx context.Context, threadID string) ([]*Record, error)
	}

	// Record is the archived form of a finished run.
	Record struct {
		RunID      string                 `json:"runId"`
		ThreadID   string                 `json:"threadId"`
		Status     string                 `json:"status"`
		Error      string                 `json:"error,omitempty"`
		State      state.AccumulatedState `json:"state"`
		ArchivedAt time.Time              `json:"archivedAt"`
	}
)

// Validate reports whether rec can be archived.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("archive record is nil")
	}
	if r.RunID == "" {
		return errors.New("archive record is missing a run id")
	}
	switch r.Status {
	case StatusFinished, StatusError, StatusCancelled:
		return nil
	default:
		return errors.New("archive record has a non-terminal status " + r.Status)
	}
}

// SortByArchivedAt orders records oldest first, breaking ties on RunID so
// listings are stable across backends.
func SortByArchivedAt(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ArchivedAt.Equal(recs[j].ArchivedAt) {
			return recs[i].RunID < recs[j].RunID
		}
		return recs[i].ArchivedAt.Before(recs[j].ArchivedAt)
	})
}
