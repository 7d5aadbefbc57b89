// Package inmem provides a process-local implementation of archive.Archive.
//
// Records are lost when the process exits. Use it for development, tests and
// single-shot CLI sessions.
package inmem

import (
	"context"
	"sync"

	"goa.design/runview/runtime/archive"
)

// Archive keeps records in a map guarded by a RWMutex.
type Archive struct {
	mu   sync.RWMutex
	runs map[string]*archive.Record
}

var _ archive.Archive = (*Archive)(nil)

// New creates an empty in-memory archive.
func New() *Archive {
	return &Archive{runs: make(map[string]*archive.Record)}
}

// Save stores a copy of rec.
func (a *Archive) Save(ctx context.Context, rec *archive.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[rec.RunID] = copyRecord(rec)
	return nil
}

// Load returns a copy of the record for runID.
func (a *Archive) Load(ctx context.Context, runID string) (*archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.runs[runID]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return copyRecord(rec), nil
}

// Delete removes the record for runID.
func (a *Archive) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[runID]; !ok {
		return archive.ErrNotFound
	}
	delete(a.runs, runID)
	return nil
}

// List returns copies of the records of threadID, or all records when
// threadID is empty.
func (a *Archive) List(ctx context.Context, threadID string) ([]*archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	out := make([]*archive.Record, 0, len(a.runs))
	for _, rec := range a.runs {
		if threadID != "" && rec.ThreadID != threadID {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	a.mu.RUnlock()
	archive.SortByArchivedAt(out)
	return out, nil
}

// copyRecord isolates callers from the stored state.
func copyRecord(rec *archive.Record) *archive.Record {
	c := *rec
	c.State = rec.State.Clone()
	return &c
}
