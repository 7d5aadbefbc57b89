// Package inmem provides an in-memory implementation of runlog.Store.
//
// The in-memory journal is intended for tests and local development. It is
// not durable.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"goa.design/runview/runtime/runlog"
)

// Store implements runlog.Store in memory.
type Store struct {
	mu     sync.Mutex
	events map[string][]*runlog.Event
}

var _ runlog.Store = (*Store)(nil)

// New returns an empty journal.
func New() *Store {
	return &Store{events: make(map[string][]*runlog.Event)}
}

// Append implements runlog.Store. IDs are 1-based sequence numbers per run.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = strconv.Itoa(len(s.events[e.RunID]) + 1)
	ev := *e
	ev.Payload = slices.Clone(e.Payload)
	s.events[e.RunID] = append(s.events[e.RunID], &ev)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, fmt.Errorf("run id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, fmt.Errorf("limit must be > 0")
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	if start >= len(all) {
		return runlog.Page{}, nil
	}
	end := min(start+limit, len(all))
	page := runlog.Page{Events: make([]*runlog.Event, 0, end-start)}
	for _, e := range all[start:end] {
		c := *e
		page.Events = append(page.Events, &c)
	}
	if end < len(all) {
		page.NextCursor = page.Events[len(page.Events)-1].ID
	}
	return page, nil
}
