// Package pulse provides a replicated-map backed implementation of
// archive.Archive.
//
// Records are stored as JSON in a Pulse replicated map (rmap) backed by Redis,
// which makes finished runs visible to every process joined to the same map
// and durable across restarts of any single host.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"goa.design/runview/runtime/archive"
)

type (
	// Map is the subset of the replicated map used by the archive. It is
	// satisfied by *rmap.Map and must be safe for concurrent use.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Archive stores run records in a replicated map.
	Archive struct {
		m     Map
		close func()
	}
)

const runKeyPrefix = "runview:run:"

var _ archive.Archive = (*Archive)(nil)

// New returns an archive backed by m.
func New(m Map) *Archive {
	return &Archive{m: m}
}

// Join joins the replicated map called name on rdb and returns an archive
// backed by it. Call Close to leave the map.
func Join(ctx context.Context, name string, rdb *redis.Client) (*Archive, error) {
	m, err := rmap.Join(ctx, name, rdb)
	if err != nil {
		return nil, fmt.Errorf("join run archive map %q: %w", name, err)
	}
	return &Archive{m: m, close: m.Close}, nil
}

// Close leaves the replicated map when the archive was created with Join.
func (a *Archive) Close() {
	if a.close != nil {
		a.close()
	}
}

// Save stores or replaces rec.
func (a *Archive) Save(ctx context.Context, rec *archive.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %q: %w", rec.RunID, err)
	}
	if _, err := a.m.Set(ctx, runKey(rec.RunID), string(b)); err != nil {
		return fmt.Errorf("store run %q: %w", rec.RunID, err)
	}
	return nil
}

// Load retrieves the record of runID.
func (a *Archive) Load(ctx context.Context, runID string) (*archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok := a.m.Get(runKey(runID))
	if !ok {
		return nil, archive.ErrNotFound
	}
	var rec archive.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run %q: %w", runID, err)
	}
	return &rec, nil
}

// Delete removes the record of runID.
func (a *Archive) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := runKey(runID)
	if _, ok := a.m.Get(key); !ok {
		return archive.ErrNotFound
	}
	if _, err := a.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete run %q: %w", runID, err)
	}
	return nil
}

// List returns the records of threadID, or every record when threadID is
// empty. Keys that do not belong to the archive are ignored.
func (a *Archive) List(ctx context.Context, threadID string) ([]*archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*archive.Record, 0)
	for _, k := range a.m.Keys() {
		if !strings.HasPrefix(k, runKeyPrefix) {
			continue
		}
		rec, err := a.Load(ctx, strings.TrimPrefix(k, runKeyPrefix))
		if err != nil {
			if errors.Is(err, archive.ErrNotFound) {
				// Deleted by another node since Keys.
				continue
			}
			return nil, err
		}
		if threadID != "" && rec.ThreadID != threadID {
			continue
		}
		out = append(out, rec)
	}
	archive.SortByArchivedAt(out)
	return out, nil
}

func runKey(runID string) string {
	return runKeyPrefix + runID
}
