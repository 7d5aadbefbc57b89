package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/runlog"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 3 {
		err := s.Append(ctx, &runlog.Event{
			RunID:     "run-1",
			ThreadID:  "thread-1",
			Type:      events.TypeRaw,
			Payload:   []byte(`{}`),
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, "run-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.Equal(t, "1", page1.Events[0].ID)
	require.Equal(t, "2", page1.Events[1].ID)
	require.Equal(t, "2", page1.NextCursor)

	page2, err := s.List(ctx, "run-1", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.Equal(t, "3", page2.Events[0].ID)
	require.Empty(t, page2.NextCursor)

	empty, err := s.List(ctx, "run-2", "", 2)
	require.NoError(t, err)
	require.Empty(t, empty.Events)
}

func TestStoreValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.Error(t, s.Append(ctx, nil))
	require.Error(t, s.Append(ctx, &runlog.Event{Type: events.TypeRaw, Timestamp: time.Now()}))
	require.Error(t, s.Append(ctx, &runlog.Event{RunID: "r", Timestamp: time.Now()}))
	require.Error(t, s.Append(ctx, &runlog.Event{RunID: "r", Type: events.TypeRaw}))

	_, err := s.List(ctx, "", "", 1)
	require.Error(t, err)
	_, err = s.List(ctx, "r", "", 0)
	require.Error(t, err)
	_, err = s.List(ctx, "r", "x", 1)
	require.Error(t, err)
}
