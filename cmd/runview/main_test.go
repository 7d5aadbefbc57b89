package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runview/runtime/archive/inmem"
	"goa.design/runview/runtime/config"
	runloginmem "goa.design/runview/runtime/runlog/inmem"
)

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: http://file/events\nmethod: GET\n"), 0o600))
	t.Setenv("RUNVIEW_ENDPOINT", "http://env/events")

	cfg, err := loadConfig(path, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, "http://env/events", cfg.Endpoint)

	cfg, err = loadConfig(path, "http://flag/events", "POST", false)
	require.NoError(t, err)
	assert.Equal(t, "http://flag/events", cfg.Endpoint)
	assert.Equal(t, "POST", cfg.Method)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("RUNVIEW_ENDPOINT", "")
	_, err := loadConfig("", "", "", false)
	require.Error(t, err)
}

func TestLoadConfigReplayDoesNotNeedEndpoint(t *testing.T) {
	t.Setenv("RUNVIEW_ENDPOINT", "")
	t.Setenv("RUNVIEW_EVENT_LOG", "memory")
	cfg, err := loadConfig("", "", "", true)
	require.NoError(t, err)
	assert.Equal(t, config.EventLogMemory, cfg.EventLog.Backend)
}

func TestOpenEventLog(t *testing.T) {
	ctx := context.Background()
	s, closeFn, err := openEventLog(ctx, config.EventLog{Backend: config.EventLogMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &runloginmem.Store{}, s)

	s, closeFn, err = openEventLog(ctx, config.EventLog{Backend: config.EventLogNone})
	require.NoError(t, err)
	defer closeFn()
	assert.Nil(t, s)
}

func TestReplayRequiresEventLog(t *testing.T) {
	cfg := config.Default()
	require.ErrorContains(t, replay(context.Background(), cfg, "r1"), "requires an event log")

	cfg.EventLog.Backend = config.EventLogMemory
	require.ErrorContains(t, replay(context.Background(), cfg, "r1"), "no events journaled")
}

func TestOpenArchive(t *testing.T) {
	ctx := context.Background()
	a, closeFn, err := openArchive(ctx, config.Archive{Backend: config.ArchiveMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &inmem.Archive{}, a)

	a, closeFn, err = openArchive(ctx, config.Archive{Backend: config.ArchiveNone})
	require.NoError(t, err)
	defer closeFn()
	assert.Nil(t, a)
}
