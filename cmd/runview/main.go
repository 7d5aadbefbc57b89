// Command runview tails the event stream of an agent run and logs the
// reconciled state as it changes.
//
// # Configuration
//
// Settings come from an optional YAML file (-config) overridden by RUNVIEW_*
// environment variables, see package goa.design/runview/runtime/config.
// Flags override both.
//
// # Replay
//
// When an event log is configured every received event is journaled. The
// -replay flag folds the journaled events of a run again without connecting
// to the agent and logs the resulting state.
//
// # Example
//
//	RUNVIEW_ENDPOINT=http://localhost:8000/agent runview -method POST -message "hello"
//	RUNVIEW_EVENT_LOG=mongo RUNVIEW_EVENT_LOG_MONGO_URI=mongodb://localhost:27017 runview -replay RUN_ID
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goa.design/clue/log"

	"goa.design/runview/runtime/config"
	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/pipeline"
	"goa.design/runview/runtime/runlog"
	"goa.design/runview/runtime/state"
	"goa.design/runview/runtime/store"
	"goa.design/runview/runtime/telemetry"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to a YAML configuration file")
		endpointF = flag.String("endpoint", "", "Event stream URL (overrides configuration)")
		methodF   = flag.String("method", "", "HTTP method, GET or POST (overrides configuration)")
		threadF   = flag.String("thread", "", "Thread ID (generated when empty)")
		runF      = flag.String("run", "", "Run ID (generated when empty)")
		messageF  = flag.String("message", "", "User message sent with POST requests")
		resumeF   = flag.String("last-event-id", "", "Resume the stream after this event id")
		replayF   = flag.String("replay", "", "Replay the journaled events of this run ID instead of connecting")
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := loadConfig(*configF, *endpointF, *methodF, *replayF != "")
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *replayF != "" {
		if err := replay(ctx, cfg, *replayF); err != nil {
			log.Fatalf(ctx, err, "replay failed")
		}
		return
	}

	in := store.Input{ThreadID: *threadF, RunID: *runF, LastEventID: *resumeF}
	if *messageF != "" {
		in.Messages = []events.Message{{ID: "user-1", Role: state.RoleUser, Content: events.Text(*messageF)}}
	}
	if err := run(ctx, cfg, in); err != nil {
		log.Fatalf(ctx, err, "run failed")
	}
}

// loadConfig merges the configuration file, the environment and the flags.
// Replaying only requires valid storage settings.
func loadConfig(path, endpoint, method string, replaying bool) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = config.Parse(data); err != nil {
			return config.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if method != "" {
		cfg.Method = method
	}
	if replaying {
		return cfg, cfg.ValidateStorage()
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, in store.Input) error {
	arch, closeArchive, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	defer closeArchive()
	journal, closeJournal, err := openEventLog(ctx, cfg.EventLog)
	if err != nil {
		return err
	}
	defer closeJournal()

	dec, err := cfg.NewDecoder()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	s, err := store.New(store.Options{
		Transport:   cfg.TransportOptions(),
		Subscribers: []pipeline.Subscriber{&stateLogger{}},
		Decoder:     dec,
		Archive:     arch,
		EventLog:    journal,
		Logger:      telemetry.NewClueLogger(),
		Metrics:     telemetry.NewClueMetrics(),
		Tracer:      telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}
	if err := s.Start(ctx, in); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	log.Print(ctx, log.KV{K: "endpoint", V: cfg.Endpoint}, log.KV{K: "thread_id", V: s.ThreadID()}, log.KV{K: "run_id", V: s.RunID()})

	err = s.Wait(context.WithoutCancel(ctx))
	var cancelled *store.RunCancelledError
	if errors.As(err, &cancelled) {
		log.Info(ctx, log.KV{K: "msg", V: "run cancelled"}, log.KV{K: "last_event_id", V: s.LastEventID()})
		return nil
	}
	return err
}

// replay rebuilds the state of runID from the event log.
func replay(ctx context.Context, cfg config.Config, runID string) error {
	journal, closeJournal, err := openEventLog(ctx, cfg.EventLog)
	if err != nil {
		return err
	}
	defer closeJournal()
	if journal == nil {
		return errors.New("replay requires an event log, set RUNVIEW_EVENT_LOG")
	}
	dec, err := cfg.NewDecoder()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	evts, err := runlog.Load(ctx, journal, runID, dec, runlog.DefaultPageSize)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		return fmt.Errorf("no events journaled for run %q", runID)
	}
	s, err := store.New(store.Options{
		Subscribers: []pipeline.Subscriber{&stateLogger{}},
		Decoder:     dec,
		Logger:      telemetry.NewClueLogger(),
		Metrics:     telemetry.NewClueMetrics(),
		Tracer:      telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}
	st, err := s.Replay(ctx, evts)
	log.Print(ctx,
		log.KV{K: "run_id", V: runID},
		log.KV{K: "events", V: len(evts)},
		log.KV{K: "status", V: string(s.Status())},
		log.KV{K: "messages", V: len(st.Messages)},
		log.KV{K: "tool_calls", V: len(st.ToolCalls)})
	return err
}
