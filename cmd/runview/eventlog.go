package main

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	runlogmongo "goa.design/runview/features/runlog/mongo"
	clientsmongo "goa.design/runview/features/runlog/mongo/clients/mongo"
	"goa.design/runview/runtime/config"
	"goa.design/runview/runtime/runlog"
	"goa.design/runview/runtime/runlog/inmem"
)

// openEventLog connects the configured event journal. The returned func
// releases its connections.
func openEventLog(ctx context.Context, cfg config.EventLog) (runlog.Store, func(), error) {
	switch cfg.Backend {
	case config.EventLogMemory:
		return inmem.New(), func() {}, nil
	case config.EventLogMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		disconnect := func() {
			if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
				log.Errorf(ctx, err, "disconnect mongodb")
			}
		}
		c, err := clientsmongo.New(clientsmongo.Options{
			Client:     client,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("create event log client: %w", err)
		}
		s, err := runlogmongo.NewStore(c)
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}
		return s, disconnect, nil
	default:
		return nil, func() {}, nil
	}
}
