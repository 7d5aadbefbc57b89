package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	mongoarchive "goa.design/runview/features/archive/mongo"
	pulsearchive "goa.design/runview/features/archive/pulse"
	"goa.design/runview/runtime/archive"
	"goa.design/runview/runtime/archive/inmem"
	"goa.design/runview/runtime/config"
)

// openArchive connects the configured archive backend. The returned func
// releases its connections.
func openArchive(ctx context.Context, cfg config.Archive) (archive.Archive, func(), error) {
	switch cfg.Backend {
	case config.ArchiveMemory:
		return inmem.New(), func() {}, nil
	case config.ArchivePulse:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		a, err := pulsearchive.Join(ctx, cfg.Redis.Map, rdb)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return a, func() {
			a.Close()
			if err := rdb.Close(); err != nil {
				log.Errorf(ctx, err, "close redis")
			}
		}, nil
	case config.ArchiveMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}
		a := mongoarchive.New(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := a.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, nil, err
		}
		return a, func() {
			if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
				log.Errorf(ctx, err, "disconnect mongodb")
			}
		}, nil
	default:
		return nil, func() {}, nil
	}
}
