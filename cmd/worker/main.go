package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"gamestate/internal/config"
	"gamestate/internal/db"
	"gamestate/internal/engine"
	"gamestate/internal/ingest"
	"gamestate/internal/logging"
	"gamestate/internal/queue"
	"gamestate/internal/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config load failed: %v", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Errorf("db connection failed: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Errorf("schema setup failed: %v", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Errorf("invalid redis url: %v", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	eventStore := db.NewEventStore(pool)
	derivedStore := db.NewDerivedStore(pool)
	gameState := state.New(redisClient, cfg.StateNamespace)
	q := queue.NewRedisQueue(redisClient)

	ingestor := ingest.New(ctx, eventStore, q, cfg.UpdatesQueue)
	eng := engine.New(ctx, gameState, eventStore, derivedStore, cfg.StreakWindow, cfg.DetectOnKill)

	logger.Infof("starting ingestion on %s and %d effect workers on %s",
		cfg.EventsQueue, cfg.WorkerCount, cfg.UpdatesQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Consume(gctx, cfg.EventsQueue, ingestor.Handle)
	})
	g.Go(func() error {
		return q.ConsumePartitioned(gctx, cfg.UpdatesQueue, cfg.WorkerCount, cfg.JobBufferSize, engine.PartitionKey, eng.Handle)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Errorf("pipeline ended: %v", err)
		os.Exit(1)
	}
}
