package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/classhall/standings/app/query/types"
	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/leaderboard/aggregate"
	"github.com/classhall/standings/pkg/leaderboard/cache"
	"github.com/classhall/standings/pkg/leaderboard/facade"
	"github.com/classhall/standings/pkg/leaderboard/partition"
	"github.com/classhall/standings/pkg/leaderboard/rank"
	"github.com/classhall/standings/pkg/logging"
	"github.com/classhall/standings/pkg/redisx"
	"github.com/classhall/standings/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	store, storeErr := db.New(ctx, logger)
	if storeErr != nil {
		logger.Fatal("Unable to initialize standings database", zap.Error(storeErr))
	}

	// Redis backs the page cache and the snapshot.published event stream.
	// Without it the cache degrades to pass-through and /ws is unavailable.
	var redisClient *redisx.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redisx.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - page cache degraded to pass-through",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - page cache runs in pass-through mode")
	}

	aggregator := aggregate.New(store, logger)
	ranker := rank.New(rank.OrderFromEnv())
	partitioner := partition.New(store, aggregator, ranker, logger)

	var backend cache.Backend
	if redisClient != nil {
		backend = redisClient
	}
	pageCache := cache.New(backend, partitioner, logger)

	// A commit from this process's lazy builds must evict stale pages and
	// announce itself, same as worker-driven regenerations do.
	publisher := partition.NewPublisher(redisClient)
	partitioner.OnCommit(func(ctx context.Context, snap *leaderboard.Snapshot) {
		pageCache.InvalidatePartition(ctx, snap.Key())
	})
	partitioner.OnCommit(publisher.SnapshotPublished)

	app := &types.App{
		DB:          store,
		Partitioner: partitioner,
		Cache:       pageCache,
		Facade:      facade.New(pageCache, partitioner, logger),
		RedisClient: redisClient,
		Logger:      logger,
	}

	return app
}
