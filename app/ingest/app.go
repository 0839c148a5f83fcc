package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/classhall/standings/app/ingest/types"
	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard/partition"
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

	var redisClient *redisx.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redisx.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - drift invalidation disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - drift invalidation disabled")
	}

	app := &types.App{
		DB:          store,
		RedisClient: redisClient,
		Publisher:   partition.NewPublisher(redisClient),
		Logger:      logger,
	}

	return app
}
