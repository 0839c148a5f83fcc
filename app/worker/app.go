package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/leaderboard/aggregate"
	"github.com/classhall/standings/pkg/leaderboard/cache"
	"github.com/classhall/standings/pkg/leaderboard/partition"
	"github.com/classhall/standings/pkg/leaderboard/rank"
	"github.com/classhall/standings/pkg/logging"
	"github.com/classhall/standings/pkg/redisx"
	"github.com/classhall/standings/pkg/utils"
)

// App regenerates leaderboard snapshots in the background: periodic sweeps
// per granularity keep every known partition fresh, and invalidation events
// from the ingest service trigger prompt rebuilds between sweeps. Readers
// are never blocked: the query service keeps serving the last published
// generation while this process builds the next one.
type App struct {
	// Standings database (ledger, roster, persisted snapshots)
	DB *db.DB

	// Redis Client (invalidation events in, snapshot.published + page cache
	// eviction out); nil when Redis is disabled, leaving sweeps only.
	RedisClient *redisx.Client

	// Snapshot pipeline
	Partitioner *partition.Partitioner
	Cache       *cache.Cache

	// Cron schedules the per-granularity sweeps.
	Cron *cron.Cron

	// Pool bounds concurrent partition rebuilds.
	Pool pond.Pool

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Server is the HTTP server that serves the health probes.
	Server *http.Server
}

// Initialize initializes the App.
func Initialize(ctx context.Context) (*App, error) {
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
			logger.Warn("Failed to initialize Redis client - running on sweeps only",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - running on sweeps only")
	}

	aggregator := aggregate.New(store, logger)
	ranker := rank.New(rank.OrderFromEnv())
	partitioner := partition.New(store, aggregator, ranker, logger)

	var backend cache.Backend
	if redisClient != nil {
		backend = redisClient
	}
	pageCache := cache.New(backend, partitioner, logger)

	// Each committed generation evicts the partition's cached pages and
	// announces itself to websocket subscribers.
	publisher := partition.NewPublisher(redisClient)
	partitioner.OnCommit(func(ctx context.Context, snap *leaderboard.Snapshot) {
		pageCache.InvalidatePartition(ctx, snap.Key())
	})
	partitioner.OnCommit(publisher.SnapshotPublished)

	app := &App{
		DB:          store,
		RedisClient: redisClient,
		Partitioner: partitioner,
		Cache:       pageCache,
		Pool:        pond.NewPool(utils.EnvInt("REBUILD_WORKERS", 8), pond.WithQueueSize(utils.EnvInt("REBUILD_QUEUE", 256))),
		Logger:      logger,
	}

	if scheduleErr := app.SetupScheduler(ctx, cron.DefaultLogger); scheduleErr != nil {
		return nil, scheduleErr
	}

	return app, nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3003")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.Conn().Ping(r.Context()); err != nil {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()

	a.Cron.Start()
	a.Logger.Info("Sweep scheduler started")

	if a.RedisClient != nil {
		go a.consumeInvalidations(ctx)
	}

	<-ctx.Done()

	_ = a.Server.Close()
	a.Logger.Info("Shutting down worker")

	<-a.Cron.Stop().Done()
	a.Pool.StopAndWait()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("Worker stopped")
}
