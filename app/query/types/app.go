package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard/cache"
	"github.com/classhall/standings/pkg/leaderboard/facade"
	"github.com/classhall/standings/pkg/leaderboard/partition"
	"github.com/classhall/standings/pkg/redisx"
)

type App struct {
	// Standings database (ledger, roster, persisted snapshots)
	DB *db.DB

	// Snapshot pipeline
	Partitioner *partition.Partitioner
	Cache       *cache.Cache
	Facade      *facade.Service

	// Redis Client (page cache backend + snapshot.published events); nil when
	// Redis is disabled, in which case the cache runs in pass-through mode.
	RedisClient *redisx.Client

	// Zap Logger
	Logger *zap.Logger

	// Server is the HTTP server instance serving the read API.
	Server *http.Server
}

// Start starts the application and blocks until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Deterministic cache flush before the backends go away.
	a.Cache.Flush(shutdownCtx)

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("Query service stopped")
}
