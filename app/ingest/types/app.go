package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard/partition"
	"github.com/classhall/standings/pkg/redisx"
)

// User is an ingestion API user with a bcrypt password hash.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	// Standings database (ledger, roster, persisted snapshots)
	DB *db.DB

	// Redis Client (invalidation events); nil when Redis is disabled, in
	// which case drift signals are dropped and the worker relies on sweeps.
	RedisClient *redisx.Client

	// Publisher emits invalidation events after ledger drift.
	Publisher *partition.Publisher

	// Zap Logger
	Logger *zap.Logger

	// Server is the HTTP server instance serving the write API.
	Server *http.Server
}

// Start starts the application and blocks until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("Ingest service stopped")
}
