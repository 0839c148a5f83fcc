package db

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db/clickhouse"
	"github.com/classhall/standings/pkg/db/models/ledger"
	"github.com/classhall/standings/pkg/db/models/roster"
	"github.com/classhall/standings/pkg/db/models/snapshot"
	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// DB is the ClickHouse-backed Store implementation.
type DB struct {
	Client clickhouse.Client
	Name   string
}

var _ Store = (*DB)(nil)

// New connects to ClickHouse and initializes the standings tables.
// The database name defaults to "standings" (STANDINGS_DB env).
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	dbName := utils.Env("STANDINGS_DB", "standings")

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", dbName)), dbName)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client, Name: dbName}
	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// InitializeDB creates all tables if they do not exist yet.
func (db *DB) InitializeDB(ctx context.Context) error {
	conn := db.Client.Db
	if err := ledger.InitPointAwards(ctx, conn); err != nil {
		return err
	}
	if err := ledger.InitGradedWork(ctx, conn); err != nil {
		return err
	}
	if err := roster.InitMembers(ctx, conn); err != nil {
		return err
	}
	return snapshot.Init(ctx, conn)
}

func (db *DB) Close() error {
	return db.Client.Close()
}

func (db *DB) DatabaseName() string {
	return db.Name
}

func (db *DB) Conn() driver.Conn {
	return db.Client.Db
}

// --- Ledger

func (db *DB) RecordPointAwards(ctx context.Context, awards []*ledger.PointAward) error {
	return ledger.InsertPointAwards(ctx, db.Client.Db, awards)
}

func (db *DB) RecordGradedWork(ctx context.Context, records []*ledger.GradedWork) error {
	return ledger.InsertGradedWork(ctx, db.Client.Db, records)
}

func (db *DB) PointAwardsInWindow(ctx context.Context, scopeID string, start, end time.Time) ([]ledger.PointAward, error) {
	return ledger.SelectPointAwards(ctx, db.Client.Db, scopeID, start, end)
}

func (db *DB) GradedWorkInWindow(ctx context.Context, scopeID string, start, end time.Time) ([]ledger.GradedWork, error) {
	return ledger.SelectGradedWork(ctx, db.Client.Db, scopeID, start, end)
}

// --- Roster

func (db *DB) UpsertMembers(ctx context.Context, members []*roster.Member) error {
	return roster.UpsertMembers(ctx, db.Client.Db, members)
}

func (db *DB) ActiveMembers(ctx context.Context, scopeType, scopeID string) ([]roster.Member, error) {
	return roster.SelectActiveMembers(ctx, db.Client.Db, scopeType, scopeID)
}

func (db *DB) ScopeExists(ctx context.Context, scopeType, scopeID string) (bool, error) {
	count, err := roster.CountMembers(ctx, db.Client.Db, scopeType, scopeID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) ListScopes(ctx context.Context) ([]roster.ScopeRef, error) {
	return roster.SelectScopes(ctx, db.Client.Db)
}

// --- Snapshots

func (db *DB) InsertSnapshot(ctx context.Context, snap *leaderboard.Snapshot) error {
	return snapshot.Insert(ctx, db.Client.Db, snap)
}

func (db *DB) LatestSnapshots(ctx context.Context, key leaderboard.PartitionKey, n int) ([]*leaderboard.Snapshot, error) {
	return snapshot.SelectLatest(ctx, db.Client.Db, key, n)
}

func (db *DB) MaxGeneration(ctx context.Context, key leaderboard.PartitionKey) (uint64, error) {
	return snapshot.MaxGeneration(ctx, db.Client.Db, key)
}

func (db *DB) PruneSnapshots(ctx context.Context, key leaderboard.PartitionKey, keep int) error {
	return snapshot.Prune(ctx, db.Client.Db, key, keep)
}
