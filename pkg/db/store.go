package db

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/classhall/standings/pkg/db/models/ledger"
	"github.com/classhall/standings/pkg/db/models/roster"
	"github.com/classhall/standings/pkg/leaderboard"
)

// Store exposes the database operations used by the aggregation pipeline and
// the HTTP services. The ledger side is append-only: point awards and graded
// work are never updated, corrections arrive as new compensating rows.
type Store interface {
	Close() error
	DatabaseName() string
	Conn() driver.Conn

	// --- Ledger (append-only)

	RecordPointAwards(ctx context.Context, awards []*ledger.PointAward) error
	RecordGradedWork(ctx context.Context, records []*ledger.GradedWork) error
	PointAwardsInWindow(ctx context.Context, scopeID string, start, end time.Time) ([]ledger.PointAward, error)
	GradedWorkInWindow(ctx context.Context, scopeID string, start, end time.Time) ([]ledger.GradedWork, error)

	// --- Roster (source of truth for the participant set)

	UpsertMembers(ctx context.Context, members []*roster.Member) error
	ActiveMembers(ctx context.Context, scopeType, scopeID string) ([]roster.Member, error)
	ScopeExists(ctx context.Context, scopeType, scopeID string) (bool, error)
	ListScopes(ctx context.Context) ([]roster.ScopeRef, error)

	// --- Snapshot generations (immutable once written)

	InsertSnapshot(ctx context.Context, snap *leaderboard.Snapshot) error
	LatestSnapshots(ctx context.Context, key leaderboard.PartitionKey, n int) ([]*leaderboard.Snapshot, error)
	MaxGeneration(ctx context.Context, key leaderboard.PartitionKey) (uint64, error)
	PruneSnapshots(ctx context.Context, key leaderboard.PartitionKey, keep int) error
}
