package ledger

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// PointAward is one append-only point-award event. Corrections are written
// as new compensating entries (negative points); rows are never mutated.
//
// SourceEventID is the idempotency key: unique per logical award. The table
// uses ReplacingMergeTree on it so replayed writes collapse eventually, and
// the aggregator deduplicates at read time so correctness never depends on
// merge timing.
type PointAward struct {
	ParticipantID string    `ch:"participant_id"`
	ScopeID       string    `ch:"scope_id"`
	Points        int64     `ch:"points"` // signed; compensating entries go negative
	Category      string    `ch:"category"`
	SourceEventID string    `ch:"source_event_id"`
	AwardedAt     time.Time `ch:"awarded_at"`
}

// InitPointAwards creates the point_awards table.
func InitPointAwards(ctx context.Context, db driver.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS point_awards (
			participant_id String CODEC(ZSTD(1)),
			scope_id String CODEC(ZSTD(1)),
			points Int64 CODEC(Delta, ZSTD(3)),
			category String CODEC(ZSTD(1)),
			source_event_id String CODEC(ZSTD(1)),
			awarded_at DateTime64(6) CODEC(DoubleDelta, LZ4)
		) ENGINE = ReplacingMergeTree(awarded_at)
		ORDER BY (scope_id, source_event_id)
	`
	return db.Exec(ctx, query)
}

// InsertPointAwards appends point-award events in one batch.
func InsertPointAwards(ctx context.Context, db driver.Conn, awards []*PointAward) error {
	if len(awards) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, `INSERT INTO point_awards (participant_id, scope_id, points, category, source_event_id, awarded_at) VALUES`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, a := range awards {
		if err := batch.Append(
			a.ParticipantID,
			a.ScopeID,
			a.Points,
			a.Category,
			a.SourceEventID,
			a.AwardedAt,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// SelectPointAwards reads every point award for a scope within the half-open
// window [start, end). A zero start means no lower bound (ALL_TIME).
func SelectPointAwards(ctx context.Context, db driver.Conn, scopeID string, start, end time.Time) ([]PointAward, error) {
	query := `
		SELECT participant_id, scope_id, points, category, source_event_id, awarded_at
		FROM point_awards
		WHERE scope_id = ? AND awarded_at < ?
	`
	args := []interface{}{scopeID, end}
	if !start.IsZero() {
		query += ` AND awarded_at >= ?`
		args = append(args, start)
	}
	query += ` ORDER BY awarded_at`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PointAward
	for rows.Next() {
		var a PointAward
		if err := rows.ScanStruct(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
