package ledger

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// GradedWork is one append-only graded-work record. Completed marks work the
// participant actually finished; uncompleted rows still count toward the
// assigned total so completion rates reflect missing work.
type GradedWork struct {
	ParticipantID string    `ch:"participant_id"`
	ScopeID       string    `ch:"scope_id"`
	EarnedPoints  float64   `ch:"earned_points"`
	MaxPoints     float64   `ch:"max_points"`
	Completed     uint8     `ch:"completed"`
	GradedAt      time.Time `ch:"graded_at"`
}

// InitGradedWork creates the graded_work table.
func InitGradedWork(ctx context.Context, db driver.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS graded_work (
			participant_id String CODEC(ZSTD(1)),
			scope_id String CODEC(ZSTD(1)),
			earned_points Float64 CODEC(ZSTD(3)),
			max_points Float64 CODEC(ZSTD(3)),
			completed UInt8,
			graded_at DateTime64(6) CODEC(DoubleDelta, LZ4)
		) ENGINE = MergeTree
		ORDER BY (scope_id, participant_id, graded_at)
	`
	return db.Exec(ctx, query)
}

// InsertGradedWork appends graded-work records in one batch.
func InsertGradedWork(ctx context.Context, db driver.Conn, records []*GradedWork) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, `INSERT INTO graded_work (participant_id, scope_id, earned_points, max_points, completed, graded_at) VALUES`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, g := range records {
		if err := batch.Append(
			g.ParticipantID,
			g.ScopeID,
			g.EarnedPoints,
			g.MaxPoints,
			g.Completed,
			g.GradedAt,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// SelectGradedWork reads every graded-work record for a scope within the
// half-open window [start, end). A zero start means no lower bound.
func SelectGradedWork(ctx context.Context, db driver.Conn, scopeID string, start, end time.Time) ([]GradedWork, error) {
	query := `
		SELECT participant_id, scope_id, earned_points, max_points, completed, graded_at
		FROM graded_work
		WHERE scope_id = ? AND graded_at < ?
	`
	args := []interface{}{scopeID, end}
	if !start.IsZero() {
		query += ` AND graded_at >= ?`
		args = append(args, start)
	}
	query += ` ORDER BY graded_at`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GradedWork
	for rows.Next() {
		var g GradedWork
		if err := rows.ScanStruct(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
