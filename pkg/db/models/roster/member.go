package roster

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Member is one scope membership row. The roster, not the ledger, is the
// source of truth for the participant set: a member with zero ledger activity
// still appears on the leaderboard with all-zero metrics.
//
// ReplacingMergeTree(updated_at) keyed by (scope_type, scope_id,
// participant_id) makes upserts last-write-wins; reads use FINAL.
type Member struct {
	ScopeType        string    `ch:"scope_type"`
	ScopeID          string    `ch:"scope_id"`
	ParticipantID    string    `ch:"participant_id"`
	DisplayName      string    `ch:"display_name"`
	Level            uint32    `ch:"level"`
	AchievementCount uint32    `ch:"achievement_count"`
	Active           uint8     `ch:"active"`
	UpdatedAt        time.Time `ch:"updated_at"`
}

// InitMembers creates the roster_members table.
func InitMembers(ctx context.Context, db driver.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS roster_members (
			scope_type String CODEC(ZSTD(1)),
			scope_id String CODEC(ZSTD(1)),
			participant_id String CODEC(ZSTD(1)),
			display_name String CODEC(ZSTD(1)),
			level UInt32 CODEC(Delta, LZ4),
			achievement_count UInt32 CODEC(Delta, LZ4),
			active UInt8,
			updated_at DateTime64(6) CODEC(DoubleDelta, LZ4)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (scope_type, scope_id, participant_id)
	`
	return db.Exec(ctx, query)
}

// UpsertMembers writes membership rows; the engine keeps the latest per key.
func UpsertMembers(ctx context.Context, db driver.Conn, members []*Member) error {
	if len(members) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, `INSERT INTO roster_members (scope_type, scope_id, participant_id, display_name, level, achievement_count, active, updated_at) VALUES`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, m := range members {
		if err := batch.Append(
			m.ScopeType,
			m.ScopeID,
			m.ParticipantID,
			m.DisplayName,
			m.Level,
			m.AchievementCount,
			m.Active,
			m.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// SelectActiveMembers returns the active membership roster for a scope.
func SelectActiveMembers(ctx context.Context, db driver.Conn, scopeType, scopeID string) ([]Member, error) {
	query := `
		SELECT scope_type, scope_id, participant_id, display_name, level, achievement_count, active, updated_at
		FROM roster_members FINAL
		WHERE scope_type = ? AND scope_id = ? AND active = 1
		ORDER BY participant_id
	`
	rows, err := db.Query(ctx, query, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.ScanStruct(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMembers counts roster rows for a scope regardless of the active flag.
// Used to distinguish an unknown scope from an empty-but-known one.
func CountMembers(ctx context.Context, db driver.Conn, scopeType, scopeID string) (uint64, error) {
	var count uint64
	row := db.QueryRow(ctx, `SELECT count() FROM roster_members FINAL WHERE scope_type = ? AND scope_id = ?`, scopeType, scopeID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ScopeRef names one known scope.
type ScopeRef struct {
	ScopeType string `ch:"scope_type"`
	ScopeID   string `ch:"scope_id"`
}

// SelectScopes lists every distinct scope present in the roster.
func SelectScopes(ctx context.Context, db driver.Conn) ([]ScopeRef, error) {
	rows, err := db.Query(ctx, `SELECT DISTINCT scope_type, scope_id FROM roster_members ORDER BY scope_type, scope_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScopeRef
	for rows.Next() {
		var s ScopeRef
		if err := rows.ScanStruct(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
