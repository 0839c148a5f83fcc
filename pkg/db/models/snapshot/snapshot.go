package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/classhall/standings/pkg/leaderboard"
)

// Persisted snapshot storage: a header row per generation plus one entry row
// per ranked participant. Generations are immutable once written; retention
// pruning is the only delete path.

// Header is the snapshots table row.
type Header struct {
	SnapshotID        string    `ch:"snapshot_id"`
	ScopeType         string    `ch:"scope_type"`
	ScopeID           string    `ch:"scope_id"`
	Granularity       string    `ch:"granularity"`
	Generation        uint64    `ch:"generation"`
	WindowStart       time.Time `ch:"window_start"`
	WindowEnd         time.Time `ch:"window_end"`
	GeneratedAt       time.Time `ch:"generated_at"`
	TotalParticipants uint32    `ch:"total_participants"`
}

// Entry is the snapshot_entries table row. Position is the 0-based order in
// the ranked list; PreviousRank 0 means no prior appearance.
type Entry struct {
	ScopeType        string  `ch:"scope_type"`
	ScopeID          string  `ch:"scope_id"`
	Granularity      string  `ch:"granularity"`
	Generation       uint64  `ch:"generation"`
	Position         uint32  `ch:"position"`
	Rank             uint32  `ch:"rank"`
	ParticipantID    string  `ch:"participant_id"`
	DisplayName      string  `ch:"display_name"`
	TotalPoints      int64   `ch:"total_points"`
	AcademicScore    float64 `ch:"academic_score"`
	CompletionRate   float64 `ch:"completion_rate"`
	PreviousRank     uint32  `ch:"previous_rank"`
	Level            uint32  `ch:"level"`
	AchievementCount uint32  `ch:"achievement_count"`
}

// Init creates the snapshots and snapshot_entries tables.
func Init(ctx context.Context, db driver.Conn) error {
	headers := `
		CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id String CODEC(ZSTD(1)),
			scope_type String CODEC(ZSTD(1)),
			scope_id String CODEC(ZSTD(1)),
			granularity String CODEC(ZSTD(1)),
			generation UInt64 CODEC(DoubleDelta, LZ4),
			window_start DateTime64(6) CODEC(DoubleDelta, LZ4),
			window_end DateTime64(6) CODEC(DoubleDelta, LZ4),
			generated_at DateTime64(6) CODEC(DoubleDelta, LZ4),
			total_participants UInt32 CODEC(Delta, LZ4)
		) ENGINE = MergeTree
		ORDER BY (scope_type, scope_id, granularity, generation)
	`
	if err := db.Exec(ctx, headers); err != nil {
		return err
	}

	entries := `
		CREATE TABLE IF NOT EXISTS snapshot_entries (
			scope_type String CODEC(ZSTD(1)),
			scope_id String CODEC(ZSTD(1)),
			granularity String CODEC(ZSTD(1)),
			generation UInt64 CODEC(DoubleDelta, LZ4),
			position UInt32 CODEC(Delta, LZ4),
			rank UInt32 CODEC(Delta, LZ4),
			participant_id String CODEC(ZSTD(1)),
			display_name String CODEC(ZSTD(1)),
			total_points Int64 CODEC(Delta, ZSTD(3)),
			academic_score Float64 CODEC(ZSTD(3)),
			completion_rate Float64 CODEC(ZSTD(3)),
			previous_rank UInt32 CODEC(Delta, LZ4),
			level UInt32 CODEC(Delta, LZ4),
			achievement_count UInt32 CODEC(Delta, LZ4)
		) ENGINE = MergeTree
		ORDER BY (scope_type, scope_id, granularity, generation, position)
	`
	return db.Exec(ctx, entries)
}

// Insert persists one complete snapshot generation (header + entries).
func Insert(ctx context.Context, db driver.Conn, snap *leaderboard.Snapshot) error {
	batch, err := db.PrepareBatch(ctx, `INSERT INTO snapshots (snapshot_id, scope_type, scope_id, granularity, generation, window_start, window_end, generated_at, total_participants) VALUES`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	if err := batch.Append(
		snap.ID,
		string(snap.ScopeType),
		snap.ScopeID,
		string(snap.Granularity),
		snap.Generation,
		snap.WindowStart,
		snap.WindowEnd,
		snap.GeneratedAt,
		uint32(snap.TotalParticipants),
	); err != nil {
		return err
	}
	if err := batch.Send(); err != nil {
		return err
	}

	if len(snap.Entries) == 0 {
		return nil
	}

	entryBatch, err := db.PrepareBatch(ctx, `INSERT INTO snapshot_entries (scope_type, scope_id, granularity, generation, position, rank, participant_id, display_name, total_points, academic_score, completion_rate, previous_rank, level, achievement_count) VALUES`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(entryBatch)

	for i, e := range snap.Entries {
		var prev uint32
		if e.PreviousRank != nil {
			prev = uint32(*e.PreviousRank)
		}
		if err := entryBatch.Append(
			string(snap.ScopeType),
			snap.ScopeID,
			string(snap.Granularity),
			snap.Generation,
			uint32(i),
			uint32(e.Rank),
			e.ParticipantID,
			e.DisplayName,
			e.TotalPoints,
			e.AcademicScorePercent,
			e.CompletionRate,
			prev,
			uint32(e.Level),
			uint32(e.AchievementCount),
		); err != nil {
			return err
		}
	}
	return entryBatch.Send()
}

// SelectLatest loads up to n newest generations for a partition key, newest
// first, fully hydrated with their ordered entries.
func SelectLatest(ctx context.Context, db driver.Conn, key leaderboard.PartitionKey, n int) ([]*leaderboard.Snapshot, error) {
	rows, err := db.Query(ctx, `
		SELECT snapshot_id, scope_type, scope_id, granularity, generation, window_start, window_end, generated_at, total_participants
		FROM snapshots
		WHERE scope_type = ? AND scope_id = ? AND granularity = ?
		ORDER BY generation DESC
		LIMIT ?
	`, string(key.ScopeType), key.ScopeID, string(key.Granularity), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var headers []Header
	for rows.Next() {
		var h Header
		if err := rows.ScanStruct(&h); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*leaderboard.Snapshot, 0, len(headers))
	for _, h := range headers {
		snap := &leaderboard.Snapshot{
			ID:                h.SnapshotID,
			ScopeType:         leaderboard.ScopeType(h.ScopeType),
			ScopeID:           h.ScopeID,
			Granularity:       leaderboard.Granularity(h.Granularity),
			WindowStart:       h.WindowStart,
			WindowEnd:         h.WindowEnd,
			Generation:        h.Generation,
			GeneratedAt:       h.GeneratedAt,
			TotalParticipants: int(h.TotalParticipants),
		}
		entries, err := selectEntries(ctx, db, key, h.Generation)
		if err != nil {
			return nil, err
		}
		snap.Entries = entries
		out = append(out, snap)
	}
	return out, nil
}

func selectEntries(ctx context.Context, db driver.Conn, key leaderboard.PartitionKey, generation uint64) ([]leaderboard.RankedEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT scope_type, scope_id, granularity, generation, position, rank, participant_id, display_name, total_points, academic_score, completion_rate, previous_rank, level, achievement_count
		FROM snapshot_entries
		WHERE scope_type = ? AND scope_id = ? AND granularity = ? AND generation = ?
		ORDER BY position
	`, string(key.ScopeType), key.ScopeID, string(key.Granularity), generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []leaderboard.RankedEntry{}
	for rows.Next() {
		var e Entry
		if err := rows.ScanStruct(&e); err != nil {
			return nil, err
		}
		re := leaderboard.RankedEntry{
			ParticipantID:        e.ParticipantID,
			DisplayName:          e.DisplayName,
			AcademicScorePercent: e.AcademicScore,
			TotalPoints:          e.TotalPoints,
			CompletionRate:       e.CompletionRate,
			Rank:                 int(e.Rank),
			Level:                int(e.Level),
			AchievementCount:     int(e.AchievementCount),
		}
		if e.PreviousRank > 0 {
			prev := int(e.PreviousRank)
			improvement := prev - int(e.Rank)
			re.PreviousRank = &prev
			re.Improvement = &improvement
		}
		entries = append(entries, re)
	}
	return entries, rows.Err()
}

// MaxGeneration returns the highest persisted generation for a partition key,
// 0 when none exists.
func MaxGeneration(ctx context.Context, db driver.Conn, key leaderboard.PartitionKey) (uint64, error) {
	var gen uint64
	row := db.QueryRow(ctx, `
		SELECT max(generation) FROM snapshots
		WHERE scope_type = ? AND scope_id = ? AND granularity = ?
	`, string(key.ScopeType), key.ScopeID, string(key.Granularity))
	if err := row.Scan(&gen); err != nil {
		return 0, err
	}
	return gen, nil
}

// Prune drops generations older than (newest - keep) for a partition key.
func Prune(ctx context.Context, db driver.Conn, key leaderboard.PartitionKey, keep int) error {
	maxGen, err := MaxGeneration(ctx, db, key)
	if err != nil {
		return err
	}
	if maxGen <= uint64(keep) {
		return nil
	}
	cutoff := maxGen - uint64(keep)

	for _, table := range []string{"snapshots", "snapshot_entries"} {
		query := fmt.Sprintf(`
			ALTER TABLE %s DELETE
			WHERE scope_type = ? AND scope_id = ? AND granularity = ? AND generation <= ?
		`, table)
		if err := db.Exec(ctx, query, string(key.ScopeType), key.ScopeID, string(key.Granularity), cutoff); err != nil {
			return err
		}
	}
	return nil
}
