package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4/json"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/redisx"
)

// Pub/Sub channel layout. Per-partition channels let websocket clients
// pattern-subscribe to exactly the leaderboards they render.
const (
	// PublishedPattern matches every snapshot.published channel.
	PublishedPattern = "standings:*:snapshot.published"

	// InvalidateChannel carries invalidation signals from the ingestion
	// pipeline to the regeneration worker.
	InvalidateChannel = "standings:invalidate"
)

// PublishedChannel returns the snapshot.published channel for one partition.
func PublishedChannel(key leaderboard.PartitionKey) string {
	return fmt.Sprintf("standings:%s:snapshot.published", key.String())
}

// PublishedEvent is the payload sent on a snapshot.published channel.
type PublishedEvent struct {
	ScopeType         string    `json:"scopeType"`
	ScopeID           string    `json:"scopeId"`
	Granularity       string    `json:"granularity"`
	Generation        uint64    `json:"generation"`
	TotalParticipants int       `json:"totalParticipants"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// InvalidateEvent is the payload sent on InvalidateChannel.
type InvalidateEvent struct {
	ScopeType   string `json:"scopeType"`
	ScopeID     string `json:"scopeId"`
	Granularity string `json:"granularity"`
}

// Key converts the event back into a partition key.
func (e InvalidateEvent) Key() (leaderboard.PartitionKey, error) {
	st, err := leaderboard.ParseScopeType(e.ScopeType)
	if err != nil {
		return leaderboard.PartitionKey{}, err
	}
	g, err := leaderboard.ParseGranularity(e.Granularity)
	if err != nil {
		return leaderboard.PartitionKey{}, err
	}
	return leaderboard.PartitionKey{ScopeType: st, ScopeID: e.ScopeID, Granularity: g}, nil
}

// Publisher emits partition lifecycle events over Redis. All publishes are
// best-effort: a flaky broker never fails a build commit.
type Publisher struct {
	rdb *redisx.Client
}

func NewPublisher(rdb *redisx.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// SnapshotPublished announces a committed generation. Wire this up as an
// OnCommit hook.
func (p *Publisher) SnapshotPublished(ctx context.Context, snap *leaderboard.Snapshot) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(PublishedEvent{
		ScopeType:         string(snap.ScopeType),
		ScopeID:           snap.ScopeID,
		Granularity:       string(snap.Granularity),
		Generation:        snap.Generation,
		TotalParticipants: snap.TotalParticipants,
		GeneratedAt:       snap.GeneratedAt,
	})
	if err != nil {
		return
	}
	p.rdb.Publish(ctx, PublishedChannel(snap.Key()), payload)
}

// PublishInvalidate signals that a partition should be regenerated promptly.
// Used by the ingestion service after sufficient ledger drift.
func (p *Publisher) PublishInvalidate(ctx context.Context, key leaderboard.PartitionKey) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(InvalidateEvent{
		ScopeType:   string(key.ScopeType),
		ScopeID:     key.ScopeID,
		Granularity: string(key.Granularity),
	})
	if err != nil {
		return
	}
	p.rdb.Publish(ctx, InvalidateChannel, payload)
}
