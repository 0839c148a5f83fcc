package worker

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard/partition"
)

// consumeInvalidations rebuilds partitions as invalidation events arrive
// from the ingest service. The subscription is retried with backoff when
// Redis drops; sweeps cover anything missed in between.
func (a *App) consumeInvalidations(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.pumpInvalidations(ctx); err == nil || ctx.Err() != nil {
			return
		}

		a.Logger.Warn("Invalidation subscription lost, retrying",
			zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) pumpInvalidations(ctx context.Context) error {
	pubsub := a.RedisClient.Subscribe(ctx, partition.InvalidateChannel)
	defer func() { _ = pubsub.Close() }()

	a.Logger.Info("Listening for invalidation events", zap.String("channel", partition.InvalidateChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}

			var event partition.InvalidateEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				a.Logger.Warn("Dropping undecodable invalidation event", zap.Error(err))
				continue
			}

			key, err := event.Key()
			if err != nil {
				a.Logger.Warn("Dropping invalidation event with bad partition",
					zap.String("scope_type", event.ScopeType),
					zap.String("scope_id", event.ScopeID),
					zap.String("granularity", event.Granularity),
					zap.Error(err))
				continue
			}

			a.Pool.Submit(func() {
				if ctx.Err() != nil {
					return
				}
				a.Logger.Debug("Rebuilding invalidated partition", zap.String("partition", key.String()))
				if _, rebuildErr := a.Partitioner.Rebuild(ctx, key); rebuildErr != nil {
					a.Logger.Warn("Invalidation rebuild failed",
						zap.String("partition", key.String()),
						zap.Error(rebuildErr))
				}
			})
		}
	}
}
