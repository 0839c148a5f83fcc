package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

const keyPrefix = "standings:page:"

// Backend is the key-value store behind the page cache. *redisx.Client is the
// production implementation; a nil Backend runs the cache in permanent
// pass-through mode.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// Source supplies snapshots on a cache miss.
type Source interface {
	GetOrBuild(ctx context.Context, key leaderboard.PartitionKey) (*leaderboard.Snapshot, error)
}

// Page is one served leaderboard page. Entries are always a contiguous slice
// of exactly one snapshot generation; a regeneration completing mid-request
// can never splice two generations into one page.
type Page struct {
	Entries           []leaderboard.RankedEntry `json:"entries"`
	TotalParticipants int                       `json:"totalParticipants"`
	Generation        uint64                    `json:"generation"`
	GeneratedAt       time.Time                 `json:"generatedAt"`
	Hit               bool                      `json:"-"`
}

// Stats are the cache's lifetime counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Degraded uint64 `json:"degraded"`
}

// Cache is the read-through page cache in front of the snapshot partitioner.
// It has an explicit lifecycle: constructed at process start with per
// granularity TTLs, monitored via Stats, and flushed deterministically on
// shutdown. When the backend is unreachable every request transparently falls
// through to the Source; correctness is preserved, latency degrades, and the
// caller never sees an error from the cache itself.
type Cache struct {
	backend Backend
	source  Source
	logger  *zap.Logger
	ttls    map[leaderboard.Granularity]time.Duration

	hits     atomic.Uint64
	misses   atomic.Uint64
	degraded atomic.Uint64
}

// New builds a Cache. TTLs scale inversely with granularity volatility and
// can be tuned per class via CACHE_TTL_<GRANULARITY> env vars.
func New(backend Backend, source Source, logger *zap.Logger) *Cache {
	return &Cache{
		backend: backend,
		source:  source,
		logger:  logger,
		ttls: map[leaderboard.Granularity]time.Duration{
			leaderboard.Daily:   utils.EnvDuration("CACHE_TTL_DAILY", 30*time.Second),
			leaderboard.Weekly:  utils.EnvDuration("CACHE_TTL_WEEKLY", 2*time.Minute),
			leaderboard.Monthly: utils.EnvDuration("CACHE_TTL_MONTHLY", 10*time.Minute),
			leaderboard.Term:    utils.EnvDuration("CACHE_TTL_TERM", 30*time.Minute),
			leaderboard.AllTime: utils.EnvDuration("CACHE_TTL_ALL_TIME", time.Hour),
		},
	}
}

// PageKey renders the backend key for one (partition, offset, limit) page.
func PageKey(key leaderboard.PartitionKey, offset, limit int) string {
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, key.String(), offset, limit)
}

// GetPage serves the [offset, offset+limit) page for a partition, reading
// through to the partitioner on a miss. Only the requested slice is cached,
// keyed by the specific page parameters, so hot first pages stay cheap
// without pinning whole snapshots in the backend.
func (c *Cache) GetPage(ctx context.Context, key leaderboard.PartitionKey, offset, limit int) (Page, error) {
	ck := PageKey(key, offset, limit)

	usable := c.backend != nil
	if usable {
		raw, found, err := c.backend.Get(ctx, ck)
		if err != nil {
			usable = false
			c.degraded.Add(1)
			c.logger.Warn("Cache backend unavailable, serving from snapshot store",
				zap.String("key", ck),
				zap.Error(err))
		} else if found {
			var page Page
			if err := json.Unmarshal(raw, &page); err == nil {
				c.hits.Add(1)
				page.Hit = true
				return page, nil
			}
			// Undecodable entry: treat as a miss and overwrite below.
			c.logger.Warn("Dropping undecodable cache entry", zap.String("key", ck))
		}
	}

	c.misses.Add(1)

	snap, err := c.source.GetOrBuild(ctx, key)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Entries:           snap.Page(offset, limit),
		TotalParticipants: snap.TotalParticipants,
		Generation:        snap.Generation,
		GeneratedAt:       snap.GeneratedAt,
	}

	if usable {
		if raw, err := json.Marshal(page); err == nil {
			if err := c.backend.Set(ctx, ck, raw, c.ttl(key.Granularity)); err != nil {
				c.degraded.Add(1)
				c.logger.Warn("Failed to store cache page", zap.String("key", ck), zap.Error(err))
			}
		}
	}
	return page, nil
}

// InvalidatePartition evicts every cached page of one partition, regardless
// of page parameters. Wire this up as a partitioner OnCommit hook.
func (c *Cache) InvalidatePartition(ctx context.Context, key leaderboard.PartitionKey) {
	if c.backend == nil {
		return
	}
	pattern := fmt.Sprintf("%s%s:*", keyPrefix, key.String())
	n, err := c.backend.DeleteByPattern(ctx, pattern)
	if err != nil {
		c.degraded.Add(1)
		c.logger.Warn("Cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	c.logger.Debug("Evicted cached pages", zap.String("partition", key.String()), zap.Int64("evicted", n))
}

// Flush removes every cached page. Called on shutdown so a restarted process
// never serves pages produced under an older configuration.
func (c *Cache) Flush(ctx context.Context) {
	if c.backend == nil {
		return
	}
	if _, err := c.backend.DeleteByPattern(ctx, keyPrefix+"*"); err != nil {
		c.logger.Warn("Cache flush failed", zap.Error(err))
	}
}

// Stats returns lifetime hit/miss/degraded counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Degraded: c.degraded.Load(),
	}
}

func (c *Cache) ttl(g leaderboard.Granularity) time.Duration {
	if ttl, ok := c.ttls[g]; ok {
		return ttl
	}
	return time.Minute
}
