package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/leaderboard/aggregate"
	"github.com/classhall/standings/pkg/leaderboard/rank"
	"github.com/classhall/standings/pkg/utils"
)

// Aggregator is the metric-reduction stage the partitioner drives.
// *aggregate.Aggregator is the production implementation.
type Aggregator interface {
	Aggregate(ctx context.Context, scopeType leaderboard.ScopeType, scopeID string, g leaderboard.Granularity, asOf time.Time) ([]leaderboard.AggregateMetrics, map[string]leaderboard.Profile, aggregate.Window, error)
}

// Store is the persistence surface for snapshot generations.
type Store interface {
	InsertSnapshot(ctx context.Context, snap *leaderboard.Snapshot) error
	LatestSnapshots(ctx context.Context, key leaderboard.PartitionKey, n int) ([]*leaderboard.Snapshot, error)
	MaxGeneration(ctx context.Context, key leaderboard.PartitionKey) (uint64, error)
	PruneSnapshots(ctx context.Context, key leaderboard.PartitionKey, keep int) error
}

// Partitioner orchestrates aggregation and ranking into immutable, versioned
// snapshots, one partition (scopeType, scopeId, granularity) at a time.
//
// Cache-miss readers are single-flighted per key: while a build is in
// progress every caller of GetOrBuild receives that one build's result.
// Invalidation-triggered rebuilds may overlap an in-flight build; each build
// captures a token at start, and a build whose token has been passed by a
// concurrently committed newer one is discarded at commit time.
//
// In-memory state is a process-local view of the shared snapshot store:
// generation numbers are allocated against the store's max at commit so
// concurrent writers (the regeneration worker, lazy query-side builds) never
// mint the same number, and serving reads re-check the store at most once
// per recheck interval to adopt generations committed by another process.
type Partitioner struct {
	store  Store
	agg    Aggregator
	ranker *rank.Assigner
	logger *zap.Logger

	// Clock can be overridden for deterministic tests.
	Clock func() time.Time

	retention int
	recheck   time.Duration
	states    *xsync.Map[string, *partitionState]

	mu        sync.Mutex
	onCommit  []func(ctx context.Context, snap *leaderboard.Snapshot)
	onFailure []func(ctx context.Context, key leaderboard.PartitionKey, err error)
}

type partitionState struct {
	mu        sync.Mutex
	recovered bool
	checkedAt time.Time

	// generation is the number of the last committed snapshot; buildSeq
	// orders build starts and commitSeq remembers the newest token that made
	// it to commit, which is how a stale overlapping build gets discarded.
	generation uint64
	buildSeq   uint64
	commitSeq  uint64

	current  *leaderboard.Snapshot
	previous *leaderboard.Snapshot
	inflight *inflightBuild
}

type inflightBuild struct {
	done chan struct{}
	snap *leaderboard.Snapshot
	err  error
}

// New creates a Partitioner. Retention (current + previous by default) is
// configurable via SNAPSHOT_RETENTION, the cross-process freshness check via
// SNAPSHOT_RECHECK.
func New(store Store, agg Aggregator, ranker *rank.Assigner, logger *zap.Logger) *Partitioner {
	return &Partitioner{
		store:     store,
		agg:       agg,
		ranker:    ranker,
		logger:    logger,
		Clock:     time.Now,
		retention: utils.EnvInt("SNAPSHOT_RETENTION", 2),
		recheck:   utils.EnvDuration("SNAPSHOT_RECHECK", 15*time.Second),
		states:    xsync.NewMap[string, *partitionState](),
	}
}

// OnCommit registers a hook invoked after every successfully committed
// generation (cache eviction, snapshot.published events).
func (p *Partitioner) OnCommit(fn func(ctx context.Context, snap *leaderboard.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCommit = append(p.onCommit, fn)
}

// OnBuildFailure registers an observability hook invoked when a build fails
// for a partition that keeps serving its last known-good snapshot.
func (p *Partitioner) OnBuildFailure(fn func(ctx context.Context, key leaderboard.PartitionKey, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = append(p.onFailure, fn)
}

func (p *Partitioner) state(key leaderboard.PartitionKey) *partitionState {
	if st, ok := p.states.Load(key.String()); ok {
		return st
	}
	st, _ := p.states.LoadOrStore(key.String(), &partitionState{})
	return st
}

// GetOrBuild returns the active snapshot for a partition, lazily building it
// on first-ever read. Readers never block on an in-flight regeneration when a
// current snapshot exists; they only wait when there is nothing to serve yet.
func (p *Partitioner) GetOrBuild(ctx context.Context, key leaderboard.PartitionKey) (*leaderboard.Snapshot, error) {
	st := p.state(key)

	st.mu.Lock()
	p.recoverLocked(ctx, st, key)
	p.refreshLocked(ctx, st, key)
	if st.current != nil {
		snap := st.current
		st.mu.Unlock()
		return snap, nil
	}
	if fl := st.inflight; fl != nil {
		st.mu.Unlock()
		select {
		case <-fl.done:
			return fl.snap, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fl := &inflightBuild{done: make(chan struct{})}
	st.inflight = fl
	st.buildSeq++
	token := st.buildSeq
	st.mu.Unlock()

	snap, err := p.runBuild(ctx, st, key, token)
	p.finishInflight(st, fl, snap, err)
	return snap, err
}

// Rebuild regenerates a partition now and returns the freshest committed
// snapshot. Unlike GetOrBuild it does not join an in-flight build: a rebuild
// triggered mid-build reads fresher ledger state, and the token mechanism
// sorts out which result survives.
func (p *Partitioner) Rebuild(ctx context.Context, key leaderboard.PartitionKey) (*leaderboard.Snapshot, error) {
	st := p.state(key)

	st.mu.Lock()
	p.recoverLocked(ctx, st, key)
	st.buildSeq++
	token := st.buildSeq
	fl := &inflightBuild{done: make(chan struct{})}
	joinable := st.inflight == nil
	if joinable {
		st.inflight = fl
	}
	st.mu.Unlock()

	snap, err := p.runBuild(ctx, st, key, token)
	if joinable {
		p.finishInflight(st, fl, snap, err)
	}
	return snap, err
}

// Invalidate signals that ledger drift should be reflected promptly.
func (p *Partitioner) Invalidate(ctx context.Context, key leaderboard.PartitionKey) error {
	_, err := p.Rebuild(ctx, key)
	return err
}

// Current returns the active snapshot without triggering a build.
func (p *Partitioner) Current(key leaderboard.PartitionKey) (*leaderboard.Snapshot, bool) {
	st := p.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return nil, false
	}
	return st.current, true
}

func (p *Partitioner) finishInflight(st *partitionState, fl *inflightBuild, snap *leaderboard.Snapshot, err error) {
	fl.snap, fl.err = snap, err
	st.mu.Lock()
	if st.inflight == fl {
		st.inflight = nil
	}
	st.mu.Unlock()
	close(fl.done)
}

// recoverLocked hydrates partition state from persisted generations on first
// touch, so previousRank survives process restarts. A store error here is
// logged and tolerated; the partition can still build from the ledger.
func (p *Partitioner) recoverLocked(ctx context.Context, st *partitionState, key leaderboard.PartitionKey) {
	if st.recovered {
		return
	}
	st.recovered = true
	st.checkedAt = p.Clock()

	snaps, err := p.store.LatestSnapshots(ctx, key, 2)
	if err != nil {
		p.logger.Warn("Failed to recover persisted snapshots",
			zap.String("partition", key.String()),
			zap.Error(err))
		return
	}
	if len(snaps) > 0 {
		st.current = snaps[0]
		st.generation = snaps[0].Generation
	}
	if len(snaps) > 1 {
		st.previous = snaps[1]
	}
}

// refreshLocked adopts generations committed to the shared store by another
// process. The regeneration worker and the query service each run their own
// Partitioner over the same store; without this, a reader would serve its
// in-memory snapshot forever and never observe worker rebuilds. Checked at
// most once per recheck interval per partition; a store error keeps the
// current snapshot and retries on the next interval.
func (p *Partitioner) refreshLocked(ctx context.Context, st *partitionState, key leaderboard.PartitionKey) {
	now := p.Clock()
	if st.current == nil || now.Sub(st.checkedAt) < p.recheck {
		return
	}
	st.checkedAt = now

	maxGen, err := p.store.MaxGeneration(ctx, key)
	if err != nil {
		p.logger.Warn("Failed to check persisted generation",
			zap.String("partition", key.String()),
			zap.Error(err))
		return
	}
	if maxGen <= st.generation {
		return
	}

	snaps, err := p.store.LatestSnapshots(ctx, key, 2)
	if err != nil || len(snaps) == 0 || snaps[0].Generation <= st.generation {
		return
	}

	p.logger.Debug("Adopting generation committed by another process",
		zap.String("partition", key.String()),
		zap.Uint64("local", st.generation),
		zap.Uint64("adopted", snaps[0].Generation))

	st.previous = st.current
	if len(snaps) > 1 {
		st.previous = snaps[1]
	}
	st.current = snaps[0]
	st.generation = snaps[0].Generation
}

func (p *Partitioner) runBuild(ctx context.Context, st *partitionState, key leaderboard.PartitionKey, token uint64) (*leaderboard.Snapshot, error) {
	asOf := p.Clock()

	metrics, profiles, window, err := p.agg.Aggregate(ctx, key.ScopeType, key.ScopeID, key.Granularity, asOf)
	if err != nil {
		st.mu.Lock()
		lastGood := st.current
		st.mu.Unlock()

		p.reportFailure(ctx, key, err)
		if lastGood != nil && !errors.Is(err, leaderboard.ErrScopeNotFound) {
			// Roster/ledger source trouble: readers keep the last known-good
			// snapshot instead of a hard failure.
			return lastGood, nil
		}
		return nil, err
	}

	st.mu.Lock()
	prior := st.current
	st.mu.Unlock()

	entries := p.ranker.AssignRanks(metrics, profiles, prior)

	snap := &leaderboard.Snapshot{
		ScopeType:         key.ScopeType,
		ScopeID:           key.ScopeID,
		Granularity:       key.Granularity,
		WindowStart:       window.Start,
		WindowEnd:         window.End,
		GeneratedAt:       asOf,
		Entries:           entries,
		TotalParticipants: len(entries),
	}

	st.mu.Lock()
	if token <= st.commitSeq {
		// A build that started later already committed; this result is stale.
		newer := st.current
		committed := st.commitSeq
		st.mu.Unlock()
		p.logger.Debug("Discarding superseded snapshot build",
			zap.String("partition", key.String()),
			zap.Uint64("token", token),
			zap.Uint64("committed", committed))
		return newer, nil
	}
	st.commitSeq = token
	next := st.generation + 1
	if maxGen, genErr := p.store.MaxGeneration(ctx, key); genErr == nil && maxGen >= next {
		// Another process committed while this build ran; number past it so
		// generations stay unique across writers.
		next = maxGen + 1
	}
	st.generation = next
	st.checkedAt = p.Clock()
	snap.Generation = next
	snap.ID = fmt.Sprintf("%s:g%d", key.String(), snap.Generation)
	st.previous = st.current
	st.current = snap
	st.mu.Unlock()

	if err := p.store.InsertSnapshot(ctx, snap); err != nil {
		// Served from memory regardless; persistence catches up next build.
		p.logger.Warn("Failed to persist snapshot generation",
			zap.String("partition", key.String()),
			zap.Uint64("generation", snap.Generation),
			zap.Error(err))
	} else if err := p.store.PruneSnapshots(ctx, key, p.retention); err != nil {
		p.logger.Warn("Failed to prune old snapshot generations",
			zap.String("partition", key.String()),
			zap.Error(err))
	}

	p.logger.Info("Snapshot generation committed",
		zap.String("partition", key.String()),
		zap.Uint64("generation", snap.Generation),
		zap.Int("participants", snap.TotalParticipants))

	p.mu.Lock()
	hooks := append([]func(ctx context.Context, snap *leaderboard.Snapshot){}, p.onCommit...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, snap)
	}

	return snap, nil
}

func (p *Partitioner) reportFailure(ctx context.Context, key leaderboard.PartitionKey, err error) {
	p.logger.Error("Snapshot build failed",
		zap.String("partition", key.String()),
		zap.Error(err))

	p.mu.Lock()
	hooks := append([]func(ctx context.Context, key leaderboard.PartitionKey, err error){}, p.onFailure...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, key, err)
	}
}
