package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// Sweep cadence tracks window volatility: daily leaderboards churn the most
// and get swept every couple of minutes, all-time barely moves and gets a
// few sweeps per day. Specs use the six-field cron format (with seconds).
func sweepSpec(g leaderboard.Granularity) string {
	switch g {
	case leaderboard.Daily:
		return utils.Env("SWEEP_DAILY", "0 */2 * * * *")
	case leaderboard.Weekly:
		return utils.Env("SWEEP_WEEKLY", "0 */10 * * * *")
	case leaderboard.Monthly:
		return utils.Env("SWEEP_MONTHLY", "0 */30 * * * *")
	case leaderboard.Term:
		return utils.Env("SWEEP_TERM", "0 0 * * * *")
	default:
		return utils.Env("SWEEP_ALL_TIME", "0 0 */6 * * *")
	}
}

// SetupScheduler sets up the cron scheduler with one sweep per granularity.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	for _, g := range leaderboard.Granularities {
		g := g
		spec := sweepSpec(g)
		if _, err := a.Cron.AddFunc(spec, func() {
			// keep each run bounded
			rctx, cancel := context.WithTimeout(ctx, utils.EnvDuration("SWEEP_TIMEOUT", 5*time.Minute))
			defer cancel()
			a.Sweep(rctx, g)
		}); err != nil {
			return err
		}
		a.Logger.Info("Registered sweep",
			zap.String("granularity", string(g)),
			zap.String("spec", spec))
	}

	return nil
}

// Sweep rebuilds every known partition of one granularity. Scopes come from
// the roster, so a scope starts sweeping as soon as its first member is
// enrolled. Failed rebuilds keep their last-known-good snapshot and are
// retried on the next sweep.
func (a *App) Sweep(ctx context.Context, g leaderboard.Granularity) {
	scopes, err := a.DB.ListScopes(ctx)
	if err != nil {
		a.Logger.Error("Sweep aborted, unable to list scopes",
			zap.String("granularity", string(g)),
			zap.Error(err))
		return
	}

	started := time.Now()
	group := a.Pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, scope := range scopes {
		scopeType, parseErr := leaderboard.ParseScopeType(scope.ScopeType)
		if parseErr != nil {
			a.Logger.Warn("Skipping roster scope with unknown type",
				zap.String("scope_type", scope.ScopeType),
				zap.String("scope_id", scope.ScopeID))
			continue
		}

		key := leaderboard.PartitionKey{ScopeType: scopeType, ScopeID: scope.ScopeID, Granularity: g}
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			if _, rebuildErr := a.Partitioner.Rebuild(groupCtx, key); rebuildErr != nil {
				a.Logger.Warn("Sweep rebuild failed",
					zap.String("partition", key.String()),
					zap.Error(rebuildErr))
			}
		})
	}

	_ = group.Wait()

	a.Logger.Info("Sweep finished",
		zap.String("granularity", string(g)),
		zap.Int("scopes", len(scopes)),
		zap.Duration("elapsed", time.Since(started)))
}
