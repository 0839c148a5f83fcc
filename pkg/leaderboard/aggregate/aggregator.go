package aggregate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/leaderboard"
)

// Aggregator reduces the append-only ledger into per-participant metrics for
// one (scope, window). The roster, not the ledger, decides who appears:
// members with no activity get all-zero metrics, ledger rows for departed
// participants are skipped.
type Aggregator struct {
	store  db.Store
	logger *zap.Logger
}

func New(store db.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Aggregate computes metrics for every active member of the scope within the
// window resolved from (granularity, asOf).
//
// A malformed individual row (negative or inverted points) is clamped and
// logged; it never aborts aggregation for the rest of the scope. An unknown
// scope returns leaderboard.ErrScopeNotFound; a known scope with no active
// members returns an empty result.
func (a *Aggregator) Aggregate(ctx context.Context, scopeType leaderboard.ScopeType, scopeID string, g leaderboard.Granularity, asOf time.Time) ([]leaderboard.AggregateMetrics, map[string]leaderboard.Profile, Window, error) {
	window := ResolveWindow(g, asOf)

	members, err := a.store.ActiveMembers(ctx, string(scopeType), scopeID)
	if err != nil {
		return nil, nil, window, fmt.Errorf("roster lookup for %s:%s: %w", scopeType, scopeID, err)
	}
	if len(members) == 0 {
		exists, err := a.store.ScopeExists(ctx, string(scopeType), scopeID)
		if err != nil {
			return nil, nil, window, fmt.Errorf("scope lookup for %s:%s: %w", scopeType, scopeID, err)
		}
		if !exists {
			return nil, nil, window, fmt.Errorf("%w: %s:%s", leaderboard.ErrScopeNotFound, scopeType, scopeID)
		}
		return []leaderboard.AggregateMetrics{}, map[string]leaderboard.Profile{}, window, nil
	}

	profiles := make(map[string]leaderboard.Profile, len(members))
	byParticipant := make(map[string]*leaderboard.AggregateMetrics, len(members))
	// Roster order (participant_id asc) keeps output deterministic.
	order := make([]string, 0, len(members))
	for _, m := range members {
		profiles[m.ParticipantID] = leaderboard.Profile{
			DisplayName:      m.DisplayName,
			Level:            int(m.Level),
			AchievementCount: int(m.AchievementCount),
		}
		byParticipant[m.ParticipantID] = &leaderboard.AggregateMetrics{ParticipantID: m.ParticipantID}
		order = append(order, m.ParticipantID)
	}

	if err := a.foldPointAwards(ctx, scopeID, window, byParticipant); err != nil {
		return nil, nil, window, err
	}
	if err := a.foldGradedWork(ctx, scopeID, window, byParticipant); err != nil {
		return nil, nil, window, err
	}

	out := make([]leaderboard.AggregateMetrics, 0, len(order))
	for _, id := range order {
		m := byParticipant[id]
		if m.TotalMax > 0 {
			m.AcademicScorePercent = 100 * m.TotalEarned / m.TotalMax
		}
		if m.TotalCount > 0 {
			m.CompletionRate = float64(m.CompletedCount) / float64(m.TotalCount)
		}
		out = append(out, *m)
	}
	return out, profiles, window, nil
}

func (a *Aggregator) foldPointAwards(ctx context.Context, scopeID string, window Window, byParticipant map[string]*leaderboard.AggregateMetrics) error {
	awards, err := a.store.PointAwardsInWindow(ctx, scopeID, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("point awards for %s: %w", scopeID, err)
	}

	// Replay safety: duplicate sourceEventIds collapse to the first row seen
	// regardless of how far the storage engine got with its own dedup merge.
	seen := make(map[string]bool, len(awards))
	for _, award := range awards {
		if award.SourceEventID != "" && seen[award.SourceEventID] {
			continue
		}
		seen[award.SourceEventID] = true

		m, ok := byParticipant[award.ParticipantID]
		if !ok {
			// Not on the active roster (departed member); skip.
			continue
		}
		m.TotalPoints += award.Points
		if award.AwardedAt.After(m.LastActivityAt) {
			m.LastActivityAt = award.AwardedAt
		}
	}
	return nil
}

func (a *Aggregator) foldGradedWork(ctx context.Context, scopeID string, window Window, byParticipant map[string]*leaderboard.AggregateMetrics) error {
	records, err := a.store.GradedWorkInWindow(ctx, scopeID, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("graded work for %s: %w", scopeID, err)
	}

	for _, rec := range records {
		m, ok := byParticipant[rec.ParticipantID]
		if !ok {
			continue
		}

		earned, max := rec.EarnedPoints, rec.MaxPoints
		if max < 0 || earned < 0 {
			// One corrupt row must not take down the whole scope: clamp to
			// zero and keep going.
			a.logger.Warn("Clamping malformed graded-work record",
				zap.String("scope_id", scopeID),
				zap.String("participant_id", rec.ParticipantID),
				zap.Float64("earned_points", earned),
				zap.Float64("max_points", max))
			earned, max = 0, 0
		}
		if earned > max {
			earned = max
		}

		m.TotalEarned += earned
		m.TotalMax += max
		m.TotalCount++
		if rec.Completed == 1 {
			m.CompletedCount++
		}
		if rec.GradedAt.After(m.LastActivityAt) {
			m.LastActivityAt = rec.GradedAt
		}
	}
	return nil
}
