package rank

import (
	"sort"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// Order selects the primary sort key. Consumer views historically disagreed
// on whether reward points or academic score lead, so the ordering is a
// deployment choice rather than hard-coded.
type Order string

const (
	PointsFirst   Order = "points"   // totalPoints, academicScorePercent, completionRate
	AcademicFirst Order = "academic" // academicScorePercent, totalPoints, completionRate
)

// OrderFromEnv reads SORT_ORDER, defaulting to points-first.
func OrderFromEnv() Order {
	if utils.Env("SORT_ORDER", string(PointsFirst)) == string(AcademicFirst) {
		return AcademicFirst
	}
	return PointsFirst
}

// Assigner turns aggregate metrics into a rank-ordered entry list using
// competition ranking: tied entries share a rank, the next distinct entry's
// rank equals its 1-based position, so tie groups consume rank numbers.
type Assigner struct {
	order Order
}

func New(order Order) *Assigner {
	return &Assigner{order: order}
}

// AssignRanks sorts metrics descending by the configured key order and
// assigns competition-style ranks. Equal (totalPoints, academicScorePercent,
// completionRate) triples share a rank; participantId is the final tiebreak
// for deterministic output order inside a tie group and never affects the
// rank number itself.
//
// previousRank is sourced only from prior, the immediately preceding
// generation of the same partition; absent participants get no previousRank.
// Pure function: inputs are never mutated.
func (a *Assigner) AssignRanks(metrics []leaderboard.AggregateMetrics, profiles map[string]leaderboard.Profile, prior *leaderboard.Snapshot) []leaderboard.RankedEntry {
	entries := make([]leaderboard.RankedEntry, 0, len(metrics))
	for _, m := range metrics {
		e := leaderboard.RankedEntry{
			ParticipantID:        m.ParticipantID,
			AcademicScorePercent: m.AcademicScorePercent,
			TotalPoints:          m.TotalPoints,
			CompletionRate:       m.CompletionRate,
		}
		if p, ok := profiles[m.ParticipantID]; ok {
			e.DisplayName = p.DisplayName
			e.Level = p.Level
			e.AchievementCount = p.AchievementCount
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return a.less(entries[i], entries[j])
	})

	for i := range entries {
		if i > 0 && sameSortKey(entries[i], entries[i-1]) {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}

		if prior != nil {
			if prev, _, ok := prior.Find(entries[i].ParticipantID); ok {
				previousRank := prev.Rank
				improvement := previousRank - entries[i].Rank
				entries[i].PreviousRank = &previousRank
				entries[i].Improvement = &improvement
			}
		}
	}
	return entries
}

// less compares totalPoints as int64, never through float64: point totals are
// exact counters and must order exactly, the same way sameSortKey compares
// them.
func (a *Assigner) less(x, y leaderboard.RankedEntry) bool {
	switch a.order {
	case AcademicFirst:
		if x.AcademicScorePercent != y.AcademicScorePercent {
			return x.AcademicScorePercent > y.AcademicScorePercent
		}
		if x.TotalPoints != y.TotalPoints {
			return x.TotalPoints > y.TotalPoints
		}
	default:
		if x.TotalPoints != y.TotalPoints {
			return x.TotalPoints > y.TotalPoints
		}
		if x.AcademicScorePercent != y.AcademicScorePercent {
			return x.AcademicScorePercent > y.AcademicScorePercent
		}
	}
	if x.CompletionRate != y.CompletionRate {
		return x.CompletionRate > y.CompletionRate
	}
	// Deterministic order inside a tie group; does not affect rank numbers.
	return x.ParticipantID < y.ParticipantID
}

// sameSortKey compares the full triple, independent of which key leads the
// sort, because rank equality is defined on the triple.
func sameSortKey(x, y leaderboard.RankedEntry) bool {
	px, ax, cx := x.SortKey()
	py, ay, cy := y.SortKey()
	return px == py && ax == ay && cx == cy
}
