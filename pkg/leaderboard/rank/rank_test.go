package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhall/standings/pkg/leaderboard"
)

func metrics(points ...int64) []leaderboard.AggregateMetrics {
	out := make([]leaderboard.AggregateMetrics, 0, len(points))
	for i, p := range points {
		out = append(out, leaderboard.AggregateMetrics{
			ParticipantID: string(rune('a' + i)),
			TotalPoints:   p,
		})
	}
	return out
}

// TestCompetitionRanking verifies tie groups share a rank and consume rank
// numbers: scores [100, 100, 80, 80, 50] rank [1, 1, 3, 3, 5].
func TestCompetitionRanking(t *testing.T) {
	entries := New(PointsFirst).AssignRanks(metrics(100, 100, 80, 80, 50), nil, nil)
	require.Len(t, entries, 5)

	ranks := make([]int, 0, len(entries))
	for _, e := range entries {
		ranks = append(ranks, e.Rank)
	}
	assert.Equal(t, []int{1, 1, 3, 3, 5}, ranks)
}

func TestRankEqualityUsesFullTriple(t *testing.T) {
	in := []leaderboard.AggregateMetrics{
		{ParticipantID: "a", TotalPoints: 100, AcademicScorePercent: 90},
		{ParticipantID: "b", TotalPoints: 100, AcademicScorePercent: 85},
	}

	entries := New(PointsFirst).AssignRanks(in, nil, nil)
	require.Len(t, entries, 2)

	// Same points but different academic score is not a tie.
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, "a", entries[0].ParticipantID)
}

func TestAcademicFirstOrder(t *testing.T) {
	in := []leaderboard.AggregateMetrics{
		{ParticipantID: "points-leader", TotalPoints: 500, AcademicScorePercent: 70},
		{ParticipantID: "academic-leader", TotalPoints: 100, AcademicScorePercent: 95},
	}

	entries := New(AcademicFirst).AssignRanks(in, nil, nil)
	require.Len(t, entries, 2)
	assert.Equal(t, "academic-leader", entries[0].ParticipantID)
	assert.Equal(t, 1, entries[0].Rank)

	entries = New(PointsFirst).AssignRanks(in, nil, nil)
	assert.Equal(t, "points-leader", entries[0].ParticipantID)
}

// TestIdempotence verifies ranking the same input twice yields identical
// output, regardless of input order.
func TestIdempotence(t *testing.T) {
	in := []leaderboard.AggregateMetrics{
		{ParticipantID: "c", TotalPoints: 80},
		{ParticipantID: "a", TotalPoints: 100},
		{ParticipantID: "b", TotalPoints: 100},
	}
	reversed := []leaderboard.AggregateMetrics{in[2], in[1], in[0]}

	assigner := New(PointsFirst)
	first := assigner.AssignRanks(in, nil, nil)
	second := assigner.AssignRanks(reversed, nil, nil)

	assert.Equal(t, first, second)
}

func TestTieGroupOrderIsDeterministic(t *testing.T) {
	entries := New(PointsFirst).AssignRanks([]leaderboard.AggregateMetrics{
		{ParticipantID: "zoe", TotalPoints: 100},
		{ParticipantID: "amy", TotalPoints: 100},
	}, nil, nil)
	require.Len(t, entries, 2)

	// Same rank, participantId ascending inside the tie group.
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 1, entries[1].Rank)
	assert.Equal(t, "amy", entries[0].ParticipantID)
	assert.Equal(t, "zoe", entries[1].ParticipantID)
}

func TestRankDeltaAgainstPriorGeneration(t *testing.T) {
	prior := &leaderboard.Snapshot{
		Entries: []leaderboard.RankedEntry{
			{ParticipantID: "a", Rank: 1},
			{ParticipantID: "b", Rank: 3},
		},
	}

	in := []leaderboard.AggregateMetrics{
		{ParticipantID: "a", TotalPoints: 50},
		{ParticipantID: "b", TotalPoints: 100},
		{ParticipantID: "newcomer", TotalPoints: 75},
	}

	entries := New(PointsFirst).AssignRanks(in, nil, prior)
	require.Len(t, entries, 3)

	// b moved 3 -> 1: improvement of 2.
	assert.Equal(t, "b", entries[0].ParticipantID)
	require.NotNil(t, entries[0].PreviousRank)
	assert.Equal(t, 3, *entries[0].PreviousRank)
	require.NotNil(t, entries[0].Improvement)
	assert.Equal(t, 2, *entries[0].Improvement)

	// a moved 1 -> 3: negative improvement.
	assert.Equal(t, "a", entries[2].ParticipantID)
	require.NotNil(t, entries[2].Improvement)
	assert.Equal(t, -2, *entries[2].Improvement)

	// No prior appearance, no delta.
	assert.Equal(t, "newcomer", entries[1].ParticipantID)
	assert.Nil(t, entries[1].PreviousRank)
	assert.Nil(t, entries[1].Improvement)
}

func TestProfileLookupIsExplicit(t *testing.T) {
	profiles := map[string]leaderboard.Profile{
		"a": {DisplayName: "Ada", Level: 7, AchievementCount: 12},
	}

	entries := New(PointsFirst).AssignRanks([]leaderboard.AggregateMetrics{
		{ParticipantID: "a", TotalPoints: 10},
		{ParticipantID: "b", TotalPoints: 5},
	}, profiles, nil)
	require.Len(t, entries, 2)

	assert.Equal(t, "Ada", entries[0].DisplayName)
	assert.Equal(t, 7, entries[0].Level)

	// Missing profile stays zero-valued rather than inheriting another row.
	assert.Equal(t, "", entries[1].DisplayName)
	assert.Equal(t, 0, entries[1].Level)
}

func TestInputsNotMutated(t *testing.T) {
	in := metrics(50, 100)
	New(PointsFirst).AssignRanks(in, nil, nil)

	assert.Equal(t, int64(50), in[0].TotalPoints)
	assert.Equal(t, int64(100), in[1].TotalPoints)
}

// TestLargePointTotalsOrderExactly pins int64 comparison of point totals:
// 2^53 and 2^53+1 collapse to the same float64, but they are distinct scores
// and must produce distinct ranks in the right order.
func TestLargePointTotalsOrderExactly(t *testing.T) {
	huge := int64(1) << 53
	in := []leaderboard.AggregateMetrics{
		{ParticipantID: "a", TotalPoints: huge},
		{ParticipantID: "b", TotalPoints: huge + 1},
	}

	entries := New(PointsFirst).AssignRanks(in, nil, nil)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ParticipantID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
}
