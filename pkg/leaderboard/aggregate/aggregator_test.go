package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/classhall/standings/pkg/db"
	"github.com/classhall/standings/pkg/db/models/ledger"
	"github.com/classhall/standings/pkg/db/models/roster"
	"github.com/classhall/standings/pkg/leaderboard"
)

// mockStore is a mock implementation of db.Store for testing
type mockStore struct {
	db.Store
	members    []roster.Member
	exists     bool
	awards     []ledger.PointAward
	gradedWork []ledger.GradedWork
}

func (m *mockStore) ActiveMembers(_ context.Context, _, _ string) ([]roster.Member, error) {
	return m.members, nil
}

func (m *mockStore) ScopeExists(_ context.Context, _, _ string) (bool, error) {
	return m.exists, nil
}

func (m *mockStore) PointAwardsInWindow(_ context.Context, _ string, _, _ time.Time) ([]ledger.PointAward, error) {
	return m.awards, nil
}

func (m *mockStore) GradedWorkInWindow(_ context.Context, _ string, _, _ time.Time) ([]ledger.GradedWork, error) {
	return m.gradedWork, nil
}

func rosterOf(ids ...string) []roster.Member {
	out := make([]roster.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, roster.Member{
			ScopeType:     "CLASS",
			ScopeID:       "math-7b",
			ParticipantID: id,
			DisplayName:   "Student " + id,
		})
	}
	return out
}

func aggregateNow(t *testing.T, store *mockStore) ([]leaderboard.AggregateMetrics, map[string]leaderboard.Profile) {
	t.Helper()
	agg := New(store, zaptest.NewLogger(t))
	metrics, profiles, _, err := agg.Aggregate(context.Background(), leaderboard.ScopeClass, "math-7b", leaderboard.AllTime, time.Now())
	require.NoError(t, err)
	return metrics, profiles
}

func TestUnknownScope(t *testing.T) {
	agg := New(&mockStore{exists: false}, zaptest.NewLogger(t))
	_, _, _, err := agg.Aggregate(context.Background(), leaderboard.ScopeClass, "nope", leaderboard.Daily, time.Now())
	require.ErrorIs(t, err, leaderboard.ErrScopeNotFound)
}

func TestKnownScopeWithEmptyRoster(t *testing.T) {
	agg := New(&mockStore{exists: true}, zaptest.NewLogger(t))
	metrics, profiles, _, err := agg.Aggregate(context.Background(), leaderboard.ScopeClass, "math-7b", leaderboard.Daily, time.Now())
	require.NoError(t, err)
	assert.Empty(t, metrics)
	assert.Empty(t, profiles)
}

// TestZeroActivityMembersRank verifies roster membership alone puts a
// participant on the board, with all-zero metrics.
func TestZeroActivityMembersRank(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a", "b"),
		awards:  []ledger.PointAward{{ParticipantID: "a", Points: 10, SourceEventID: "e1"}},
	}

	metrics, profiles := aggregateNow(t, store)
	require.Len(t, metrics, 2)

	assert.Equal(t, int64(10), metrics[0].TotalPoints)
	assert.Equal(t, "b", metrics[1].ParticipantID)
	assert.Zero(t, metrics[1].TotalPoints)
	assert.Zero(t, metrics[1].CompletionRate)
	assert.Equal(t, "Student b", profiles["b"].DisplayName)
}

// TestDuplicateSourceEvents verifies replayed award events count once.
func TestDuplicateSourceEvents(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a"),
		awards: []ledger.PointAward{
			{ParticipantID: "a", Points: 10, SourceEventID: "e1"},
			{ParticipantID: "a", Points: 10, SourceEventID: "e1"},
			{ParticipantID: "a", Points: 5, SourceEventID: "e2"},
		},
	}

	metrics, _ := aggregateNow(t, store)
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(15), metrics[0].TotalPoints)
}

func TestNonRosterActivitySkipped(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a"),
		awards: []ledger.PointAward{
			{ParticipantID: "a", Points: 10, SourceEventID: "e1"},
			{ParticipantID: "departed", Points: 99, SourceEventID: "e2"},
		},
		gradedWork: []ledger.GradedWork{
			{ParticipantID: "departed", EarnedPoints: 50, MaxPoints: 50},
		},
	}

	metrics, _ := aggregateNow(t, store)
	require.Len(t, metrics, 1)
	assert.Equal(t, "a", metrics[0].ParticipantID)
	assert.Equal(t, int64(10), metrics[0].TotalPoints)
}

func TestCompensatingEntriesNetOut(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a"),
		awards: []ledger.PointAward{
			{ParticipantID: "a", Points: 100, SourceEventID: "e1"},
			{ParticipantID: "a", Points: -40, SourceEventID: "e1-correction"},
		},
	}

	metrics, _ := aggregateNow(t, store)
	assert.Equal(t, int64(60), metrics[0].TotalPoints)
}

func TestAcademicScoreAndCompletionRate(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a"),
		gradedWork: []ledger.GradedWork{
			{ParticipantID: "a", EarnedPoints: 80, MaxPoints: 100, Completed: 1},
			{ParticipantID: "a", EarnedPoints: 40, MaxPoints: 100},
		},
	}

	metrics, _ := aggregateNow(t, store)
	require.Len(t, metrics, 1)
	assert.InDelta(t, 60.0, metrics[0].AcademicScorePercent, 1e-9)
	assert.InDelta(t, 0.5, metrics[0].CompletionRate, 1e-9)
	assert.Equal(t, 2, metrics[0].TotalCount)
}

// TestMalformedRecordClampedInIsolation verifies one corrupt graded-work row
// is clamped without poisoning the participant's other records or the scope.
func TestMalformedRecordClampedInIsolation(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a", "b"),
		gradedWork: []ledger.GradedWork{
			{ParticipantID: "a", EarnedPoints: -5, MaxPoints: 100},
			{ParticipantID: "a", EarnedPoints: 90, MaxPoints: 100},
			{ParticipantID: "b", EarnedPoints: 120, MaxPoints: 100},
		},
	}

	metrics, _ := aggregateNow(t, store)
	require.Len(t, metrics, 2)

	// Corrupt row clamped to 0/0, the healthy one still counts.
	assert.InDelta(t, 90.0, metrics[0].AcademicScorePercent, 1e-9)

	// Earned above max is capped at max.
	assert.InDelta(t, 100.0, metrics[1].AcademicScorePercent, 1e-9)
}

func TestZeroDenominatorsStayZero(t *testing.T) {
	store := &mockStore{
		members: rosterOf("a"),
		gradedWork: []ledger.GradedWork{
			{ParticipantID: "a", EarnedPoints: 0, MaxPoints: 0, Completed: 1},
		},
	}

	metrics, _ := aggregateNow(t, store)
	require.Len(t, metrics, 1)
	assert.Zero(t, metrics[0].AcademicScorePercent)
	assert.InDelta(t, 1.0, metrics[0].CompletionRate, 1e-9)
}
