package leaderboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScopeType(t *testing.T) {
	for _, raw := range []string{"CLASS", "class", "Class"} {
		st, err := ParseScopeType(raw)
		require.NoError(t, err)
		assert.Equal(t, ScopeClass, st)
	}

	_, err := ParseScopeType("district")
	require.ErrorIs(t, err, ErrInvalidScopeType)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("all_time")
	require.NoError(t, err)
	assert.Equal(t, AllTime, g)

	_, err = ParseGranularity("hourly")
	require.ErrorIs(t, err, ErrInvalidGranularity)
}

func TestPartitionKeyString(t *testing.T) {
	key := PartitionKey{ScopeType: ScopeClass, ScopeID: "math-7b", Granularity: Weekly}
	assert.Equal(t, "CLASS:math-7b:WEEKLY", key.String())
}

func TestSnapshotPage(t *testing.T) {
	snap := &Snapshot{Entries: []RankedEntry{
		{ParticipantID: "a"}, {ParticipantID: "b"}, {ParticipantID: "c"},
	}}

	tests := []struct {
		name    string
		offset  int
		limit   int
		wantIDs []string
	}{
		{"first page", 0, 2, []string{"a", "b"}},
		{"partial last page", 2, 2, []string{"c"}},
		{"offset past end", 10, 2, []string{}},
		{"negative offset", -1, 2, []string{}},
		{"zero limit", 0, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := snap.Page(tt.offset, tt.limit)
			ids := make([]string, 0, len(page))
			for _, e := range page {
				ids = append(ids, e.ParticipantID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestSnapshotFind(t *testing.T) {
	snap := &Snapshot{Entries: []RankedEntry{
		{ParticipantID: "a", Rank: 1},
		{ParticipantID: "b", Rank: 2},
	}}

	entry, idx, ok := snap.Find("b")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, entry.Rank)

	_, idx, ok = snap.Find("ghost")
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "SCOPE_NOT_FOUND", ErrorCode(ErrScopeNotFound))
	assert.Equal(t, "PARTICIPANT_NOT_FOUND", ErrorCode(ErrParticipantNotFound))
	assert.Equal(t, "INVALID_GRANULARITY", ErrorCode(ErrInvalidGranularity))
	assert.Equal(t, "INTERNAL", ErrorCode(assert.AnError))
}
