package leaderboard

import (
	"fmt"
	"strings"
	"time"
)

// ScopeType is the organizational boundary a leaderboard is computed over.
type ScopeType string

const (
	ScopeClass   ScopeType = "CLASS"
	ScopeSubject ScopeType = "SUBJECT"
	ScopeCourse  ScopeType = "COURSE"
	ScopeOrg     ScopeType = "ORG"
)

// Granularity is the time-window policy metrics are aggregated under.
type Granularity string

const (
	Daily   Granularity = "DAILY"
	Weekly  Granularity = "WEEKLY"
	Monthly Granularity = "MONTHLY"
	Term    Granularity = "TERM"
	AllTime Granularity = "ALL_TIME"
)

// Granularities lists every supported granularity, most volatile first.
var Granularities = []Granularity{Daily, Weekly, Monthly, Term, AllTime}

// ParseScopeType parses a scope type, case-insensitively.
func ParseScopeType(s string) (ScopeType, error) {
	switch ScopeType(strings.ToUpper(s)) {
	case ScopeClass:
		return ScopeClass, nil
	case ScopeSubject:
		return ScopeSubject, nil
	case ScopeCourse:
		return ScopeCourse, nil
	case ScopeOrg:
		return ScopeOrg, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScopeType, s)
}

// ParseGranularity parses a granularity, case-insensitively.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToUpper(s)) {
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	case Term:
		return Term, nil
	case AllTime:
		return AllTime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
}

// PartitionKey identifies one independently regenerated leaderboard.
type PartitionKey struct {
	ScopeType   ScopeType
	ScopeID     string
	Granularity Granularity
}

// String renders the key in its canonical "TYPE:id:GRANULARITY" form, used
// for snapshot IDs, cache key prefixes and Pub/Sub channel names.
func (k PartitionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ScopeType, k.ScopeID, k.Granularity)
}

// AggregateMetrics is the per-participant reduction of ledger data for one
// (scope, window). It exists only transiently inside a recomputation; it is
// never persisted on its own.
type AggregateMetrics struct {
	ParticipantID        string
	TotalPoints          int64
	TotalEarned          float64
	TotalMax             float64
	AcademicScorePercent float64
	CompletedCount       int
	TotalCount           int
	CompletionRate       float64
	LastActivityAt       time.Time
}

// Profile is the roster-sourced display metadata for one participant.
// Lookups against a profile map must check presence explicitly; substituting
// a default profile for a miss is how a single participant once ended up
// repeated in every row.
type Profile struct {
	DisplayName      string
	Level            int
	AchievementCount int
}

// RankedEntry is one row of a ranked leaderboard.
// PreviousRank and Improvement are nil for a participant with no appearance
// in the immediately prior generation of the same partition.
type RankedEntry struct {
	ParticipantID        string  `json:"participantId"`
	DisplayName          string  `json:"displayName"`
	AcademicScorePercent float64 `json:"academicScorePercent"`
	TotalPoints          int64   `json:"totalPoints"`
	CompletionRate       float64 `json:"completionRate"`
	Rank                 int     `json:"rank"`
	PreviousRank         *int    `json:"previousRank,omitempty"`
	Improvement          *int    `json:"improvement,omitempty"`
	Level                int     `json:"level"`
	AchievementCount     int     `json:"achievementCount"`
}

// SortKey is the triple that decides rank equality. Entries with an equal
// SortKey share a rank number.
func (e RankedEntry) SortKey() (int64, float64, float64) {
	return e.TotalPoints, e.AcademicScorePercent, e.CompletionRate
}

// Snapshot is an immutable, fully ranked result for one partition key.
// Entries are ordered by rank; once built a Snapshot is never mutated, so
// readers may slice it freely without synchronization.
type Snapshot struct {
	ID                string        `json:"id"`
	ScopeType         ScopeType     `json:"scopeType"`
	ScopeID           string        `json:"scopeId"`
	Granularity       Granularity   `json:"granularity"`
	WindowStart       time.Time     `json:"windowStart"` // zero for ALL_TIME
	WindowEnd         time.Time     `json:"windowEnd"`
	Generation        uint64        `json:"generation"`
	GeneratedAt       time.Time     `json:"generatedAt"`
	Entries           []RankedEntry `json:"entries"`
	TotalParticipants int           `json:"totalParticipants"`
}

// Key returns the snapshot's partition key.
func (s *Snapshot) Key() PartitionKey {
	return PartitionKey{ScopeType: s.ScopeType, ScopeID: s.ScopeID, Granularity: s.Granularity}
}

// Page returns the contiguous slice [offset, offset+limit) of the snapshot's
// entries. Out-of-range pages come back empty, never an error.
func (s *Snapshot) Page(offset, limit int) []RankedEntry {
	if offset < 0 || limit <= 0 || offset >= len(s.Entries) {
		return []RankedEntry{}
	}
	end := offset + limit
	if end > len(s.Entries) {
		end = len(s.Entries)
	}
	return s.Entries[offset:end]
}

// Find locates a participant in the ordered entries. The boolean result is
// the only signal of presence; callers must never substitute a default entry
// for a miss.
func (s *Snapshot) Find(participantID string) (RankedEntry, int, bool) {
	for i, e := range s.Entries {
		if e.ParticipantID == participantID {
			return e, i, true
		}
	}
	return RankedEntry{}, -1, false
}
