package facade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/leaderboard/cache"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Source hands out whole snapshots when a query needs more than one page
// slice (own-entry lookups, positional queries).
type Source interface {
	GetOrBuild(ctx context.Context, key leaderboard.PartitionKey) (*leaderboard.Snapshot, error)
}

// Service is the query façade: the only surface external collaborators call.
// Both operations are pure read compositions of the page cache and the
// snapshot partitioner; neither mutates state.
type Service struct {
	cache  *cache.Cache
	source Source
	logger *zap.Logger
}

func New(pageCache *cache.Cache, source Source, logger *zap.Logger) *Service {
	return &Service{cache: pageCache, source: source, logger: logger}
}

// ScopeMetadata describes which leaderboard a page came from.
type ScopeMetadata struct {
	ScopeType   string `json:"scopeType"`
	ScopeID     string `json:"scopeId"`
	Granularity string `json:"granularity"`
}

// OwnEntry is the requesting participant's row, returned separately when it
// falls outside the requested page so a "you are here" widget needs no second
// round trip.
type OwnEntry struct {
	leaderboard.RankedEntry
	OutOfPage bool `json:"outOfPage"`
}

// LeaderboardPage is the GetLeaderboard result.
type LeaderboardPage struct {
	Entries           []leaderboard.RankedEntry `json:"entries"`
	TotalParticipants int                       `json:"totalParticipants"`
	Scope             ScopeMetadata             `json:"scopeMetadata"`
	Generation        uint64                    `json:"generation"`
	GeneratedAt       time.Time                 `json:"generatedAt"`
	You               *OwnEntry                 `json:"you,omitempty"`
	CacheHit          bool                      `json:"-"`
}

// Position is the GetParticipantPosition result: the participant's entry plus
// its immediate neighbors for context, independent of page boundaries.
type Position struct {
	Entry             leaderboard.RankedEntry  `json:"entry"`
	RankAbove         *leaderboard.RankedEntry `json:"rankAbove,omitempty"`
	RankBelow         *leaderboard.RankedEntry `json:"rankBelow,omitempty"`
	TotalParticipants int                      `json:"totalParticipants"`
	Generation        uint64                   `json:"generation"`
}

// NormalizePage clamps page parameters instead of erroring: limit defaults to
// DefaultLimit, caps at MaxLimit, offset floors at 0.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetLeaderboard returns one ordered page. An empty scope yields a zero-length
// page, not an error. When includeParticipant names someone outside the
// page, their entry is appended separately tagged outOfPage.
func (s *Service) GetLeaderboard(ctx context.Context, key leaderboard.PartitionKey, limit, offset int, includeParticipant string) (*LeaderboardPage, error) {
	limit, offset = NormalizePage(limit, offset)

	page, err := s.cache.GetPage(ctx, key, offset, limit)
	if err != nil {
		return nil, err
	}

	out := &LeaderboardPage{
		Entries:           page.Entries,
		TotalParticipants: page.TotalParticipants,
		Scope: ScopeMetadata{
			ScopeType:   string(key.ScopeType),
			ScopeID:     key.ScopeID,
			Granularity: string(key.Granularity),
		},
		Generation:  page.Generation,
		GeneratedAt: page.GeneratedAt,
		CacheHit:    page.Hit,
	}

	if includeParticipant != "" && !containsParticipant(page.Entries, includeParticipant) {
		snap, err := s.source.GetOrBuild(ctx, key)
		if err != nil {
			return nil, err
		}
		if snap.Generation != page.Generation {
			// The cached page lags the active snapshot. Serve both from the
			// snapshot so the appended entry's rank agrees with the page it
			// accompanies; next commit's eviction refreshes the cache.
			out.Entries = snap.Page(offset, limit)
			out.TotalParticipants = snap.TotalParticipants
			out.Generation = snap.Generation
			out.GeneratedAt = snap.GeneratedAt
			out.CacheHit = false
		}
		if entry, _, ok := snap.Find(includeParticipant); ok && !containsParticipant(out.Entries, includeParticipant) {
			out.You = &OwnEntry{RankedEntry: entry, OutOfPage: true}
		}
	}
	return out, nil
}

// GetParticipantPosition locates one participant in the active snapshot and
// returns their entry with immediate neighbors. A participant missing from
// the snapshot is an explicit ErrParticipantNotFound, never a defaulted row.
func (s *Service) GetParticipantPosition(ctx context.Context, key leaderboard.PartitionKey, participantID string) (*Position, error) {
	snap, err := s.source.GetOrBuild(ctx, key)
	if err != nil {
		return nil, err
	}

	entry, idx, ok := snap.Find(participantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", leaderboard.ErrParticipantNotFound, participantID, key.String())
	}

	pos := &Position{
		Entry:             entry,
		TotalParticipants: snap.TotalParticipants,
		Generation:        snap.Generation,
	}
	if idx > 0 {
		above := snap.Entries[idx-1]
		pos.RankAbove = &above
	}
	if idx+1 < len(snap.Entries) {
		below := snap.Entries[idx+1]
		pos.RankBelow = &below
	}
	return pos, nil
}

func containsParticipant(entries []leaderboard.RankedEntry, participantID string) bool {
	for _, e := range entries {
		if e.ParticipantID == participantID {
			return true
		}
	}
	return false
}
