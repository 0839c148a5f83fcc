package controller

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db/models/ledger"
	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// PointAwardRequest is one point-award event from an upstream activity
// service. Points may be negative: corrections arrive as compensating
// entries, never as updates.
type PointAwardRequest struct {
	ScopeType     string    `json:"scopeType"`
	ScopeID       string    `json:"scopeId"`
	ParticipantID string    `json:"participantId"`
	Points        int64     `json:"points"`
	Category      string    `json:"category"`
	SourceEventID string    `json:"sourceEventId"`
	AwardedAt     time.Time `json:"awardedAt"`
}

// GradedWorkRequest is one graded-work record from the grading pipeline.
type GradedWorkRequest struct {
	ScopeType     string    `json:"scopeType"`
	ScopeID       string    `json:"scopeId"`
	ParticipantID string    `json:"participantId"`
	EarnedPoints  float64   `json:"earnedPoints"`
	MaxPoints     float64   `json:"maxPoints"`
	Completed     bool      `json:"completed"`
	GradedAt      time.Time `json:"gradedAt"`
}

// HandlePointAwards appends a batch of point-award events to the ledger.
// Replays of the same sourceEventId are accepted; the aggregator
// deduplicates at read time.
func (c *Controller) HandlePointAwards(w http.ResponseWriter, r *http.Request) {
	var in []PointAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if len(in) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty batch"})
		return
	}

	now := time.Now().UTC()
	awards := make([]*ledger.PointAward, 0, len(in))
	for _, req := range in {
		if _, err := leaderboard.ParseScopeType(req.ScopeType); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scopeType: " + req.ScopeType})
			return
		}
		if req.ScopeID == "" || req.ParticipantID == "" || req.SourceEventID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scopeId, participantId and sourceEventId are required"})
			return
		}
		awardedAt := req.AwardedAt
		if awardedAt.IsZero() {
			awardedAt = now
		}
		awards = append(awards, &ledger.PointAward{
			ParticipantID: req.ParticipantID,
			ScopeID:       req.ScopeID,
			Points:        req.Points,
			Category:      req.Category,
			SourceEventID: req.SourceEventID,
			AwardedAt:     awardedAt,
		})
	}

	if err := c.App.DB.RecordPointAwards(r.Context(), awards); err != nil {
		c.App.Logger.Error("Failed to record point awards", zap.Int("count", len(awards)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record point awards"})
		return
	}

	for scope, n := range countByScope(in, func(r PointAwardRequest) (string, string) { return r.ScopeType, r.ScopeID }) {
		c.trackDrift(r, scope, n)
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(awards)})
}

// HandleGradedWork appends a batch of graded-work records to the ledger.
func (c *Controller) HandleGradedWork(w http.ResponseWriter, r *http.Request) {
	var in []GradedWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if len(in) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty batch"})
		return
	}

	now := time.Now().UTC()
	records := make([]*ledger.GradedWork, 0, len(in))
	for _, req := range in {
		if _, err := leaderboard.ParseScopeType(req.ScopeType); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scopeType: " + req.ScopeType})
			return
		}
		if req.ScopeID == "" || req.ParticipantID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scopeId and participantId are required"})
			return
		}
		gradedAt := req.GradedAt
		if gradedAt.IsZero() {
			gradedAt = now
		}
		records = append(records, &ledger.GradedWork{
			ParticipantID: req.ParticipantID,
			ScopeID:       req.ScopeID,
			EarnedPoints:  req.EarnedPoints,
			MaxPoints:     req.MaxPoints,
			Completed:     utils.BoolToUInt8(req.Completed),
			GradedAt:      gradedAt,
		})
	}

	if err := c.App.DB.RecordGradedWork(r.Context(), records); err != nil {
		c.App.Logger.Error("Failed to record graded work", zap.Int("count", len(records)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record graded work"})
		return
	}

	for scope, n := range countByScope(in, func(r GradedWorkRequest) (string, string) { return r.ScopeType, r.ScopeID }) {
		c.trackDrift(r, scope, n)
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(records)})
}

// countByScope groups a request batch by "<TYPE>:<id>".
func countByScope[T any](in []T, key func(T) (string, string)) map[string]int64 {
	out := make(map[string]int64)
	for _, req := range in {
		st, id := key(req)
		out[st+":"+id] += 1
	}
	return out
}

// trackDrift bumps the per-scope drift counter and, when the threshold is
// crossed, broadcasts an invalidation for every granularity of the scope.
// The worker picks these up and regenerates promptly instead of waiting for
// its next sweep.
func (c *Controller) trackDrift(r *http.Request, scope string, n int64) {
	ctr, ok := c.drift.Load(scope)
	if !ok {
		ctr, _ = c.drift.LoadOrStore(scope, &atomic.Int64{})
	}

	v := ctr.Add(n)
	if v < c.driftThreshold || !ctr.CompareAndSwap(v, 0) {
		return
	}

	scopeType, scopeID, found := splitScope(scope)
	if !found {
		return
	}
	st, err := leaderboard.ParseScopeType(scopeType)
	if err != nil {
		return
	}

	c.App.Logger.Debug("Ledger drift threshold crossed, broadcasting invalidation",
		zap.String("scope", scope),
		zap.Int64("drift", v))

	for _, g := range leaderboard.Granularities {
		c.App.Publisher.PublishInvalidate(r.Context(), leaderboard.PartitionKey{
			ScopeType:   st,
			ScopeID:     scopeID,
			Granularity: g,
		})
	}
}

func splitScope(scope string) (scopeType, scopeID string, ok bool) {
	return strings.Cut(scope, ":")
}
