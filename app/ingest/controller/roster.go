package controller

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/db/models/roster"
	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// RosterMemberRequest is one roster membership entry for a scope. A nil
// Active defaults to true; inactive members stay in the roster table but are
// excluded from leaderboards.
type RosterMemberRequest struct {
	ParticipantID    string `json:"participantId"`
	DisplayName      string `json:"displayName"`
	Level            uint32 `json:"level"`
	AchievementCount uint32 `json:"achievementCount"`
	Active           *bool  `json:"active"`
}

// HandleRosterUpsert replaces or inserts roster members for one scope. The
// roster is the source of truth for who appears on that scope's
// leaderboards: members with no activity still rank, and activity from
// non-members is ignored.
func (c *Controller) HandleRosterUpsert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	scopeType, err := leaderboard.ParseScopeType(vars["scopeType"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scopeType: " + vars["scopeType"]})
		return
	}
	scopeID := vars["scopeId"]

	var in []RosterMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if len(in) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty batch"})
		return
	}

	now := time.Now().UTC()
	members := make([]*roster.Member, 0, len(in))
	for _, req := range in {
		if req.ParticipantID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participantId is required"})
			return
		}
		active := utils.BoolToUInt8(req.Active == nil || *req.Active)
		members = append(members, &roster.Member{
			ScopeType:        string(scopeType),
			ScopeID:          scopeID,
			ParticipantID:    req.ParticipantID,
			DisplayName:      req.DisplayName,
			Level:            req.Level,
			AchievementCount: req.AchievementCount,
			Active:           active,
			UpdatedAt:        now,
		})
	}

	if err := c.App.DB.UpsertMembers(r.Context(), members); err != nil {
		c.App.Logger.Error("Failed to upsert roster members",
			zap.String("scope_type", string(scopeType)),
			zap.String("scope_id", scopeID),
			zap.Int("count", len(members)),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to upsert roster members"})
		return
	}

	// Membership changes reshape every leaderboard of the scope.
	for _, g := range leaderboard.Granularities {
		c.App.Publisher.PublishInvalidate(r.Context(), leaderboard.PartitionKey{
			ScopeType:   scopeType,
			ScopeID:     scopeID,
			Granularity: g,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"upserted": len(members)})
}
