package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard"
)

// HandleInvalidate explicitly marks a scope's leaderboards for regeneration.
// With a granularity path segment only that partition is invalidated,
// otherwise all of the scope's granularities are. Serving is unaffected:
// readers keep getting the last published snapshot until the rebuild
// commits.
func (c *Controller) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	scopeType, err := leaderboard.ParseScopeType(vars["scopeType"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scopeType: " + vars["scopeType"]})
		return
	}
	scopeID := vars["scopeId"]

	granularities := leaderboard.Granularities
	if raw, ok := vars["granularity"]; ok {
		g, gErr := leaderboard.ParseGranularity(raw)
		if gErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid granularity: " + raw})
			return
		}
		granularities = []leaderboard.Granularity{g}
	}

	exists, err := c.App.DB.ScopeExists(r.Context(), string(scopeType), scopeID)
	if err != nil {
		c.App.Logger.Error("Failed to check scope existence",
			zap.String("scope_type", string(scopeType)),
			zap.String("scope_id", scopeID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check scope"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown scope: " + string(scopeType) + ":" + scopeID})
		return
	}

	for _, g := range granularities {
		c.App.Publisher.PublishInvalidate(r.Context(), leaderboard.PartitionKey{
			ScopeType:   scopeType,
			ScopeID:     scopeID,
			Granularity: g,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"invalidated": len(granularities)})
}
