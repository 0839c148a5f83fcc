package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

// HandleLeaderboard serves one ordered leaderboard page.
// GET /scopes/{scopeType}/{scopeId}/leaderboard/{granularity}?limit=&offset=&include=
func (c *Controller) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := partitionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	spec, err := parsePageSpec(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	page, err := c.App.Facade.GetLeaderboard(ctx, key, spec.Limit, spec.Offset, spec.IncludeParticipant)
	if err != nil {
		writeError(w, err)
		return
	}

	_ = json.NewEncoder(w).Encode(page)
}

// HandlePosition serves a participant's rank with immediate neighbors.
// GET /scopes/{scopeType}/{scopeId}/leaderboard/{granularity}/position/{participantId}
func (c *Controller) HandlePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := partitionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	participantID := mux.Vars(r)["participantId"]

	pos, err := c.App.Facade.GetParticipantPosition(ctx, key, participantID)
	if err != nil {
		writeError(w, err)
		return
	}

	_ = json.NewEncoder(w).Encode(pos)
}
