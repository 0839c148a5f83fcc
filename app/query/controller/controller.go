package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/classhall/standings/app/query/types"
	"github.com/classhall/standings/pkg/leaderboard"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")

	r.HandleFunc("/scopes/{scopeType}/{scopeId}/leaderboard/{granularity}", c.HandleLeaderboard).Methods("GET")
	r.HandleFunc("/scopes/{scopeType}/{scopeId}/leaderboard/{granularity}/position/{participantId}", c.HandlePosition).Methods("GET")

	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// WithCORS wraps a handler with permissive CORS headers.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeError maps domain errors onto status codes and stable wire codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, leaderboard.ErrScopeNotFound),
		errors.Is(err, leaderboard.ErrParticipantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, leaderboard.ErrInvalidScopeType),
		errors.Is(err, leaderboard.ErrInvalidGranularity):
		status = http.StatusBadRequest
	case errors.Is(err, leaderboard.ErrTransientUnavailable):
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  leaderboard.ErrorCode(err),
		"error": err.Error(),
	})
}

// partitionKey parses route vars into a partition key.
func partitionKey(r *http.Request) (leaderboard.PartitionKey, error) {
	vars := mux.Vars(r)

	scopeType, err := leaderboard.ParseScopeType(vars["scopeType"])
	if err != nil {
		return leaderboard.PartitionKey{}, err
	}
	granularity, err := leaderboard.ParseGranularity(vars["granularity"])
	if err != nil {
		return leaderboard.PartitionKey{}, err
	}
	return leaderboard.PartitionKey{
		ScopeType:   scopeType,
		ScopeID:     vars["scopeId"],
		Granularity: granularity,
	}, nil
}
