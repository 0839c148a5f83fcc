package controller

import (
	"net/http"
	"sync/atomic"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/classhall/standings/app/ingest/types"
	"github.com/classhall/standings/pkg/utils"
)

type Controller struct {
	App          *types.App
	ServiceToken string
	AuthUser     string
	Users        map[string]types.User
	JWTSecret    []byte

	// drift counts ledger rows recorded per scope since the last
	// invalidation broadcast, keyed "<TYPE>:<id>".
	drift          *xsync.Map[string, *atomic.Int64]
	driftThreshold int64
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	serviceToken := utils.Env("SERVICE_TOKEN", "devtoken")
	ingestUser := utils.Env("INGEST_USER", "ingest")
	ingestUsersJSON := utils.Env("INGEST_USERS", "")
	ingestPass := utils.Env("INGEST_PASSWORD", "ingest")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(ingestPass)
	users := map[string]types.User{}
	users[ingestUser] = types.User{Username: ingestUser, Hash: phash, Role: "writer"}
	if ingestUsersJSON != "" {
		_ = json.Unmarshal([]byte(ingestUsersJSON), &users)
	}

	return &Controller{
		App:            app,
		ServiceToken:   serviceToken,
		AuthUser:       ingestUser,
		Users:          users,
		JWTSecret:      jwtSecret,
		drift:          xsync.NewMap[string, *atomic.Int64](),
		driftThreshold: utils.EnvInt64("INVALIDATE_DRIFT", 25),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	// Ledger writes (append-only)
	r.Handle("/api/ledger/points", c.RequireAuth(http.HandlerFunc(c.HandlePointAwards))).Methods(http.MethodPost)
	r.Handle("/api/ledger/grades", c.RequireAuth(http.HandlerFunc(c.HandleGradedWork))).Methods(http.MethodPost)

	// Roster upserts
	r.Handle("/api/roster/{scopeType}/{scopeId}/members", c.RequireAuth(http.HandlerFunc(c.HandleRosterUpsert))).Methods(http.MethodPost)

	// Manual invalidation, for one granularity or all of them
	r.Handle("/api/invalidate/{scopeType}/{scopeId}", c.RequireAuth(http.HandlerFunc(c.HandleInvalidate))).Methods(http.MethodPost)
	r.Handle("/api/invalidate/{scopeType}/{scopeId}/{granularity}", c.RequireAuth(http.HandlerFunc(c.HandleInvalidate))).Methods(http.MethodPost)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
