package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

// HandleHealth reports backend reachability.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	checks := map[string]string{}

	if err := c.App.DB.Conn().Ping(ctx); err != nil {
		status = "degraded"
		checks["clickhouse"] = err.Error()
	} else {
		checks["clickhouse"] = "ok"
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			status = "degraded"
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
