package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.App.Store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "store connection error"})
		return
	}

	status := map[string]string{"status": "ok"}
	if c.App.Redis != nil {
		// Cache trouble degrades responses, it does not fail the service.
		status["cache"] = "ok"
		if err := c.App.Redis.Health(ctx); err != nil {
			status["cache"] = "errored"
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
