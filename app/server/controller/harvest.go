package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/harvest"
)

// HandleHarvest triggers a harvest run. Operational endpoint: the full error
// detail goes back to the caller, not a sanitized message. An optional
// `reset=<type>|all` query clears sync state first, forcing a re-fetch.
func (c *Controller) HandleHarvest(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.App.RunTimeout)
	defer cancel()

	summary, err := c.App.Runner.Run(ctx, harvest.Options{
		Reset: r.URL.Query().Get("reset"),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, harvest.ErrRunInProgress) {
			status = http.StatusConflict
		}
		c.App.Logger.Error("Manual harvest failed", zap.Error(err))
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":  "harvest failed",
			"detail": err.Error(),
		})
		return
	}

	c.invalidateSnapshotCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
