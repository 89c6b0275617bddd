package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

const snapshotCacheKey = "snapshot:response"

// HandleSnapshot serves the assembled snapshot. Chunking is invisible to the
// caller: the store reassembles whatever the manifest names. The snapshot
// changes at most once per scheduled run, so the response carries a long
// cache header and is additionally cached in Redis when available.
func (c *Controller) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/json")

	if c.App.Redis != nil {
		if cached := c.App.Redis.CacheGet(ctx, snapshotCacheKey); cached != nil {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			_, _ = w.Write(cached)
			return
		}
	}

	snap, err := c.App.Store.ReadSnapshot(ctx)
	if err != nil {
		c.App.Logger.Error("Snapshot read failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "snapshot read failed"})
		return
	}
	if snap == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "snapshot not available yet"})
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "snapshot encode failed"})
		return
	}

	if c.App.Redis != nil {
		c.App.Redis.CacheSet(ctx, snapshotCacheKey, payload, time.Hour)
	}

	// Errors above must stay uncacheable; only a complete snapshot gets the
	// long shared-cache lifetime.
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(payload)
}

// invalidateSnapshotCache drops the cached response after a successful run so
// manual harvests are visible immediately.
func (c *Controller) invalidateSnapshotCache(ctx context.Context) {
	if c.App.Redis != nil {
		c.App.Redis.CacheInvalidate(ctx, snapshotCacheKey)
	}
}
