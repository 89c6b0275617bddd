package controller

import (
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// proxyPrefix is the only upstream path family the proxy will forward. The
// browser uses this to lazily fetch a single token's metadata without the
// image URLs being embedded in the bulk snapshot.
const proxyPrefix = "/nft/"

// HandleProxy forwards a safelisted indexing-API call and returns the raw
// upstream JSON.
func (c *Controller) HandleProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string            `json:"endpoint"`
		Params   map[string]string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid JSON"})
		return
	}

	if !strings.HasPrefix(req.Endpoint, proxyPrefix) || strings.Contains(req.Endpoint, "..") {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "endpoint not allowed"})
		return
	}

	raw, err := c.App.Moralis.Raw(r.Context(), req.Endpoint, req.Params)
	if err != nil {
		c.App.Logger.Warn("Proxy request failed", zap.String("endpoint", req.Endpoint), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream request failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}
