package controller

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aoi-gallery/provenance/app/server/types"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

type Controller struct {
	App *types.App
	// AdminToken guards the operational harvest trigger. Empty disables the
	// check (local development).
	AdminToken string
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App:        app,
		AdminToken: utils.Env("ADMIN_TOKEN", ""),
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/nfts", c.HandleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/harvest", c.HandleHarvest).Methods(http.MethodPost)
	r.HandleFunc("/api/proxy", c.HandleProxy).Methods(http.MethodPost)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
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
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authorized checks the operational admin token when one is configured.
func (c *Controller) authorized(r *http.Request) bool {
	if c.AdminToken == "" {
		return true
	}
	return r.Header.Get("X-Admin-Token") == c.AdminToken
}
