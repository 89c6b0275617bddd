package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/app/server/controller"
	"github.com/aoi-gallery/provenance/app/server/types"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

// NewServer creates the HTTP server for the given app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":8080")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
