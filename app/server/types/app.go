package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/harvest"
	"github.com/aoi-gallery/provenance/pkg/moralis"
	"github.com/aoi-gallery/provenance/pkg/redis"
	"github.com/aoi-gallery/provenance/pkg/registry"
)

// App holds every long-lived dependency, constructed once at process start
// and passed to the components that need it. No package-level singletons.
type App struct {
	Store    db.Store
	Redis    *redis.Client
	Moralis  *moralis.Client
	Registry *registry.Registry
	Runner   *harvest.Runner

	// Cron triggers the scheduled harvest according to CronSpec.
	Cron     *cron.Cron
	CronSpec string
	// RunTimeout is the wall-clock budget for one harvest run.
	RunTimeout time.Duration

	// Zap Logger
	Logger *zap.Logger
	// Server is the HTTP server that serves the API.
	Server *http.Server
}

// Start starts the application and blocks until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Harvest schedule started", zap.String("cronSpec", a.CronSpec))
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.Server.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		// A bind failure must not leave the process alive serving nothing.
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server terminated", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		a.Cron.Stop()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	if err := a.Store.Close(shutdownCtx); err != nil {
		a.Logger.Error("Failed to close store connection", zap.Error(err))
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("Shutdown complete")
}
