package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/app/server/types"
	"github.com/aoi-gallery/provenance/pkg/aggregate"
	"github.com/aoi-gallery/provenance/pkg/db/mongostore"
	"github.com/aoi-gallery/provenance/pkg/harvest"
	"github.com/aoi-gallery/provenance/pkg/ingest"
	"github.com/aoi-gallery/provenance/pkg/logging"
	"github.com/aoi-gallery/provenance/pkg/moralis"
	"github.com/aoi-gallery/provenance/pkg/redis"
	"github.com/aoi-gallery/provenance/pkg/registry"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

// Initialize wires the application: logger, collection registry, document
// store, optional Redis cache, indexing client, and the harvest runner.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	reg, regErr := registry.Load(
		utils.Env("COLLECTIONS_PATH", ""),
		utils.Env("GENESIS_PATH", ""))
	if regErr != nil {
		logger.Fatal("Unable to load collection registry", zap.Error(regErr))
	}

	store, storeErr := mongostore.New(ctx, logger)
	if storeErr != nil {
		logger.Fatal("Unable to initialize document store", zap.Error(storeErr))
	}

	// Redis response cache is optional; a miss just means store reads.
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - snapshot responses will not be cached",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - snapshot responses will not be cached")
	}

	apiKey := utils.Env("MORALIS_API_KEY", "")
	if apiKey == "" {
		logger.Warn("MORALIS_API_KEY is not set; harvest runs will fail until it is configured")
	} else {
		// Log length only, never the key itself.
		logger.Info("Indexing API key loaded", zap.Int("length", len(apiKey)))
	}
	client := moralis.New(logger, moralis.Opts{APIKey: apiKey})

	runner := &harvest.Runner{
		Logger:   logger,
		Store:    store,
		Registry: reg,
		Ingest: &ingest.Engine{
			Logger: logger,
			Client: client,
		},
		Aggregate: &aggregate.Engine{
			Logger:   logger,
			Store:    store,
			Registry: reg,
		},
	}

	app := &types.App{
		Store:      store,
		Redis:      redisClient,
		Moralis:    client,
		Registry:   reg,
		Runner:     runner,
		CronSpec:   utils.Env("HARVEST_CRON", "0 0 6 * * *"),
		RunTimeout: utils.EnvDuration("HARVEST_TIMEOUT", 9*time.Minute),
		Logger:     logger,
	}

	if scheduleErr := SetupScheduler(ctx, app); scheduleErr != nil {
		logger.Fatal("Unable to set up harvest schedule", zap.Error(scheduleErr))
	}

	return app
}

// SetupScheduler registers the scheduled harvest. The scheduled path logs
// failures rather than crashing; the next tick retries from the last
// successfully advanced sync state.
func SetupScheduler(ctx context.Context, app *types.App) error {
	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := app.Cron.AddFunc(app.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, app.RunTimeout)
		defer cancel()

		summary, runErr := app.Runner.Run(rctx, harvest.Options{})
		if runErr != nil {
			app.Logger.Error("Scheduled harvest failed", zap.Error(runErr))
			return
		}
		app.Logger.Info("Scheduled harvest complete",
			zap.Int("new_items", summary.NewItems))
	})
	return err
}
