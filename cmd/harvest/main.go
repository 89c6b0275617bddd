package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/app/server"
	"github.com/aoi-gallery/provenance/pkg/harvest"
)

// One-shot harvest run, for manual invocation and backfills.
func main() {
	reset := flag.String("reset", "", "clear sync state for one collection type, or 'all'")
	flag.Parse()

	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := server.Initialize(ctx)

	runCtx, runCancel := context.WithTimeout(ctx, app.RunTimeout)
	defer runCancel()

	summary, err := app.Runner.Run(runCtx, harvest.Options{Reset: *reset})
	if err != nil {
		app.Logger.Fatal("Harvest run failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
}
