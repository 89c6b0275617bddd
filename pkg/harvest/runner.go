package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/aggregate"
	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/ingest"
	"github.com/aoi-gallery/provenance/pkg/model"
	"github.com/aoi-gallery/provenance/pkg/registry"
)

// ErrRunInProgress is returned when a run is requested while another is
// active. Overlapping runs are merely wasteful thanks to idempotent merge,
// but there is no reason to pay for a duplicate full aggregation.
var ErrRunInProgress = errors.New("harvest run already in progress")

// ErrMissingAPIKey aborts a run before any network call is made.
var ErrMissingAPIKey = errors.New("indexing API key is not configured")

// Options tunes a single run.
type Options struct {
	// Reset clears one collection's high-water mark (by type) or every mark
	// (db.ResetAll) before fetching, forcing a full re-fetch.
	Reset string
}

// Summary is the run report returned to the trigger endpoint.
type Summary struct {
	Success       bool              `json:"success"`
	NewItems      int               `json:"new_items"`
	Breakdown     map[string]int    `json:"breakdown"`
	SyncDatesUsed map[string]string `json:"sync_dates_used"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Runner drives one harvest: ingest each collection since its high-water
// mark, merge into the master log, advance sync marks, then regenerate the
// serving snapshot from the full log.
type Runner struct {
	Logger    *zap.Logger
	Store     db.Store
	Registry  *registry.Registry
	Ingest    *ingest.Engine
	Aggregate *aggregate.Engine

	running atomic.Bool
}

// Run executes one full harvest. Collection-local failures (a transfer fetch
// that exhausted its retries, a single token's metadata) are logged and
// skipped; configuration and persistence failures abort the run with sync
// state left where it was.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	if !r.Ingest.Client.HasKey() {
		return nil, ErrMissingAPIKey
	}

	if opts.Reset != "" {
		if opts.Reset != db.ResetAll && !r.Registry.HasType(opts.Reset) {
			return nil, fmt.Errorf("unknown collection type %q in reset directive", opts.Reset)
		}
		if err := r.Store.ResetSync(ctx, opts.Reset); err != nil {
			return nil, err
		}
		r.Logger.Info("Sync state reset", zap.String("scope", opts.Reset))
	}

	state, err := r.Store.GetSyncState(ctx)
	if err != nil {
		return nil, err
	}

	// The new high-water mark. Events landing after this instant are the
	// next run's problem; re-fetching the boundary is safe either way.
	runStart := time.Now().UTC()

	summary := &Summary{
		Breakdown:     map[string]int{},
		SyncDatesUsed: map[string]string{},
	}

	for _, cfg := range orderCollections(r.Registry.Collections(), state) {
		since := state.For(cfg.Type)
		summary.SyncDatesUsed[cfg.Type] = since.Format(time.RFC3339)

		records, fetchErr := r.Ingest.FetchCollection(ctx, cfg, since)
		if fetchErr != nil {
			// Abandon this collection for the run; its mark stays put so the
			// next run retries the same window.
			r.Logger.Error("Collection fetch failed, skipping for this run",
				zap.String("collection", cfg.Type),
				zap.Error(fetchErr))
			continue
		}

		if cfg.FetchMetadata {
			meta := r.Ingest.FetchMetadata(ctx, cfg, ingest.TokenIDs(records))
			records = append(records, meta...)
		}

		created, mergeErr := r.Store.MergeRecords(ctx, records)
		if mergeErr != nil {
			return nil, fmt.Errorf("merge %s: %w", cfg.Type, mergeErr)
		}
		if err := r.Store.AdvanceSync(ctx, cfg.Type, runStart); err != nil {
			return nil, err
		}

		summary.Breakdown[cfg.Type] = len(records)
		summary.NewItems += created
	}

	if targets := r.Registry.Genesis(); len(targets) > 0 {
		since := state.GenesisSince()
		summary.SyncDatesUsed[registry.GenesisType] = since.Format(time.RFC3339)

		records, genErr := r.Ingest.FetchGenesis(ctx, targets, since)
		created, mergeErr := r.Store.MergeRecords(ctx, records)
		if mergeErr != nil {
			return nil, fmt.Errorf("merge genesis: %w", mergeErr)
		}
		if genErr != nil {
			// Partial set: the mark stays put so the next run re-fetches the
			// whole window instead of losing the failed tokens behind it.
			r.Logger.Error("Genesis fetch incomplete, keeping previous mark", zap.Error(genErr))
		} else if err := r.Store.AdvanceGenesisSync(ctx, runStart); err != nil {
			return nil, err
		}

		summary.Breakdown[registry.GenesisType] = len(records)
		summary.NewItems += created
	}

	if _, err := r.Aggregate.Rebuild(ctx, runStart); err != nil {
		return nil, err
	}

	summary.Success = true
	summary.UpdatedAt = runStart

	r.Logger.Info("Harvest run complete",
		zap.Int("new_items", summary.NewItems),
		zap.Any("breakdown", summary.Breakdown))

	return summary, nil
}

// orderCollections puts never-synced collections first so a freshly added
// collection backfills before incremental collections top up. Order is
// otherwise stable on config order.
func orderCollections(cols []registry.Collection, state model.SyncState) []registry.Collection {
	ordered := append([]registry.Collection(nil), cols...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !state.Synced(ordered[i].Type) && state.Synced(ordered[j].Type)
	})
	return ordered
}
