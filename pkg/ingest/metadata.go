package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/model"
	"github.com/aoi-gallery/provenance/pkg/registry"
)

const defaultMetadataWorkers = 4

func (e *Engine) metadataWorkers() int {
	if e.MetadataWorkers > 0 {
		return e.MetadataWorkers
	}
	return defaultMetadataWorkers
}

// FetchMetadata fetches one metadata record per token id through a bounded
// worker pool. Individual failures are logged and skipped; a token without
// metadata this run will be retried whenever it is observed again. The
// returned slice preserves the input id order.
func (e *Engine) FetchMetadata(ctx context.Context, cfg registry.Collection, tokenIDs []string) []model.Record {
	if len(tokenIDs) == 0 {
		return nil
	}

	pool := pond.NewPool(e.metadataWorkers())
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	results := xsync.NewMap[string, model.Record]()

	for _, id := range tokenIDs {
		tokenID := id
		group.Submit(func() {
			item, err := e.Client.TokenMetadata(ctx, cfg.Address, tokenID, cfg.Chain)
			if err != nil {
				e.Logger.Warn("Metadata fetch failed, skipping token",
					zap.String("collection", cfg.Type),
					zap.String("token_id", tokenID),
					zap.Error(err))
				return
			}

			rec := model.Record{
				TokenID:         tokenID,
				TransactionHash: model.MetadataHash(cfg.Type, tokenID),
				CollectionType:  cfg.Type,
				IsMetadata:      true,
			}
			if img := item.ImageURL(); img != "" {
				rec.CustomImage = &img
			}
			name := item.Name
			if name == "" {
				name = fmt.Sprintf("%s #%s", cfg.Name, tokenID)
			}
			rec.CustomName = &name

			results.Store(tokenID, rec)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.Logger.Warn("Metadata fetch group error", zap.String("collection", cfg.Type), zap.Error(err))
	}

	records := make([]model.Record, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if rec, ok := results.Load(id); ok {
			records = append(records, rec)
		}
	}

	e.Logger.Info("Fetched token metadata",
		zap.String("collection", cfg.Type),
		zap.Int("requested", len(tokenIDs)),
		zap.Int("fetched", len(records)))

	return records
}
