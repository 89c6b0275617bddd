package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/model"
	"github.com/aoi-gallery/provenance/pkg/moralis"
	"github.com/aoi-gallery/provenance/pkg/registry"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

// Engine fetches transfer and metadata records from the indexing client and
// normalizes them into master-log records. It is stateless: the caller owns
// sync state and persistence.
type Engine struct {
	Logger *zap.Logger
	Client *moralis.Client

	// MetadataWorkers bounds the metadata fetch pool. The client's token
	// bucket still paces the actual requests.
	MetadataWorkers int
}

// FetchCollection pages through a collection's transfer history starting at
// the given high-water mark and returns the normalized records. Any page
// failure (after the client's own retries) aborts this collection's fetch;
// partial results are discarded so the caller leaves the sync time untouched
// and the next run re-fetches the same window.
func (e *Engine) FetchCollection(ctx context.Context, cfg registry.Collection, since time.Time) ([]model.Record, error) {
	var records []model.Record
	cursor := ""
	pages := 0

	for {
		page, err := e.Client.ListTransfers(ctx, cfg.Address, cfg.Chain, since, cursor)
		if err != nil {
			return nil, err
		}
		pages++

		for _, t := range page.Result {
			records = append(records, normalizeTransfer(t, cfg))
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	e.Logger.Info("Fetched collection transfers",
		zap.String("collection", cfg.Type),
		zap.Time("since", since),
		zap.Int("pages", pages),
		zap.Int("records", len(records)))

	return records, nil
}

// normalizeTransfer maps an upstream transfer row onto a master-log record,
// tagging it with the collection's partition key and address. Missing
// upstream fields become explicit empty strings so a later merge never
// silently drops them.
func normalizeTransfer(t moralis.Transfer, cfg registry.Collection) model.Record {
	return model.Record{
		TokenID:           t.TokenID,
		TransactionHash:   t.TransactionHash,
		BlockTimestamp:    t.BlockTimestamp,
		FromAddress:       utils.NormalizeAddress(t.FromAddress),
		ToAddress:         utils.NormalizeAddress(t.ToAddress),
		CollectionType:    cfg.Type,
		CollectionAddress: cfg.Address,
	}
}

// TokenIDs returns the unique token ids observed in a batch of transfer
// records, in first-seen order. Drives the per-run metadata fetch set.
func TokenIDs(records []model.Record) []string {
	seen := make(map[string]bool, len(records))
	var ids []string
	for _, r := range records {
		if r.IsMetadata || seen[r.TokenID] {
			continue
		}
		seen[r.TokenID] = true
		ids = append(ids, r.TokenID)
	}
	return ids
}
