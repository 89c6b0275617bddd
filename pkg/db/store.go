package db

import (
	"context"
	"time"

	"github.com/aoi-gallery/provenance/pkg/model"
)

// MaxBatchOps bounds each bulk write to stay under the backing store's
// per-transaction operation limit.
const MaxBatchOps = 500

// ResetAll is the sentinel Reset argument that clears every high-water mark.
const ResetAll = "all"

// Store describes the durable state the pipeline depends on: the append/merge
// master log, the singleton sync-state document, and the chunked serving
// snapshot.
type Store interface {
	// --- Master log

	// MergeRecords upserts each record by its composite key with merge
	// semantics and returns how many documents were newly created.
	MergeRecords(ctx context.Context, records []model.Record) (int, error)
	// AllRecords scans the entire master log.
	AllRecords(ctx context.Context) ([]model.Record, error)

	// --- Sync state

	GetSyncState(ctx context.Context) (model.SyncState, error)
	AdvanceSync(ctx context.Context, collectionType string, t time.Time) error
	AdvanceGenesisSync(ctx context.Context, t time.Time) error
	// ResetSync clears one collection's high-water mark, or every mark
	// (including genesis) when given ResetAll.
	ResetSync(ctx context.Context, collectionType string) error

	// --- Serving snapshot

	// WriteSnapshot persists the chunks, removes surplus chunks left over
	// from a larger previous snapshot, and commits the manifest last.
	WriteSnapshot(ctx context.Context, chunks [][]model.Record, updated time.Time) error
	// ReadSnapshot reassembles the chunks in index order. Returns nil when
	// no snapshot has been written yet.
	ReadSnapshot(ctx context.Context) (*model.Snapshot, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
