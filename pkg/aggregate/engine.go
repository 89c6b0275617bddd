package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/model"
	"github.com/aoi-gallery/provenance/pkg/registry"
)

// MaxChunkBytes is the serialized-size ceiling for a single snapshot chunk,
// kept safely under the backing store's 1MB per-document limit.
const MaxChunkBytes = 900_000

// Engine rebuilds the serving snapshot from the full master log. No
// incremental aggregation state exists: the snapshot is always a
// deterministic function of the log's current contents plus the collection
// filter rules, so a crashed aggregation is fully repaired by the next run.
type Engine struct {
	Logger   *zap.Logger
	Store    db.Store
	Registry *registry.Registry

	// MaxChunkBytes overrides the chunk ceiling; zero means the default.
	MaxChunkBytes int
}

// Result summarizes one rebuild.
type Result struct {
	Nodes  int
	Chunks int
}

func (e *Engine) chunkCeiling() int {
	if e.MaxChunkBytes > 0 {
		return e.MaxChunkBytes
	}
	return MaxChunkBytes
}

// Rebuild scans the master log, merges metadata into transfer events, applies
// the unsold-token filter, and writes the size-bounded chunked snapshot.
func (e *Engine) Rebuild(ctx context.Context, updated time.Time) (Result, error) {
	records, err := e.Store.AllRecords(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate scan: %w", err)
	}

	nodes := BuildNodes(records, e.Registry)

	chunks, err := SplitChunks(nodes, e.chunkCeiling())
	if err != nil {
		return Result{}, err
	}

	if err := e.Store.WriteSnapshot(ctx, chunks, updated); err != nil {
		return Result{}, fmt.Errorf("aggregate write: %w", err)
	}

	e.Logger.Info("Serving snapshot regenerated",
		zap.Int("log_records", len(records)),
		zap.Int("nodes", len(nodes)),
		zap.Int("chunks", len(chunks)))

	return Result{Nodes: len(nodes), Chunks: len(chunks)}, nil
}

// BuildNodes derives the ordered serving node list from raw master-log
// records. Pure function; given the same log and registry it always returns
// the same list in the same order.
func BuildNodes(records []model.Record, reg *registry.Registry) []model.Record {
	// Partition the tagged union and index metadata by (collection, token).
	type metaKey struct{ collectionType, tokenID string }
	metadata := make(map[metaKey]model.Record)
	var transfers []model.Record
	for _, r := range records {
		if r.IsMetadata {
			metadata[metaKey{r.CollectionType, r.TokenID}] = r
		} else {
			transfers = append(transfers, r)
		}
	}

	// Backfill custom fields from metadata where the event lacks them.
	for i := range transfers {
		t := &transfers[i]
		if t.CustomImage != nil && t.CustomName != nil {
			continue
		}
		meta, ok := metadata[metaKey{t.CollectionType, t.TokenID}]
		if !ok {
			continue
		}
		if t.CustomImage == nil && meta.CustomImage != nil {
			t.CustomImage = meta.CustomImage
		}
		if t.CustomName == nil && meta.CustomName != nil {
			t.CustomName = meta.CustomName
		}
	}

	// Unsold filter: for flagged collections, a token that was only ever
	// minted (no event with a non-zero sender) is dropped entirely. A token
	// with any onward transfer keeps all of its events, mint included.
	sold := make(map[metaKey]bool)
	for _, t := range transfers {
		if !t.IsMint() {
			sold[metaKey{t.CollectionType, t.TokenID}] = true
		}
	}

	nodes := make([]model.Record, 0, len(transfers))
	for _, t := range transfers {
		if cfg, ok := reg.ByType(t.CollectionType); ok && cfg.FilterUnsold {
			if !sold[metaKey{t.CollectionType, t.TokenID}] {
				continue
			}
		}
		nodes = append(nodes, t)
	}

	// Order-stable output: chronological, tie-broken by identity. ISO8601
	// timestamps compare correctly as strings.
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.BlockTimestamp != b.BlockTimestamp {
			return a.BlockTimestamp < b.BlockTimestamp
		}
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		return a.TransactionHash < b.TransactionHash
	})

	return nodes
}

// SplitChunks divides the node list into contiguous, order-preserving slices
// whose serialized size fits under the ceiling. The split point carries no
// meaning beyond size. An empty node list still yields one (empty) chunk so
// the manifest always names at least one document.
func SplitChunks(nodes []model.Record, ceiling int) ([][]model.Record, error) {
	encoded, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("estimate snapshot size: %w", err)
	}

	chunkCount := (len(encoded) + ceiling - 1) / ceiling
	if chunkCount < 1 {
		chunkCount = 1
	}
	if chunkCount > len(nodes) && len(nodes) > 0 {
		chunkCount = len(nodes)
	}

	chunks := make([][]model.Record, 0, chunkCount)
	per := (len(nodes) + chunkCount - 1) / chunkCount
	for start := 0; start < len(nodes); start += per {
		end := start + per
		if end > len(nodes) {
			end = len(nodes)
		}
		chunks = append(chunks, nodes[start:end])
	}
	for len(chunks) < chunkCount {
		chunks = append(chunks, []model.Record{})
	}
	if len(chunks) == 0 {
		chunks = append(chunks, []model.Record{})
	}
	return chunks, nil
}
