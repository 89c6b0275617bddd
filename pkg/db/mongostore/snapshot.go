package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/model"
)

type chunkDoc struct {
	ID    string         `bson:"_id"`
	Kind  string         `bson:"kind"`
	Index int            `bson:"index"`
	Nodes []model.Record `bson:"nodes"`
}

// WriteSnapshot replaces the serving snapshot. Ordering matters for crash
// safety: all chunk documents are written first, surplus chunks from a larger
// previous snapshot are removed, and the manifest is committed last. A crash
// anywhere before the manifest write leaves readers on the previous complete
// manifest.
func (s *Store) WriteSnapshot(ctx context.Context, chunks [][]model.Record, updated time.Time) error {
	writes := make([]mongo.WriteModel, 0, len(chunks))
	for i, nodes := range chunks {
		doc := chunkDoc{
			ID:    fmt.Sprintf("chunk-%d", i),
			Kind:  "chunk",
			Index: i,
			Nodes: nodes,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	for start := 0; start < len(writes); start += db.MaxBatchOps {
		end := start + db.MaxBatchOps
		if end > len(writes) {
			end = len(writes)
		}
		if _, err := s.snapshot().BulkWrite(ctx, writes[start:end], options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("snapshot chunk write: %w", err)
		}
	}

	if _, err := s.snapshot().DeleteMany(ctx, bson.M{"kind": "chunk", "index": bson.M{"$gte": len(chunks)}}); err != nil {
		return fmt.Errorf("snapshot chunk cleanup: %w", err)
	}

	manifest := bson.M{
		"_id":          manifestID,
		"chunk_count":  len(chunks),
		"last_updated": updated.UTC(),
	}
	if _, err := s.snapshot().ReplaceOne(ctx, bson.M{"_id": manifestID}, manifest, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("snapshot manifest write: %w", err)
	}

	s.Logger.Info("Snapshot written",
		zap.Int("chunks", len(chunks)),
		zap.Time("last_updated", updated))

	return nil
}

// ReadSnapshot reassembles the chunks named by the manifest, in index order.
func (s *Store) ReadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var manifest model.Manifest
	err := s.snapshot().FindOne(ctx, bson.M{"_id": manifestID}).Decode(&manifest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot manifest: %w", err)
	}

	cur, err := s.snapshot().Find(ctx,
		bson.M{"kind": "chunk", "index": bson.M{"$lt": manifest.ChunkCount}},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("read snapshot chunks: %w", err)
	}

	var docs []chunkDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode snapshot chunks: %w", err)
	}
	if len(docs) != manifest.ChunkCount {
		return nil, fmt.Errorf("snapshot incomplete: manifest names %d chunks, found %d", manifest.ChunkCount, len(docs))
	}

	snap := &model.Snapshot{LastUpdated: manifest.LastUpdated, Nodes: []model.Record{}}
	for _, d := range docs {
		snap.Nodes = append(snap.Nodes, d.Nodes...)
	}
	return snap, nil
}
