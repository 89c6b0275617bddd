package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/model"
)

// MergeRecords upserts every record by its composite key, $set-merging only
// the fields the record's variant carries. Re-ingesting an overlapping fetch
// window therefore rewrites the same documents instead of duplicating them,
// and never erases fields another variant merged in.
func (s *Store) MergeRecords(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	created := 0
	for start := 0; start < len(records); start += db.MaxBatchOps {
		end := start + db.MaxBatchOps
		if end > len(records) {
			end = len(records)
		}

		writes := make([]mongo.WriteModel, 0, end-start)
		for _, r := range records[start:end] {
			set := bson.M{}
			for k, v := range r.SetFields() {
				set[k] = v
			}
			writes = append(writes, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": r.Key()}).
				SetUpdate(bson.M{"$set": set}).
				SetUpsert(true))
		}

		res, err := s.masterLog().BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return created, fmt.Errorf("master log bulk write: %w", err)
		}
		created += int(res.UpsertedCount)
	}

	s.Logger.Debug("Merged records into master log",
		zap.Int("records", len(records)),
		zap.Int("created", created))

	return created, nil
}

// AllRecords scans the whole master log in id order. The log is bounded (a
// few thousand documents), so a full scan per run is acceptable and keeps the
// snapshot a pure function of the log.
func (s *Store) AllRecords(ctx context.Context) ([]model.Record, error) {
	cur, err := s.masterLog().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("master log scan: %w", err)
	}
	var records []model.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("master log decode: %w", err)
	}
	return records, nil
}
