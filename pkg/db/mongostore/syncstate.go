package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/model"
)

// GetSyncState reads the singleton high-water-mark document. A missing
// document means nothing has ever synced and every window starts from the
// epoch default.
func (s *Store) GetSyncState(ctx context.Context) (model.SyncState, error) {
	var state model.SyncState
	err := s.state().FindOne(ctx, bson.M{"_id": syncStateID}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.SyncState{}, nil
	}
	if err != nil {
		return model.SyncState{}, fmt.Errorf("read sync state: %w", err)
	}
	return state, nil
}

// AdvanceSync moves one collection's high-water mark. Called only after that
// collection's fetch and merge completed without a fatal error.
func (s *Store) AdvanceSync(ctx context.Context, collectionType string, t time.Time) error {
	_, err := s.state().UpdateOne(ctx,
		bson.M{"_id": syncStateID},
		bson.M{"$set": bson.M{"collections." + collectionType: t.UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("advance sync %s: %w", collectionType, err)
	}
	return nil
}

// AdvanceGenesisSync moves the genesis token set's high-water mark.
func (s *Store) AdvanceGenesisSync(ctx context.Context, t time.Time) error {
	_, err := s.state().UpdateOne(ctx,
		bson.M{"_id": syncStateID},
		bson.M{"$set": bson.M{"genesis": t.UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("advance genesis sync: %w", err)
	}
	return nil
}

// ResetSync clears one collection's mark, or the whole document for
// db.ResetAll, forcing a full re-fetch on the next run.
func (s *Store) ResetSync(ctx context.Context, collectionType string) error {
	if collectionType == db.ResetAll {
		if _, err := s.state().DeleteOne(ctx, bson.M{"_id": syncStateID}); err != nil {
			return fmt.Errorf("reset sync state: %w", err)
		}
		return nil
	}

	_, err := s.state().UpdateOne(ctx,
		bson.M{"_id": syncStateID},
		bson.M{"$unset": bson.M{"collections." + collectionType: ""}})
	if err != nil {
		return fmt.Errorf("reset sync %s: %w", collectionType, err)
	}
	return nil
}
