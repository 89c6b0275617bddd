package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

const (
	masterLogCollection = "master_log"
	stateCollection     = "state"
	snapshotCollection  = "snapshot"

	syncStateID = "sync_state"
	manifestID  = "manifest"
)

// Store is the MongoDB-backed db.Store. One database holds three
// collections: the master log (one document per record, keyed by the
// composite id), the singleton sync-state document, and the serving snapshot
// (manifest plus chunk documents).
type Store struct {
	Logger *zap.Logger

	client *mongo.Client
	dbase  *mongo.Database
}

var _ db.Store = (*Store)(nil)

// New connects to MongoDB using environment configuration:
//   - MONGO_URI: connection string (default "mongodb://localhost:27017")
//   - MONGO_DB: database name (default "provenance")
func New(ctx context.Context, logger *zap.Logger) (*Store, error) {
	uri := utils.Env("MONGO_URI", "mongodb://localhost:27017")
	dbName := utils.Env("MONGO_DB", "provenance")

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(utils.EnvInt("MONGO_MAX_POOL_SIZE", 10))).
		SetMinPoolSize(uint64(utils.EnvInt("MONGO_MIN_POOL_SIZE", 2)))

	client, err := mongo.Connect(connCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("db", dbName))

	return &Store{
		Logger: logger,
		client: client,
		dbase:  client.Database(dbName),
	}, nil
}

func (s *Store) masterLog() *mongo.Collection {
	return s.dbase.Collection(masterLogCollection)
}

func (s *Store) state() *mongo.Collection {
	return s.dbase.Collection(stateCollection)
}

func (s *Store) snapshot() *mongo.Collection {
	return s.dbase.Collection(snapshotCollection)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
