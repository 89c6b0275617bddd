package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aoi-gallery/provenance/pkg/db"
	"github.com/aoi-gallery/provenance/pkg/model"
)

// Store is an in-memory db.Store used by unit tests and local development.
// Merge semantics mirror what the Mongo implementation produces through $set
// upserts (see model.SetFields / model.ApplyUpdate).
type Store struct {
	mu       sync.RWMutex
	log      map[string]model.Record
	sync     model.SyncState
	chunks   [][]model.Record
	manifest *model.Manifest
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{log: make(map[string]model.Record)}
}

func (s *Store) MergeRecords(_ context.Context, records []model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, r := range records {
		key := r.Key()
		if existing, ok := s.log[key]; ok {
			model.ApplyUpdate(&existing, r)
			s.log[key] = existing
		} else {
			var fresh model.Record
			model.ApplyUpdate(&fresh, r)
			s.log[key] = fresh
			created++
		}
	}
	return created, nil
}

func (s *Store) AllRecords(_ context.Context) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0, len(s.log))
	for _, r := range s.log {
		out = append(out, r)
	}
	// Stable scan order, like reading documents sorted by id.
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) GetSyncState(_ context.Context) (model.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := model.SyncState{Genesis: s.sync.Genesis}
	if s.sync.Collections != nil {
		state.Collections = make(map[string]time.Time, len(s.sync.Collections))
		for k, v := range s.sync.Collections {
			state.Collections[k] = v
		}
	}
	return state, nil
}

func (s *Store) AdvanceSync(_ context.Context, collectionType string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sync.Collections == nil {
		s.sync.Collections = make(map[string]time.Time)
	}
	s.sync.Collections[collectionType] = t
	return nil
}

func (s *Store) AdvanceGenesisSync(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sync.Genesis = t
	return nil
}

func (s *Store) ResetSync(_ context.Context, collectionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if collectionType == db.ResetAll {
		s.sync = model.SyncState{}
		return nil
	}
	delete(s.sync.Collections, collectionType)
	return nil
}

func (s *Store) WriteSnapshot(_ context.Context, chunks [][]model.Record, updated time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([][]model.Record, len(chunks))
	for i, c := range chunks {
		copied[i] = append([]model.Record(nil), c...)
	}
	s.chunks = copied
	s.manifest = &model.Manifest{ChunkCount: len(chunks), LastUpdated: updated}
	return nil
}

func (s *Store) ReadSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.manifest == nil {
		return nil, nil
	}
	snap := &model.Snapshot{LastUpdated: s.manifest.LastUpdated, Nodes: []model.Record{}}
	for _, c := range s.chunks {
		snap.Nodes = append(snap.Nodes, c...)
	}
	return snap, nil
}

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }
