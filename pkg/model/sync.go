package model

import "time"

// SyncState is the singleton high-water-mark document. A collection absent
// from Collections has never been synced and starts from EpochStart.
type SyncState struct {
	Collections map[string]time.Time `bson:"collections" json:"collections"`
	Genesis     time.Time            `bson:"genesis" json:"genesis"`
}

// For returns the fetch-window start for a collection type.
func (s SyncState) For(collectionType string) time.Time {
	if t, ok := s.Collections[collectionType]; ok && !t.IsZero() {
		return t
	}
	return EpochStart
}

// GenesisSince returns the fetch-window start for the genesis token set.
func (s SyncState) GenesisSince() time.Time {
	if s.Genesis.IsZero() {
		return EpochStart
	}
	return s.Genesis
}

// Synced reports whether the collection has ever completed a run.
func (s SyncState) Synced(collectionType string) bool {
	t, ok := s.Collections[collectionType]
	return ok && !t.IsZero()
}
