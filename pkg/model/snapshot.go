package model

import "time"

// Snapshot is the assembled serving view: every chunk's nodes concatenated in
// index order. This is what the read endpoint returns to the visualizer.
type Snapshot struct {
	Nodes       []Record  `json:"nodes"`
	LastUpdated time.Time `json:"last_updated"`
}

// Manifest describes a written snapshot. It is committed only after every
// chunk write succeeded, so a reader either sees a complete new snapshot or a
// stale-but-complete previous one.
type Manifest struct {
	ChunkCount  int       `bson:"chunk_count" json:"chunk_count"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`
}

// Chunk is one size-bounded slice of the serving snapshot.
type Chunk struct {
	Index int      `bson:"index" json:"index"`
	Nodes []Record `bson:"nodes" json:"nodes"`
}
