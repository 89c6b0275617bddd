package model

import (
	"fmt"
	"time"
)

// ZeroAddress is the mint sentinel: a transfer from this address is a mint.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// EpochStart is the fetch-window floor for collections that have never been
// synced. Predates every tracked contract, so a first run backfills everything.
var EpochStart = time.Date(2015, 7, 30, 0, 0, 0, 0, time.UTC)

// GenesisFallbackTimestamp is assigned to pseudo-transfers synthesized from an
// owner lookup when a genesis token has no transfer history reachable through
// the indexing API. Placeholder policy, not the actual mint time.
const GenesisFallbackTimestamp = "2022-01-01T00:00:00.000Z"

// Record is the tagged union stored in the master log. IsMetadata is the
// discriminator: false means the record is a transfer event (token_id,
// transaction_hash, block_timestamp, from/to, collection tags, optional custom
// fields), true means it is a metadata record (token_id, collection_type,
// custom image/name) whose synthetic transaction hash makes refetches
// overwrite rather than accumulate.
type Record struct {
	TokenID         string `bson:"token_id" json:"token_id"`
	TransactionHash string `bson:"transaction_hash" json:"transaction_hash"`
	BlockTimestamp  string `bson:"block_timestamp,omitempty" json:"block_timestamp,omitempty"`
	FromAddress     string `bson:"from_address,omitempty" json:"from_address,omitempty"`
	ToAddress       string `bson:"to_address,omitempty" json:"to_address,omitempty"`

	CollectionType    string `bson:"collection_type" json:"collection_type"`
	CollectionAddress string `bson:"collection_address,omitempty" json:"collection_address,omitempty"`

	CustomImage *string `bson:"custom_image,omitempty" json:"custom_image,omitempty"`
	CustomName  *string `bson:"custom_name,omitempty" json:"custom_name,omitempty"`

	IsGenesisTarget bool `bson:"is_genesis_target,omitempty" json:"is_genesis_target,omitempty"`
	IsMetadata      bool `bson:"is_metadata,omitempty" json:"is_metadata,omitempty"`
}

// Key returns the composite identity used as the store document id. Writing
// the same (token, transaction) pair twice always hits the same document.
func (r Record) Key() string {
	return r.TokenID + ":" + r.TransactionHash
}

// MetadataHash builds the synthetic transaction hash for a metadata record so
// it occupies a stable slot in the master log.
func MetadataHash(collectionType, tokenID string) string {
	return fmt.Sprintf("metadata-%s-%s", collectionType, tokenID)
}

// IsMint reports whether the transfer originates from the zero address.
func (r Record) IsMint() bool {
	return r.FromAddress == ZeroAddress
}

// SetFields returns the field set a merge write applies for this record.
// Fields absent from the map are left untouched in the store, which is what
// keeps re-ingestion of an overlapping window from clobbering data merged in
// by other record variants (a refetched transfer must not null out a custom
// image a metadata record supplied earlier).
//
// memstore.ApplyUpdate mirrors this policy; the two must agree.
func (r Record) SetFields() map[string]any {
	m := map[string]any{
		"token_id":         r.TokenID,
		"transaction_hash": r.TransactionHash,
		"collection_type":  r.CollectionType,
	}
	if r.IsMetadata {
		m["is_metadata"] = true
		if r.CustomImage != nil {
			m["custom_image"] = *r.CustomImage
		}
		if r.CustomName != nil {
			m["custom_name"] = *r.CustomName
		}
		return m
	}

	m["block_timestamp"] = r.BlockTimestamp
	m["from_address"] = r.FromAddress
	m["to_address"] = r.ToAddress
	m["collection_address"] = r.CollectionAddress
	if r.IsGenesisTarget {
		m["is_genesis_target"] = true
	}
	if r.CustomImage != nil {
		m["custom_image"] = *r.CustomImage
	}
	if r.CustomName != nil {
		m["custom_name"] = *r.CustomName
	}
	return m
}

// ApplyUpdate merges src into dst with the same semantics SetFields produces
// through a $set upsert. Used by the in-memory store and by tests.
func ApplyUpdate(dst *Record, src Record) {
	dst.TokenID = src.TokenID
	dst.TransactionHash = src.TransactionHash
	dst.CollectionType = src.CollectionType

	if src.IsMetadata {
		dst.IsMetadata = true
		if src.CustomImage != nil {
			dst.CustomImage = src.CustomImage
		}
		if src.CustomName != nil {
			dst.CustomName = src.CustomName
		}
		return
	}

	dst.BlockTimestamp = src.BlockTimestamp
	dst.FromAddress = src.FromAddress
	dst.ToAddress = src.ToAddress
	dst.CollectionAddress = src.CollectionAddress
	if src.IsGenesisTarget {
		dst.IsGenesisTarget = true
	}
	if src.CustomImage != nil {
		dst.CustomImage = src.CustomImage
	}
	if src.CustomName != nil {
		dst.CustomName = src.CustomName
	}
}
