package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestRecordKey(t *testing.T) {
	r := Record{TokenID: "42", TransactionHash: "0xabc"}
	assert.Equal(t, "42:0xabc", r.Key())

	meta := Record{TokenID: "42", TransactionHash: MetadataHash("Generative", "42"), IsMetadata: true}
	assert.Equal(t, "42:metadata-Generative-42", meta.Key())

	// Refetching metadata for the same token always lands on the same key.
	again := Record{TokenID: "42", TransactionHash: MetadataHash("Generative", "42"), IsMetadata: true}
	assert.Equal(t, meta.Key(), again.Key())
}

func TestIsMint(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		expected bool
	}{
		{name: "zero address is a mint", from: ZeroAddress, expected: true},
		{name: "regular sender is not", from: "0x1111111111111111111111111111111111111111", expected: false},
		{name: "empty sender is not", from: "", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{FromAddress: tt.from}
			assert.Equal(t, tt.expected, r.IsMint())
		})
	}
}

func TestApplyUpdateMetadataDoesNotClobberTransferFields(t *testing.T) {
	var dst Record
	ApplyUpdate(&dst, Record{
		TokenID:           "7",
		TransactionHash:   "0xdead",
		BlockTimestamp:    "2023-01-01T00:00:00.000Z",
		FromAddress:       ZeroAddress,
		ToAddress:         "0xbeef",
		CollectionType:    "Generative",
		CollectionAddress: "0xc0ffee",
	})

	// A metadata record for the same token merges in custom fields only.
	meta := Record{
		TokenID:         "7",
		TransactionHash: MetadataHash("Generative", "7"),
		CollectionType:  "Generative",
		IsMetadata:      true,
		CustomImage:     strPtr("https://img/7.png"),
		CustomName:      strPtr("Piece #7"),
	}
	// Applied to its own document, not the transfer's; but the policy must
	// hold even if variants collide on a key.
	ApplyUpdate(&dst, meta)

	assert.Equal(t, "2023-01-01T00:00:00.000Z", dst.BlockTimestamp)
	assert.Equal(t, ZeroAddress, dst.FromAddress)
	assert.Equal(t, "0xbeef", dst.ToAddress)
	assert.Equal(t, "https://img/7.png", *dst.CustomImage)
	assert.Equal(t, "Piece #7", *dst.CustomName)
}

func TestApplyUpdateTransferKeepsMergedCustomFields(t *testing.T) {
	dst := Record{
		TokenID:         "7",
		TransactionHash: "0xdead",
		CollectionType:  "Generative",
		CustomImage:     strPtr("https://img/7.png"),
		CustomName:      strPtr("Piece #7"),
	}

	// A refetched transfer with no custom fields must not null them out.
	ApplyUpdate(&dst, Record{
		TokenID:         "7",
		TransactionHash: "0xdead",
		BlockTimestamp:  "2023-01-01T00:00:00.000Z",
		FromAddress:     "0xaaa",
		ToAddress:       "0xbbb",
		CollectionType:  "Generative",
	})

	assert.NotNil(t, dst.CustomImage)
	assert.Equal(t, "https://img/7.png", *dst.CustomImage)
	assert.Equal(t, "0xaaa", dst.FromAddress)
}

func TestSetFieldsMatchesApplyUpdate(t *testing.T) {
	transfer := Record{
		TokenID:         "9",
		TransactionHash: "0xfeed",
		BlockTimestamp:  "2023-02-02T00:00:00.000Z",
		FromAddress:     "0xaaa",
		ToAddress:       "0xbbb",
		CollectionType:  "Generative",
	}

	fields := transfer.SetFields()
	assert.NotContains(t, fields, "custom_image")
	assert.NotContains(t, fields, "custom_name")
	assert.NotContains(t, fields, "is_metadata")
	assert.Equal(t, "0xaaa", fields["from_address"])

	meta := Record{
		TokenID:         "9",
		TransactionHash: MetadataHash("Generative", "9"),
		CollectionType:  "Generative",
		IsMetadata:      true,
		CustomName:      strPtr("Piece #9"),
	}
	metaFields := meta.SetFields()
	assert.NotContains(t, metaFields, "from_address")
	assert.NotContains(t, metaFields, "block_timestamp")
	assert.Equal(t, true, metaFields["is_metadata"])
	assert.Equal(t, "Piece #9", metaFields["custom_name"])
}

func TestSyncStateDefaults(t *testing.T) {
	var state SyncState
	assert.Equal(t, EpochStart, state.For("Generative"))
	assert.Equal(t, EpochStart, state.GenesisSince())
	assert.False(t, state.Synced("Generative"))
}
