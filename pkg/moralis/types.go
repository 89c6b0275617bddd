package moralis

import "encoding/json"

// Transfer is one row of a transfer-list response.
type Transfer struct {
	TokenID         string `json:"token_id"`
	TransactionHash string `json:"transaction_hash"`
	BlockTimestamp  string `json:"block_timestamp"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
}

// TransferPage wraps a paginated transfer listing. An empty Cursor marks the
// final page.
type TransferPage struct {
	Result []Transfer `json:"result"`
	Cursor string     `json:"cursor"`
}

// Owner is one row of an owners response.
type Owner struct {
	OwnerOf string `json:"owner_of"`
	TokenID string `json:"token_id"`
}

// OwnerPage wraps an owners listing.
type OwnerPage struct {
	Result []Owner `json:"result"`
}

// NFTItem is a single-token metadata document. Metadata is a JSON string as
// returned upstream, not a decoded object.
type NFTItem struct {
	TokenID  string `json:"token_id"`
	OwnerOf  string `json:"owner_of"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
}

// ImageURL digs the image link out of the raw metadata string, if present.
func (n *NFTItem) ImageURL() string {
	if n.Metadata == "" {
		return ""
	}
	var meta struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal([]byte(n.Metadata), &meta); err != nil {
		return ""
	}
	return meta.Image
}
