package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/aoi-gallery/provenance/pkg/utils"
)

// Contract addresses the tracked artist's catalog lives on. The genesis
// pieces were minted through OpenSea's shared storefront contracts, so they
// are tracked per token rather than per contract.
const (
	IssuerAddress      = "0x91f5914a70c1f5d9fae0408ae16f1c19758337eb"
	GenerativeContract = "0x0e6a70cb485ed3735fa2136e0d4adc4bf5456f93"
	OpenSeaEth         = "0x495f947276749ce646f68ac8c248420045cb7b5e"
	OpenSeaPolygon     = "0x2953399124f0cbb46d2cbacd8a89cf0599974963"
)

// GenesisType is the partition tag for the hand-curated genesis token set.
const GenesisType = "Genesis"

//go:embed collections.json
var defaultCollectionsJSON []byte

//go:embed genesis_nfts.json
var defaultGenesisJSON []byte

// Collection is the static per-collection configuration. Immutable for the
// process lifetime; adding a collection is a config change plus restart, and
// the sync state defaulting to never-synced makes the next run backfill it.
type Collection struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Chain         string `json:"chain"`
	Type          string `json:"type"`
	FetchMetadata bool   `json:"fetch_metadata"`
	FilterUnsold  bool   `json:"filter_unsold"`
}

// GenesisTarget is one hand-curated token on a shared storefront contract.
type GenesisTarget struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	Name         string `json:"name"`
	ImageURL     string `json:"image_url"`
}

// Chain returns the chain the target lives on, derived from its contract.
func (t GenesisTarget) Chain() string {
	if utils.NormalizeAddress(t.TokenAddress) == OpenSeaPolygon {
		return "polygon"
	}
	return "eth"
}

// Registry holds the loaded collection and genesis configuration.
type Registry struct {
	collections []Collection
	genesis     []GenesisTarget
	byType      map[string]Collection
}

// Load reads the collection list and genesis token list. Empty paths fall
// back to the embedded defaults.
func Load(collectionsPath, genesisPath string) (*Registry, error) {
	colBytes := defaultCollectionsJSON
	if collectionsPath != "" {
		b, err := os.ReadFile(collectionsPath)
		if err != nil {
			return nil, fmt.Errorf("read collections config: %w", err)
		}
		colBytes = b
	}

	genBytes := defaultGenesisJSON
	if genesisPath != "" {
		b, err := os.ReadFile(genesisPath)
		if err != nil {
			return nil, fmt.Errorf("read genesis config: %w", err)
		}
		genBytes = b
	}

	var collections []Collection
	if err := json.Unmarshal(colBytes, &collections); err != nil {
		return nil, fmt.Errorf("parse collections config: %w", err)
	}

	var genesis []GenesisTarget
	if err := json.Unmarshal(genBytes, &genesis); err != nil {
		return nil, fmt.Errorf("parse genesis config: %w", err)
	}

	byType := make(map[string]Collection, len(collections))
	for i := range collections {
		c := &collections[i]
		c.Address = utils.NormalizeAddress(c.Address)
		if c.Name == "" || c.Address == "" || c.Type == "" {
			return nil, fmt.Errorf("collection %d: name, address and type are required", i)
		}
		if c.Chain == "" {
			c.Chain = "eth"
		}
		if _, dup := byType[c.Type]; dup {
			return nil, fmt.Errorf("duplicate collection type %q", c.Type)
		}
		byType[c.Type] = *c
	}

	return &Registry{collections: collections, genesis: genesis, byType: byType}, nil
}

// Collections returns the configured collections in config order.
func (r *Registry) Collections() []Collection {
	return r.collections
}

// Genesis returns the hand-curated genesis token list.
func (r *Registry) Genesis() []GenesisTarget {
	return r.genesis
}

// ByType looks a collection up by its partition tag.
func (r *Registry) ByType(collectionType string) (Collection, bool) {
	c, ok := r.byType[collectionType]
	return c, ok
}

// HasType reports whether a collection type is configured.
func (r *Registry) HasType(collectionType string) bool {
	_, ok := r.byType[collectionType]
	return ok
}

// IsSharedContract reports whether the address is one of OpenSea's shared
// storefront contracts, where token ids from many issuers interleave.
func IsSharedContract(address string) bool {
	switch utils.NormalizeAddress(address) {
	case OpenSeaEth, OpenSeaPolygon:
		return true
	}
	return false
}

// IssuerFromTokenID extracts the minter address embedded in the high 160 bits
// of an OpenSea shared-storefront token id. The storefront packs
// (creator address << 96 | item index << 40 | supply) into the 256-bit id, so
// shifting off the low 96 bits recovers who actually issued the token.
func IssuerFromTokenID(tokenID string) (string, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok {
		return "", fmt.Errorf("token id %q is not a decimal integer", tokenID)
	}
	issuer := new(big.Int).Rsh(n, 96)
	return fmt.Sprintf("0x%040x", issuer), nil
}

// IssuedBy reports whether a shared-contract token id was minted by the given
// issuer. Non-shared contracts are implicitly trusted since the whole
// contract belongs to the issuer.
func IssuedBy(target GenesisTarget, issuer string) bool {
	if !IsSharedContract(target.TokenAddress) {
		return true
	}
	got, err := IssuerFromTokenID(target.TokenID)
	if err != nil {
		return false
	}
	return got == utils.NormalizeAddress(issuer)
}
