package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/app/server/types"
	"github.com/aoi-gallery/provenance/pkg/aggregate"
	"github.com/aoi-gallery/provenance/pkg/db/memstore"
	"github.com/aoi-gallery/provenance/pkg/harvest"
	"github.com/aoi-gallery/provenance/pkg/ingest"
	"github.com/aoi-gallery/provenance/pkg/model"
	"github.com/aoi-gallery/provenance/pkg/moralis"
	"github.com/aoi-gallery/provenance/pkg/registry"
	"github.com/aoi-gallery/provenance/pkg/retry"
)

func testController(t *testing.T, upstream *httptest.Server, store *memstore.Store) *Controller {
	t.Helper()

	reg, err := registry.Load("", "")
	require.NoError(t, err)

	baseURL := "http://127.0.0.1:0"
	if upstream != nil {
		baseURL = upstream.URL
	}
	client := moralis.New(zap.NewNop(), moralis.Opts{
		BaseURL: baseURL,
		APIKey:  "test-key",
		RPS:     1000,
		Burst:   1000,
		Retry: &retry.Config{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1.0,
		},
	})

	eng := &ingest.Engine{Logger: zap.NewNop(), Client: client}
	app := &types.App{
		Store:    store,
		Moralis:  client,
		Registry: reg,
		Runner: &harvest.Runner{
			Logger:    zap.NewNop(),
			Store:     store,
			Registry:  reg,
			Ingest:    eng,
			Aggregate: &aggregate.Engine{Logger: zap.NewNop(), Store: store, Registry: reg},
		},
		RunTimeout: 5 * time.Second,
		Logger:     zap.NewNop(),
	}
	return &Controller{App: app}
}

func TestHandleHealth(t *testing.T) {
	c := testController(t, nil, memstore.New())

	rec := httptest.NewRecorder()
	c.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandleSnapshotNotReady(t *testing.T) {
	c := testController(t, nil, memstore.New())

	rec := httptest.NewRecorder()
	c.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/nfts", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"), "a 404 must not be cacheable")
}

func TestHandleSnapshotReassemblesChunks(t *testing.T) {
	store := memstore.New()
	updated := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	chunks := [][]model.Record{
		{{TokenID: "1", TransactionHash: "0xa", CollectionType: "Generative"}},
		{{TokenID: "2", TransactionHash: "0xb", CollectionType: "Generative"}},
	}
	require.NoError(t, store.WriteSnapshot(context.Background(), chunks, updated))

	c := testController(t, nil, store)
	rec := httptest.NewRecorder()
	c.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/nfts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, "1", snap.Nodes[0].TokenID)
	assert.Equal(t, "2", snap.Nodes[1].TokenID)
}

func TestHandleHarvestRequiresToken(t *testing.T) {
	c := testController(t, nil, memstore.New())
	c.AdminToken = "secret"

	rec := httptest.NewRecorder()
	c.HandleHarvest(rec, httptest.NewRequest(http.MethodPost, "/api/harvest", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/harvest", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	c.HandleHarvest(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleHarvestRunsAndReportsSummary(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/transfers") && strings.Contains(r.URL.Path, registry.GenerativeContract):
			fmt.Fprint(w, `{"result":[{"token_id":"1","transaction_hash":"0xa","block_timestamp":"2023-01-01T00:00:00.000Z","from_address":"0xaaa","to_address":"0xbbb"}],"cursor":""}`)
		case strings.HasSuffix(r.URL.Path, "/transfers"):
			fmt.Fprint(w, `{"result":[],"cursor":""}`)
		case strings.HasSuffix(r.URL.Path, "/owners"):
			fmt.Fprint(w, `{"result":[{"owner_of":"0xholder"}]}`)
		default:
			fmt.Fprint(w, `{"token_id":"1","name":"Piece One","metadata":""}`)
		}
	}))
	defer upstream.Close()

	c := testController(t, upstream, memstore.New())
	rec := httptest.NewRecorder()
	c.HandleHarvest(rec, httptest.NewRequest(http.MethodPost, "/api/harvest", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary harvest.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.Success)
	assert.Contains(t, summary.Breakdown, "Generative")
}

func TestHandleProxyRejectsUnsafeEndpoints(t *testing.T) {
	c := testController(t, nil, memstore.New())

	for _, endpoint := range []string{"/account/0xabc", "/nft/../admin", "nft/0xabc/1"} {
		body := strings.NewReader(fmt.Sprintf(`{"endpoint":%q}`, endpoint))
		rec := httptest.NewRecorder()
		c.HandleProxy(rec, httptest.NewRequest(http.MethodPost, "/api/proxy", body))
		assert.Equalf(t, http.StatusForbidden, rec.Code, "endpoint %q must be rejected", endpoint)
	}
}

func TestHandleProxyForwardsSafelistedEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nft/0xcontract/1", r.URL.Path)
		assert.Equal(t, "eth", r.URL.Query().Get("chain"))
		fmt.Fprint(w, `{"token_id":"1","name":"Piece One"}`)
	}))
	defer upstream.Close()

	c := testController(t, upstream, memstore.New())

	body := strings.NewReader(`{"endpoint":"/nft/0xcontract/1","params":{"chain":"eth"}}`)
	rec := httptest.NewRecorder()
	c.HandleProxy(rec, httptest.NewRequest(http.MethodPost, "/api/proxy", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"token_id":"1","name":"Piece One"}`, rec.Body.String())
}

func TestHandleProxyRejectsMalformedBody(t *testing.T) {
	c := testController(t, nil, memstore.New())

	rec := httptest.NewRecorder()
	c.HandleProxy(rec, httptest.NewRequest(http.MethodPost, "/api/proxy", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithCORSPreflight(t *testing.T) {
	handler := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the inner handler")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/nfts", nil)
	req.Header.Set("Origin", "https://gallery.example")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://gallery.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Token")
}
