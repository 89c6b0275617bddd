package moralis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/retry"
)

func testRetry(maxRetries int) *retry.Config {
	return &retry.Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(zap.NewNop(), Opts{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		RPS:     1000,
		Burst:   1000,
		Retry:   testRetry(3),
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &HTTPError{Status: http.StatusTooManyRequests}, true},
		{"server error", &HTTPError{Status: http.StatusBadGateway}, true},
		{"not found", &HTTPError{Status: http.StatusNotFound}, false},
		{"unauthorized", &HTTPError{Status: http.StatusUnauthorized}, false},
		{"transport", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, true},
		{"wrapped http error", fmt.Errorf("fetch: %w", &HTTPError{Status: 500}), true},
		{"plain error", errors.New("decode failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestListTransfersSendsAuthAndWindow(t *testing.T) {
	var gotKey, gotFrom, gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotFrom = r.URL.Query().Get("from_date")
		gotCursor = r.URL.Query().Get("cursor")
		fmt.Fprint(w, `{"result":[{"token_id":"1","transaction_hash":"0xa"}],"cursor":""}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListTransfers(context.Background(), "0xcontract", "eth", from, "abc")
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2024-03-01T00:00:00Z", gotFrom)
	assert.Equal(t, "abc", gotCursor)
	require.Len(t, page.Result, 1)
	assert.Empty(t, page.Cursor)
}

func TestGetRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"result":[],"cursor":""}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.ListTransfers(context.Background(), "0xcontract", "eth", time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestGetExhaustsRetriesOnPersistent429(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.ListTransfers(context.Background(), "0xcontract", "eth", time.Time{}, "")
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load())

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Status)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.TokenMetadata(context.Background(), "0xcontract", "1", "eth")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenBucketNeverOverAdmits(t *testing.T) {
	c := New(zap.NewNop(), Opts{APIKey: "k", RPS: 1, Burst: 5})
	c.refillEvery = time.Hour // no refill during the test

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.tryAcquire() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly the burst allowance, no matter how the goroutines interleave.
	assert.Equal(t, int64(5), admitted.Load())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, int64(0), c.tokens)
}

func TestTokenBucketRefillCapsAtBurst(t *testing.T) {
	c := New(zap.NewNop(), Opts{APIKey: "k", RPS: 10, Burst: 3})
	c.tokens = 0
	c.lastRefill = time.Now().Add(-time.Minute)

	// A long idle period credits at most the burst size.
	assert.True(t, c.tryAcquire())
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, int64(2), c.tokens)
}

func TestHasKey(t *testing.T) {
	assert.True(t, New(zap.NewNop(), Opts{APIKey: "k"}).HasKey())
	assert.False(t, New(zap.NewNop(), Opts{APIKey: "  "}).HasKey())
}

func TestNFTItemImageURL(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		want     string
	}{
		{"with image", `{"name":"x","image":"https://img/1.png"}`, "https://img/1.png"},
		{"no image field", `{"name":"x"}`, ""},
		{"empty metadata", "", ""},
		{"malformed json", `{"image":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &NFTItem{Metadata: tt.metadata}
			assert.Equal(t, tt.want, item.ImageURL())
		})
	}
}
