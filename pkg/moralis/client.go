package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/retry"
	"github.com/aoi-gallery/provenance/pkg/utils"
)

const DefaultBaseURL = "https://deep-index.moralis.io/api/v2"

// HTTPError carries the upstream status code so callers can classify
// transient failures (429/5xx) apart from permanent ones.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("moralis api error: %d", e.Status)
}

// IsRetryable reports whether an error is worth another attempt: rate
// limiting, server-side failures, and transport errors are; everything else
// (4xx, decode errors) is not.
func IsRetryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// Client is a paced wrapper around the indexing API. A token bucket enforces
// the sustained request rate independently of retry backoff, because the
// upstream quota is global across every endpoint we call.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger

	mu          sync.Mutex
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  time.Time

	retryCfg retry.Config
}

// Opts is the set of options for a new Client.
type Opts struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RPS        int
	Burst      int
	HTTPClient *http.Client
	Retry      *retry.Config
}

// New creates a Client. Defaults keep the request rate around four per
// second, which matches the fixed 250ms inter-request delay the upstream
// quota tolerates.
func New(logger *zap.Logger, o Opts) *Client {
	if o.BaseURL == "" {
		o.BaseURL = utils.Env("MORALIS_BASE_URL", DefaultBaseURL)
	}
	if o.RPS <= 0 {
		o.RPS = 4
	}
	if o.Burst <= 0 {
		o.Burst = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}

	cfg := retry.DefaultConfig()
	if o.Retry != nil {
		cfg = *o.Retry
	}
	cfg.Retryable = IsRetryable

	c := &Client{
		baseURL:     strings.TrimRight(o.BaseURL, "/"),
		apiKey:      strings.TrimSpace(o.APIKey),
		client:      client,
		logger:      logger,
		maxTokens:   int64(o.Burst),
		refillEvery: time.Second / time.Duration(o.RPS),
		retryCfg:    cfg,
	}
	c.tokens = c.maxTokens
	c.lastRefill = time.Now()
	return c
}

// HasKey reports whether an API key is configured. Runs fail fast when it is
// missing, before any network call.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// tryAcquire credits tokens for elapsed refill intervals and takes one if
// available. The bucket is a single critical section so concurrent metadata
// workers can never over-admit past the rate.
func (c *Client) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(c.lastRefill); elapsed >= c.refillEvery {
		credit := int64(elapsed / c.refillEvery)
		c.tokens += credit
		if c.tokens > c.maxTokens {
			c.tokens = c.maxTokens
		}
		c.lastRefill = c.lastRefill.Add(time.Duration(credit) * c.refillEvery)
	}

	if c.tokens > 0 {
		c.tokens--
		return true
	}
	return false
}

func (c *Client) acquire() {
	for !c.tryAcquire() {
		time.Sleep(c.refillEvery / 2)
	}
}

// get performs one paced, retried GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	full := c.baseURL + endpoint
	if len(params) > 0 {
		full += "?" + params.Encode()
	}

	return retry.WithBackoff(ctx, c.retryCfg, c.logger, "GET "+endpoint, func() error {
		c.acquire()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			_ = utils.DrainAndClose(resp.Body)
			return &HTTPError{Status: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			_ = utils.DrainAndClose(resp.Body)
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
		return utils.DrainAndClose(resp.Body)
	})
}

func baseParams(chain string) url.Values {
	v := url.Values{}
	v.Set("chain", chain)
	v.Set("format", "decimal")
	v.Set("limit", "100")
	return v
}

// ListTransfers fetches one page of a contract's transfer history. A
// non-empty cursor continues a previous page; an empty returned cursor means
// the listing is exhausted.
func (c *Client) ListTransfers(ctx context.Context, contract, chain string, from time.Time, cursor string) (*TransferPage, error) {
	params := baseParams(chain)
	if !from.IsZero() {
		params.Set("from_date", from.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var page TransferPage
	if err := c.get(ctx, fmt.Sprintf("/nft/%s/transfers", contract), params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TokenTransfers fetches the transfer history of a single token.
func (c *Client) TokenTransfers(ctx context.Context, contract, tokenID, chain string, from time.Time) ([]Transfer, error) {
	params := baseParams(chain)
	if !from.IsZero() {
		params.Set("from_date", from.UTC().Format(time.RFC3339))
	}

	var page TransferPage
	if err := c.get(ctx, fmt.Sprintf("/nft/%s/%s/transfers", contract, tokenID), params, &page); err != nil {
		return nil, err
	}
	return page.Result, nil
}

// TokenOwners fetches the current owner(s) of a single token. Used as a
// fallback when a token has no transfer history reachable through the API.
func (c *Client) TokenOwners(ctx context.Context, contract, tokenID, chain string) ([]Owner, error) {
	params := url.Values{}
	params.Set("chain", chain)
	params.Set("format", "decimal")

	var page OwnerPage
	if err := c.get(ctx, fmt.Sprintf("/nft/%s/%s/owners", contract, tokenID), params, &page); err != nil {
		return nil, err
	}
	return page.Result, nil
}

// TokenMetadata fetches a single token's metadata document.
func (c *Client) TokenMetadata(ctx context.Context, contract, tokenID, chain string) (*NFTItem, error) {
	params := url.Values{}
	params.Set("chain", chain)
	params.Set("format", "decimal")

	var item NFTItem
	if err := c.get(ctx, fmt.Sprintf("/nft/%s/%s", contract, tokenID), params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Raw forwards an arbitrary safelisted endpoint and returns the undecoded
// response. Backs the browser-facing metadata proxy.
func (c *Client) Raw(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}

	var raw json.RawMessage
	if err := c.get(ctx, endpoint, v, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
