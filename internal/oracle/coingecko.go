// internal/oracle/coingecko.go
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"
	DefaultNativeID          = "solana"
	DefaultStableID          = "usd-coin"
)

// CoinGecko reads USD rates from the CoinGecko simple price API.
type CoinGecko struct {
	client   *http.Client
	endpoint string
	nativeID string
	stableID string
	apiKey   string
}

// CoinGeckoOption configures a CoinGecko source.
type CoinGeckoOption func(*CoinGecko)

func WithHTTPClient(c *http.Client) CoinGeckoOption { return func(g *CoinGecko) { g.client = c } }
func WithEndpoint(ep string) CoinGeckoOption        { return func(g *CoinGecko) { g.endpoint = ep } }
func WithAPIKey(key string) CoinGeckoOption         { return func(g *CoinGecko) { g.apiKey = key } }

// WithAssetIDs overrides the CoinGecko ids of the native coin and stablecoin.
func WithAssetIDs(native, stable string) CoinGeckoOption {
	return func(g *CoinGecko) {
		if native != "" {
			g.nativeID = native
		}
		if stable != "" {
			g.stableID = stable
		}
	}
}

func NewCoinGecko(opts ...CoinGeckoOption) *CoinGecko {
	g := &CoinGecko{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: DefaultCoinGeckoEndpoint,
		nativeID: DefaultNativeID,
		stableID: DefaultStableID,
	}
	for _, opt := range opts {
		opt(g)
	}
	if strings.TrimSpace(g.endpoint) == "" {
		g.endpoint = DefaultCoinGeckoEndpoint
	}
	return g
}

func (g *CoinGecko) Name() string { return "coingecko" }

// Fetch requests both rates in a single call.
func (g *CoinGecko) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	values := url.Values{}
	values.Set("ids", g.nativeID+","+g.stableID)
	values.Set("vs_currencies", "usd")
	req.URL.RawQuery = values.Encode()
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Snapshot{}, fmt.Errorf("coingecko: decode: %w", err)
	}

	native, err := usdRate(payload, g.nativeID)
	if err != nil {
		return Snapshot{}, err
	}
	stable, err := usdRate(payload, g.stableID)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		NativeUSD: native,
		StableUSD: stable,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func usdRate(payload map[string]map[string]json.Number, id string) (decimal.Decimal, error) {
	entry, ok := payload[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: rate missing for %s", id)
	}
	raw, ok := entry["usd"]
	if !ok || raw == "" {
		return decimal.Zero, fmt.Errorf("coingecko: usd rate missing for %s", id)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: parse rate for %s: %w", id, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("coingecko: non-positive rate %s for %s", rate, id)
	}
	return rate, nil
}
