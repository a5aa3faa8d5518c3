package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGeckoOracle adapts the public CoinGecko simple price API to the
// fixed-point quote contract.
type CoinGeckoOracle struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// NewCoinGeckoOracle constructs a new adapter. idMap allows the caller to map
// asset codes to CoinGecko asset identifiers. When the client is nil
// http.DefaultClient is used.
func NewCoinGeckoOracle(client HTTPDoer, endpoint string, idMap map[string]string) *CoinGeckoOracle {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[normaliseAsset(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoOracle{client: client, endpoint: ep, idMap: mapped}
}

func (o *CoinGeckoOracle) assetID(code string) string {
	if o == nil {
		return ""
	}
	if id, ok := o.idMap[normaliseAsset(code)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(code))
}

// Price fetches the USD quote for the asset and converts the decimal price to
// 7-decimal fixed point.
func (o *CoinGeckoOracle) Price(asset string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("coingecko oracle not configured")
	}
	id := o.assetID(asset)
	if id == "" {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: unmapped asset %s", asset)
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("coingecko oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: quote missing for %s", asset)
	}
	raw, ok := entry["usd"]
	if !ok || strings.TrimSpace(raw.String()) == "" {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: empty price")
	}
	price, err := fixedPointFromDecimal(raw.String())
	if err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko oracle: invalid price %q: %w", raw.String(), err)
	}
	ts := time.Now().UTC()
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := rawTs.Int64(); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	return PriceQuote{PriceUSD: price, Timestamp: ts, Source: "coingecko"}, nil
}

// fixedPointFromDecimal converts a decimal USD string into 7-decimal fixed
// point, truncating any digits beyond the supported precision.
func fixedPointFromDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty value")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("not a decimal number")
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(PriceScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
