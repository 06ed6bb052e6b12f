package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// DefaultCoinGeckoIDs maps base assets to CoinGecko coin ids.
var DefaultCoinGeckoIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"SUI": "sui",
	"LTC": "litecoin",
}

// CoinGecko reads the simple/price endpoint.
type CoinGecko struct {
	httpGetter
	ids map[string]string
}

// NewCoinGecko creates a client. overrides extend or replace DefaultCoinGeckoIDs.
//
// baseURL is the API root, e.g. "https://api.coingecko.com/api/v3".
func NewCoinGecko(baseURL string, overrides map[string]string) *CoinGecko {
	ids := make(map[string]string, len(DefaultCoinGeckoIDs)+len(overrides))
	for k, v := range DefaultCoinGeckoIDs {
		ids[k] = v
	}
	for k, v := range overrides {
		ids[strings.ToUpper(k)] = v
	}
	return &CoinGecko{httpGetter: newHTTPGetter(baseURL), ids: ids}
}

func (c *CoinGecko) Name() string { return "coingecko" }

// Price returns the USD price. Assets without a known coin id fail with
// domain.ErrNotFound without a network call.
func (c *CoinGecko) Price(ctx context.Context, asset string) (float64, error) {
	id, ok := c.ids[strings.ToUpper(asset)]
	if !ok {
		return 0, fmt.Errorf("oracle/coingecko: %w: no coin id for %s", domain.ErrNotFound, asset)
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")

	body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("oracle/coingecko: get price %s: %w", id, err)
	}

	var resp map[string]map[string]json.Number
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("oracle/coingecko: decode price: %w", err)
	}
	usd, ok := resp[id]["usd"]
	if !ok {
		return 0, fmt.Errorf("oracle/coingecko: %w: usd price missing for %s", domain.ErrNotFound, id)
	}

	price, err := parsePrice(usd.String())
	if err != nil {
		return 0, fmt.Errorf("oracle/coingecko: %w", err)
	}
	return price, nil
}
