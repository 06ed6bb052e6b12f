package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Binance reads the spot ticker price for <ASSET>USDT, treating USDT as USD.
type Binance struct {
	httpGetter
}

// NewBinance creates a client. baseURL is e.g. "https://api.binance.com".
func NewBinance(baseURL string) *Binance {
	return &Binance{httpGetter: newHTTPGetter(baseURL)}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Price(ctx context.Context, asset string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(asset)+"USDT")

	body, err := b.doGet(ctx, "/api/v3/ticker/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("oracle/binance: get ticker %s: %w", asset, err)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("oracle/binance: decode ticker: %w", err)
	}

	price, err := parsePrice(resp.Price)
	if err != nil {
		return 0, fmt.Errorf("oracle/binance: %w", err)
	}
	return price, nil
}
