package domain

import "github.com/shopspring/decimal"

// MarketMetadata holds the quantization facts for one perp market.
// Scales are powers of ten; one base unit is 1/BaseScale of the asset.
type MarketMetadata struct {
	Symbol         string              `json:"symbol"`
	MarketIndex    int64               `json:"market_index"`
	BaseScale      int64               `json:"base_scale"`
	PriceScale     int64               `json:"price_scale"`
	QuoteScale     int64               `json:"quote_scale"`
	LotSize        int64               `json:"lot_size"`
	MinBaseAmount  decimal.NullDecimal `json:"min_base_amount"`  // human units, absent means 0
	MinQuoteAmount decimal.NullDecimal `json:"min_quote_amount"` // human units, absent means 0
}

// Valid reports whether every scale is positive and the lot size is at least one.
func (m MarketMetadata) Valid() bool {
	return m.BaseScale > 0 && m.PriceScale > 0 && m.QuoteScale > 0 && m.LotSize >= 1
}
