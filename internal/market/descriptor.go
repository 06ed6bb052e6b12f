package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Descriptor is one market entry from a venue listing, kept in its raw
// decoded shape. Venue SDK versions disagree on field names, so fields are
// read through fixed alias lists rather than a struct.
type Descriptor map[string]any

// Field alias lists. Order is priority: the first present field wins.
var (
	symbolFields = []string{"symbol", "name"}
	indexFields  = []string{"index", "market_index", "marketIndex", "market_id", "marketId"}

	sizeDecimalsFields  = []string{"supported_size_decimals", "size_decimals", "base_decimals"}
	priceDecimalsFields = []string{"supported_price_decimals", "price_decimals", "quote_decimals"}
	quoteDecimalsFields = []string{"supported_quote_decimals", "quote_decimals"}

	baseScaleFields  = []string{"base_scale", "base_scale_int", "base_precision", "base_asset_scale"}
	priceScaleFields = []string{"price_scale", "price_scale_int", "price_precision", "quote_asset_scale"}
	quoteScaleFields = []string{"quote_scale", "quote_scale_int"}

	lotSizeFields   = []string{"lot_size_int", "lot_size", "base_step", "base_lot_size"}
	minBaseFields   = []string{"min_base_amount", "min_base", "min_size"}
	minQuoteFields  = []string{"min_quote_amount", "min_quote", "min_notional"}
	marketInfoField = "market_info"
)

// DecodeDescriptors decodes a JSON array of market objects, preserving
// numbers exactly.
func DecodeDescriptors(raw []byte) ([]Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out []Descriptor
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("market: decode descriptors: %w", err)
	}
	return out, nil
}

// info returns the nested market-info object when present.
func (d Descriptor) info() Descriptor {
	switch v := d[marketInfoField].(type) {
	case Descriptor:
		return v
	case map[string]any:
		return Descriptor(v)
	}
	return nil
}

// fields returns the object that carries quantization fields: the nested
// market info when present, else the descriptor itself.
func (d Descriptor) fields() Descriptor {
	if mi := d.info(); mi != nil {
		return mi
	}
	return d
}

// first returns the first present, non-null value among names.
func (d Descriptor) first(names []string) (any, bool) {
	if d == nil {
		return nil, false
	}
	for _, n := range names {
		if v, ok := d[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Symbol returns the descriptor's symbol, looking in market info first.
func (d Descriptor) Symbol() (string, bool) {
	if v, ok := d.info().first(symbolFields); ok {
		if s := fmt.Sprint(v); s != "" {
			return s, true
		}
	}
	if v, ok := d.first(symbolFields); ok {
		if s := fmt.Sprint(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// Index returns the venue market index.
func (d Descriptor) Index() (int64, bool, error) {
	v, ok := d.info().first(indexFields)
	if !ok {
		v, ok = d.first(indexFields)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, true, fmt.Errorf("index %v: %w", v, err)
	}
	return n, true, nil
}

// NormalizeSymbol uppercases s and replaces underscores with dashes.
func NormalizeSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", "-")
}

// scaleFor resolves 10^decimals when a decimals alias is present, else a raw
// scale alias, else 1.
func scaleFor(d Descriptor, decimalsFields, scaleFields []string) (int64, error) {
	if v, ok := d.first(decimalsFields); ok {
		n, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("decimals %v: %w", v, err)
		}
		return pow10(n)
	}
	if v, ok := d.first(scaleFields); ok {
		n, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("scale %v: %w", v, err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("scale %d is not positive", n)
		}
		return n, nil
	}
	return 1, nil
}

func pow10(n int64) (int64, error) {
	if n < 0 || n > 18 {
		return 0, fmt.Errorf("decimals %d out of range", n)
	}
	out := int64(1)
	for i := int64(0); i < n; i++ {
		out *= 10
	}
	return out, nil
}

func optionalDecimal(d Descriptor, names []string) (decimal.NullDecimal, error) {
	v, ok := d.first(names)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	x, err := toDecimal(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(x), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Decimal{}, fmt.Errorf("not a finite number: %v", x)
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint64:
		return decimal.NewFromUint64(x), nil
	case bool:
		return decimal.Decimal{}, fmt.Errorf("unexpected boolean %v", x)
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported value type %T", v)
}

func toInt(v any) (int64, error) {
	x, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if !x.IsInteger() {
		return 0, fmt.Errorf("%s is not an integer", x)
	}
	return x.IntPart(), nil
}
