// Package leverage applies best-effort leverage and margin-mode settings
// before a trade.
package leverage

import (
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// ParseMarginMode normalizes a configured margin mode. Booleans map true to
// isolated, integers 0 and 1 map to cross and isolated, and strings accept
// the usual synonyms. Anything unrecognized is cross.
func ParseMarginMode(v any) domain.MarginMode {
	switch x := v.(type) {
	case nil:
		return domain.MarginCross
	case domain.MarginMode:
		return fromInt(int64(x))
	case bool:
		if x {
			return domain.MarginIsolated
		}
		return domain.MarginCross
	case int:
		return fromInt(int64(x))
	case int32:
		return fromInt(int64(x))
	case int64:
		return fromInt(x)
	case float64:
		if x == 1 {
			return domain.MarginIsolated
		}
		return domain.MarginCross
	case string:
		return parseMarginString(x)
	}
	return domain.MarginCross
}

func fromInt(n int64) domain.MarginMode {
	if n == int64(domain.MarginIsolated) {
		return domain.MarginIsolated
	}
	return domain.MarginCross
}

func parseMarginString(s string) domain.MarginMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "isolated", "iso", "i", "1", "true":
		return domain.MarginIsolated
	default:
		// "cross", "x", "c", "0", "false" and unknown values
		return domain.MarginCross
	}
}
