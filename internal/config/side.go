package config

import (
	"fmt"
	"strings"
)

// ParseSide maps a configured trade side to the venue's is-ask flag. Empty
// means long.
func ParseSide(s string) (isAsk bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "long", "buy", "bid":
		return false, nil
	case "short", "sell", "ask":
		return true, nil
	default:
		return false, fmt.Errorf("unknown side %q (valid: long, short, buy, sell)", s)
	}
}
