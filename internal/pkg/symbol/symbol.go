// Package symbol converts between the internal dash form ("BTC-EUR") and the
// concatenated exchange form ("BTCEUR").
package symbol

import (
	"fmt"
	"strings"
)

// Symbol is a parsed trading pair.
type Symbol struct {
	Base  string
	Quote string
}

// Internal renders the dash form used throughout the core.
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "-" + s.Quote
}

// Exchange renders the concatenated form Binance expects.
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts "BTC-EUR" or a concatenated pair ending in a known quote
// currency.
func Parse(s string) (Symbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}, fmt.Errorf("symbol: empty pair")
	}
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		sym := Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
		if sym.Base == "" || sym.Quote == "" {
			return Symbol{}, fmt.Errorf("symbol: malformed pair %q", s)
		}
		return sym, nil
	}
	quotes := []string{"EUR", "USDT", "USDC", "BTC", "ETH"}
	for _, quote := range quotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}, nil
		}
	}
	return Symbol{}, fmt.Errorf("symbol: cannot split pair %q", s)
}

// BaseAsset extracts the non-quote leg; "BTC-EUR" -> "BTC". Input without a
// dash is returned upper-cased as-is.
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, "-"); idx > 0 {
		return s[:idx]
	}
	return s
}
