// Package asset holds the registry of tradable assets and symbol validation.
package asset

import (
	"errors"
	"fmt"
	"strings"
)

// Supported asset symbols.
const (
	BTC   = "BTC"
	ETH   = "ETH"
	SOL   = "SOL"
	MATIC = "MATIC"
)

// ErrUnsupported is returned for symbols outside the registry.
var ErrUnsupported = errors.New("asset: unsupported asset")

// coinGeckoIDs maps supported symbols to their CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	BTC:   "bitcoin",
	ETH:   "ethereum",
	SOL:   "solana",
	MATIC: "matic-network",
}

// Normalize upper-cases and validates a symbol.
func Normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := coinGeckoIDs[s]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, symbol)
	}
	return s, nil
}

// Supported reports whether a symbol is in the registry.
func Supported(symbol string) bool {
	_, err := Normalize(symbol)
	return err == nil
}

// CoinGeckoID resolves a symbol to its CoinGecko coin id.
func CoinGeckoID(symbol string) (string, error) {
	s, err := Normalize(symbol)
	if err != nil {
		return "", err
	}
	return coinGeckoIDs[s], nil
}

// Symbols returns all supported symbols.
func Symbols() []string {
	out := make([]string, 0, len(coinGeckoIDs))
	for s := range coinGeckoIDs {
		out = append(out, s)
	}
	return out
}
