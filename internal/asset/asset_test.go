package asset_test

import (
	"errors"
	"testing"

	"github.com/binopt/settlement-engine/internal/asset"
)

func TestNormalize_Valid(t *testing.T) {
	cases := map[string]string{
		"btc":    "BTC",
		"BTC":    "BTC",
		" sol ":  "SOL",
		"eth":    "ETH",
		"Matic":  "MATIC",
	}
	for in, want := range cases {
		got, err := asset.Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := asset.Normalize("DOGE")
	if !errors.Is(err, asset.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestCoinGeckoID(t *testing.T) {
	id, err := asset.CoinGeckoID("btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "bitcoin" {
		t.Errorf("expected bitcoin, got %s", id)
	}
}

func TestSymbols(t *testing.T) {
	syms := asset.Symbols()
	if len(syms) != 4 {
		t.Errorf("expected 4 symbols, got %d", len(syms))
	}
	for _, s := range syms {
		if !asset.Supported(s) {
			t.Errorf("symbol %s should be supported", s)
		}
	}
}
