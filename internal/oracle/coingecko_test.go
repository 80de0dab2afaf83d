package oracle_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/asset"
	"github.com/binopt/settlement-engine/internal/oracle"
)

func TestCoinGecko_CurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("expected ids=bitcoin, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"inr":5523001.25}}`))
	}))
	defer srv.Close()

	o := oracle.NewCoinGeckoOracle(srv.URL, time.Second)
	price, err := o.CurrentPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.NewFromFloat(5523001.25)) {
		t.Errorf("expected 5523001.25, got %s", price)
	}
}

func TestCoinGecko_UnsupportedAsset(t *testing.T) {
	o := oracle.NewCoinGeckoOracle("http://localhost:0", time.Second)
	_, err := o.CurrentPrice(context.Background(), "DOGE")
	if !errors.Is(err, asset.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestCoinGecko_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := oracle.NewCoinGeckoOracle(srv.URL, time.Second)
	_, err := o.CurrentPrice(context.Background(), "ETH")
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCoinGecko_HistoricalPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/solana/market_chart" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":[[1692000000000,12050.5],[1692000060000,12051.0]]}`))
	}))
	defer srv.Close()

	o := oracle.NewCoinGeckoOracle(srv.URL, time.Second)
	points, err := o.HistoricalPrices(context.Background(), "SOL", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Timestamp != 1692000000000 {
		t.Errorf("unexpected timestamp %d", points[0].Timestamp)
	}
	if !points[1].Price.Equal(decimal.NewFromFloat(12051.0)) {
		t.Errorf("unexpected price %s", points[1].Price)
	}
}

func TestStaticOracle(t *testing.T) {
	o := oracle.NewStaticOracle(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(200),
	})

	p, err := o.CurrentPrice(context.Background(), "BTC")
	if err != nil || !p.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected 200, got %s (%v)", p, err)
	}

	o.SetPrice("BTC", decimal.NewFromInt(210))
	p, _ = o.CurrentPrice(context.Background(), "BTC")
	if !p.Equal(decimal.NewFromInt(210)) {
		t.Errorf("expected 210 after SetPrice, got %s", p)
	}

	if _, err := o.CurrentPrice(context.Background(), "ETH"); !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for unknown symbol, got %v", err)
	}
}
