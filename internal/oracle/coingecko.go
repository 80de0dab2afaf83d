package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/asset"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// vsCurrency is the quote currency for all prices.
const vsCurrency = "inr"

// CoinGeckoOracle fetches spot prices from the CoinGecko public API.
type CoinGeckoOracle struct {
	baseURL string
	client  *http.Client
}

// NewCoinGeckoOracle creates a CoinGecko-backed oracle. Pass an empty baseURL
// for the public API.
func NewCoinGeckoOracle(baseURL string, timeout time.Duration) *CoinGeckoOracle {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinGeckoOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *CoinGeckoOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	coinID, err := asset.CoinGeckoID(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		o.baseURL, url.QueryEscape(coinID), vsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	price, ok := payload[coinID][vsCurrency]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrUnavailable, symbol)
	}
	return price, nil
}

// PricePoint is one sample of a historical price series.
type PricePoint struct {
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Price     decimal.Decimal `json:"price"`
}

// HistoricalPrices returns the market chart for the last `days` days.
func (o *CoinGeckoOracle) HistoricalPrices(ctx context.Context, symbol string, days int) ([]PricePoint, error) {
	coinID, err := asset.CoinGeckoID(symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 1
	}

	u := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=%s&days=%d",
		o.baseURL, url.PathEscape(coinID), vsCurrency, days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	points := make([]PricePoint, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		if len(pair) != 2 {
			continue
		}
		ts, err := pair[0].Int64()
		if err != nil {
			// Timestamps occasionally arrive in float notation.
			f, ferr := pair[0].Float64()
			if ferr != nil {
				continue
			}
			ts = int64(f)
		}
		price, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			continue
		}
		points = append(points, PricePoint{Timestamp: ts, Price: price})
	}
	return points, nil
}
