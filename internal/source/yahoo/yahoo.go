package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

type Config struct {
	Name     string
	URL      string // quote endpoint, defaults to the public v7 quote API
	ChartURL string // chart endpoint, defaults to the public v8 chart API
}

// Provider queries the general market-data quote API by symbol.
type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
	}
	if cfg.URL == "" {
		cfg.URL = "https://query1.finance.yahoo.com/v7/finance/quote"
	}
	if cfg.ChartURL == "" {
		cfg.ChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// priceFields are the candidate price fields, tried in priority order.
// Not every instrument populates regularMarketPrice; thinly traded ones may
// only carry a bid or ask.
var priceFields = []string{"regularMarketPrice", "price", "lastPrice", "bid", "ask"}

type apiResponse struct {
	QuoteResponse struct {
		Result []map[string]any `json:"result"`
		Error  any              `json:"error"`
	} `json:"quoteResponse"`
}

func (p *Provider) Fetch(ctx context.Context, symbol string) (source.RawQuote, error) {
	u := p.cfg.URL + "?symbols=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return source.RawQuote{}, err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return source.RawQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return source.RawQuote{}, fmt.Errorf("GET %s -> %d: %s", u, resp.StatusCode, string(b))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api apiResponse
	if err := dec.Decode(&api); err != nil {
		return source.RawQuote{}, fmt.Errorf("decode: %w", err)
	}
	if len(api.QuoteResponse.Result) == 0 {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNotFound)
	}
	r := api.QuoteResponse.Result[0]

	price, ok := extractPrice(r)
	if !ok {
		// Some instruments return a quote record with no usable price field;
		// the most recent daily close still covers them.
		return p.fetchHistoryClose(ctx, symbol)
	}

	currency, _ := r["currency"].(string)
	if currency == "" {
		currency = "USD"
	}

	return source.RawQuote{
		Symbol:    symbol,
		Price:     price,
		Currency:  currency, // may be "GBp" for UK listings; normalizer handles it
		Source:    p.cfg.Name,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*json.Number `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

// fetchHistoryClose returns the latest daily close for symbols whose quote
// record carries no usable price field.
func (p *Provider) fetchHistoryClose(ctx context.Context, symbol string) (source.RawQuote, error) {
	u := p.cfg.ChartURL + "/" + url.PathEscape(symbol) + "?range=1d&interval=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return source.RawQuote{}, err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return source.RawQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNoPriceField)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api chartResponse
	if err := dec.Decode(&api); err != nil {
		return source.RawQuote{}, fmt.Errorf("decode chart: %w", err)
	}
	if len(api.Chart.Result) == 0 || len(api.Chart.Result[0].Indicators.Quote) == 0 {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNoPriceField)
	}
	res := api.Chart.Result[0]

	closes := res.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] == nil {
			continue
		}
		d, err := decimal.NewFromString(closes[i].String())
		if err != nil || d.IsZero() {
			continue
		}
		currency := res.Meta.Currency
		if currency == "" {
			currency = "USD"
		}
		return source.RawQuote{
			Symbol:    symbol,
			Price:     d,
			Currency:  currency,
			Source:    p.cfg.Name,
			FetchedAt: time.Now().UTC(),
		}, nil
	}
	return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNoPriceField)
}

// extractPrice tries each candidate field in order; first usable value wins.
func extractPrice(r map[string]any) (decimal.Decimal, bool) {
	for _, field := range priceFields {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil || d.IsZero() {
			continue
		}
		return d, true
	}
	return decimal.Decimal{}, false
}
