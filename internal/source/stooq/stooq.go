package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

type Config struct {
	Name string
	URL  string // CSV quote endpoint
}

// Provider is the backup market-data source. It speaks its own symbol
// convention (lower case with a market suffix, e.g. "rr.uk", "aapl.us")
// and returns a one-row CSV per symbol.
type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "stooq"
	}
	if cfg.URL == "" {
		cfg.URL = "https://stooq.com/q/l/"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// currencyBySuffix maps the market suffix to the feed's quoting currency.
// The CSV itself carries no currency column; London quotes arrive in pence.
var currencyBySuffix = map[string]string{
	".uk": "GBX",
	".us": "USD",
	".de": "EUR",
}

func (p *Provider) Fetch(ctx context.Context, symbol string) (source.RawQuote, error) {
	u := fmt.Sprintf("%s?s=%s&f=sd2t2ohlcv&h&e=csv", p.cfg.URL, url.QueryEscape(symbol))
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
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return source.RawQuote{}, fmt.Errorf("GET %s -> %d: %s", u, resp.StatusCode, string(b))
	}

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return source.RawQuote{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNotFound)
	}

	header, row := records[0], records[1]
	closeIdx := -1
	for i, col := range header {
		if strings.EqualFold(col, "Close") {
			closeIdx = i
		}
	}
	if closeIdx < 0 || closeIdx >= len(row) {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNoPriceField)
	}
	raw := strings.TrimSpace(row[closeIdx])
	// "N/D" marks an unknown symbol.
	if raw == "" || strings.EqualFold(raw, "N/D") {
		return source.RawQuote{}, fmt.Errorf("%s: %w", symbol, source.ErrNotFound)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return source.RawQuote{}, fmt.Errorf("parse close %q: %w", raw, err)
	}

	currency := "USD"
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		if c, ok := currencyBySuffix[strings.ToLower(symbol[i:])]; ok {
			currency = c
		}
	}

	return source.RawQuote{
		Symbol:    symbol,
		Price:     price,
		Currency:  currency,
		Source:    p.cfg.Name,
		FetchedAt: time.Now().UTC(),
	}, nil
}
