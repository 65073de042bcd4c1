package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

// coinIDs maps ticker symbols to the upstream's internal coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"ADA":   "cardano",
	"SOL":   "solana",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"FET":   "fetch-ai",
	"TRX":   "tron",
	"XRP":   "ripple",
	"LTC":   "litecoin",
	"BCH":   "bitcoin-cash",
	"DOGE":  "dogecoin",
	"ATOM":  "cosmos",
	"XLM":   "stellar",
	"ALGO":  "algorand",
	"NEAR":  "near",
	"FIL":   "filecoin",
	"ICP":   "internet-computer",
	"VET":   "vechain",
	"HBAR":  "hedera-hashgraph",
	"AAVE":  "aave",
	"MKR":   "maker",
	"COMP":  "compound-governance-token",
	"SNX":   "havven",
	"CRV":   "curve-dao-token",
	"SAND":  "the-sandbox",
	"MANA":  "decentraland",
	"AXS":   "axie-infinity",
	"GRT":   "the-graph",
	"ENJ":   "enjincoin",
	"CHZ":   "chiliz",
	"EOS":   "eos",
	"XTZ":   "tezos",
	"ARB":   "arbitrum",
	"OP":    "optimism",
}

type Config struct {
	Name     string
	URL      string // simple-price endpoint
	Currency string // requested quote currency, e.g. GBP
	// Rate-limit retry tuning; 429 responses back off exponentially up to
	// MaxAttempts before the fetch fails over to the next source.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Provider fetches crypto prices quoted directly in the reporting currency,
// so its quotes skip currency conversion downstream.
type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if cfg.Currency == "" {
		cfg.Currency = "GBP"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, symbol string) (source.RawQuote, error) {
	id, ok := coinIDs[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return source.RawQuote{}, fmt.Errorf("coin %s not in id table: %w", symbol, source.ErrNotFound)
	}

	pol := backoff.NewExponentialBackOff()
	pol.InitialInterval = p.cfg.InitialBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(pol, uint64(p.cfg.MaxAttempts-1)), ctx)

	price, err := backoff.RetryWithData(func() (decimal.Decimal, error) {
		return p.fetchOnce(ctx, id)
	}, b)
	if err != nil {
		return source.RawQuote{}, err
	}

	return source.RawQuote{
		Symbol:        symbol,
		Price:         price,
		Currency:      strings.ToUpper(p.cfg.Currency),
		PreNormalized: true,
		Source:        p.cfg.Name,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func (p *Provider) fetchOnce(ctx context.Context, id string) (decimal.Decimal, error) {
	vs := strings.ToLower(p.cfg.Currency)
	u := fmt.Sprintf("%s?ids=%s&vs_currencies=%s", p.cfg.URL, url.QueryEscape(id), url.QueryEscape(vs))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(err)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(err)
	}
	defer resp.Body.Close()

	// Only rate-limit responses are worth retrying against the same source.
	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", id, source.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("GET %s -> %d: %s", u, resp.StatusCode, string(b)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var body map[string]map[string]json.Number
	if err := dec.Decode(&body); err != nil {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("decode: %w", err))
	}
	n, ok := body[id][vs]
	if !ok {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("%s: %w", id, source.ErrNoPriceField))
	}
	price, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("parse price %q: %w", n.String(), err))
	}
	return price, nil
}
