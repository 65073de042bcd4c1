package hl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

type Config struct {
	Name    string
	BaseURL string
	// Funds is the fixed set of fund codes this scraper may fetch.
	// Symbols outside the set are rejected without any network I/O.
	Funds []string
}

// Provider scrapes a broker's fund factsheet pages for a unit price.
type Provider struct {
	cfg    Config
	known  map[string]struct{}
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "hl"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.hl.co.uk"
	}
	known := make(map[string]struct{}, len(cfg.Funds))
	for _, f := range cfg.Funds {
		known[strings.ToUpper(f)] = struct{}{}
	}
	return &Provider{cfg: cfg, known: known, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, symbol string) (source.RawQuote, error) {
	code := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := p.known[code]; !ok {
		return source.RawQuote{}, fmt.Errorf("fund %s not in known set: %w", code, source.ErrNotFound)
	}

	u := fmt.Sprintf("%s/funds/fund-discounts,-prices--and--factsheets/search-results/%s/%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), strings.ToLower(code[:1]), strings.ToLower(code))
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
		return source.RawQuote{}, fmt.Errorf("GET %s -> %d", u, resp.StatusCode)
	}

	price, currency, err := parsePrice(resp.Body)
	if err != nil {
		return source.RawQuote{}, fmt.Errorf("%s: %w", code, err)
	}

	return source.RawQuote{
		Symbol:    symbol,
		Price:     price,
		Currency:  currency,
		Source:    p.cfg.Name,
		FetchedAt: time.Now().UTC(),
	}, nil
}

var numberRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// parsePrice walks the document for the first element whose class names a
// price and extracts the number from its text. A trailing "p" marks pence.
func parsePrice(r io.Reader) (decimal.Decimal, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parse page: %w", err)
	}
	text, ok := findPriceText(doc)
	if !ok {
		return decimal.Decimal{}, "", fmt.Errorf("no price element: %w", source.ErrNoPriceField)
	}
	m := numberRe.FindString(text)
	if m == "" {
		return decimal.Decimal{}, "", fmt.Errorf("no number in %q: %w", text, source.ErrNoPriceField)
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parse %q: %w", m, err)
	}
	currency := "GBP"
	if strings.HasSuffix(strings.TrimSpace(text), "p") {
		currency = "GBX"
	}
	return price, currency, nil
}

func findPriceText(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "span", "td", "div":
			for _, a := range n.Attr {
				if a.Key == "class" && strings.Contains(strings.ToLower(a.Val), "price") {
					if t := strings.TrimSpace(nodeText(n)); t != "" {
						return t, true
					}
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t, ok := findPriceText(c); ok {
			return t, ok
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
