package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricerefresh/internal/source"
)

// ErrConversionUnavailable means no live exchange rate could be fetched and
// no last-known rate exists. The resolver treats it like any source failure.
var ErrConversionUnavailable = errors.New("no usable exchange rate")

// Quote is a price in the reporting currency, major units, with provenance.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RateSource returns the multiplier converting one unit of from into to.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Normalizer converts raw quotes into the reporting currency.
type Normalizer struct {
	Reporting string // e.g. "GBP"
	Rates     RateSource
}

func New(reporting string, rates RateSource) *Normalizer {
	if reporting == "" {
		reporting = "GBP"
	}
	return &Normalizer{Reporting: strings.ToUpper(reporting), Rates: rates}
}

// isPence reports whether a currency code is the UK minor-unit convention.
// Yahoo reports "GBp", other feeds use "GBX"; the uppercase "GBP" is the
// major unit and must not match.
func isPence(code string) bool {
	switch code {
	case "GBp", "GBX", "GBx", "gbx":
		return true
	}
	return false
}

// Normalize applies, in order: minor-unit division, reporting-currency
// pass-through, exchange-rate conversion. Applying it to an already
// normalized quote is a no-op.
func (n *Normalizer) Normalize(ctx context.Context, raw source.RawQuote) (Quote, error) {
	if raw.Price.IsNegative() {
		return Quote{}, fmt.Errorf("%s: negative price %s", raw.Source, raw.Price)
	}

	price := raw.Price
	currency := strings.TrimSpace(raw.Currency)

	switch {
	case raw.PreNormalized:
		currency = n.Reporting
	case isPence(currency):
		price = price.Div(decimal.NewFromInt(100))
		currency = "GBP"
	}

	if !strings.EqualFold(currency, n.Reporting) {
		if n.Rates == nil {
			return Quote{}, fmt.Errorf("%s->%s: %w", currency, n.Reporting, ErrConversionUnavailable)
		}
		rate, err := n.Rates.Rate(ctx, strings.ToUpper(currency), n.Reporting)
		if err != nil {
			return Quote{}, fmt.Errorf("%s->%s: %w: %v", currency, n.Reporting, ErrConversionUnavailable, err)
		}
		price = price.Mul(rate)
	}

	return Quote{
		Symbol:    raw.Symbol,
		Price:     price,
		Currency:  n.Reporting,
		Source:    raw.Source,
		FetchedAt: raw.FetchedAt,
	}, nil
}
