package source

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RawQuote is a single source's result before currency/unit normalization.
// PreNormalized marks quotes a source already returns in the reporting
// currency, so the normalizer must not convert them again.
type RawQuote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	PreNormalized bool            `json:"pre_normalized,omitempty"`
	Source        string          `json:"source"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Source fetches one quote for a source-specific symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (RawQuote, error)
}

var (
	// ErrNotFound means the source does not know the symbol.
	ErrNotFound = errors.New("symbol not found")
	// ErrNoPriceField means the response carried none of the candidate price fields.
	ErrNoPriceField = errors.New("no usable price field")
	// ErrRateLimited means the upstream answered with a rate-limit response
	// and retries were exhausted.
	ErrRateLimited = errors.New("rate limited")
)
