package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pricerefresh/internal/holding"
	"pricerefresh/internal/normalize"
	"pricerefresh/internal/pricestore"
	"pricerefresh/internal/source"
	"pricerefresh/internal/symbols"
)

// Failure records why one candidate source did not produce a quote.
type Failure struct {
	Source string
	Symbol string
	Err    error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s(%s): %v", f.Source, f.Symbol, f.Err)
}

// AllSourcesError means every candidate source failed for one holding.
// It carries one reason per attempted candidate.
type AllSourcesError struct {
	Holding  string
	Failures []Failure
}

func (e *AllSourcesError) Error() string {
	reasons := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		reasons[i] = f.String()
	}
	return fmt.Sprintf("all sources failed for %s: %s", e.Holding, strings.Join(reasons, "; "))
}

// Resolver tries each candidate source in priority order and returns the
// first successfully normalized quote. Strictly sequential: source priority
// is deterministic and reproducible.
type Resolver struct {
	Mapper  *symbols.Mapper
	Sources map[string]source.Source // keyed by source name
	Norm    *normalize.Normalizer
}

func New(mapper *symbols.Mapper, sources map[string]source.Source, norm *normalize.Normalizer) *Resolver {
	return &Resolver{Mapper: mapper, Sources: sources, Norm: norm}
}

func (r *Resolver) Resolve(ctx context.Context, h holding.Holding) (normalize.Quote, error) {
	cands, err := r.Mapper.Candidates(h)
	if err != nil {
		return normalize.Quote{}, err
	}

	failures := make([]Failure, 0, len(cands))
	for _, c := range cands {
		src, ok := r.Sources[c.Source]
		if !ok {
			failures = append(failures, Failure{Source: c.Source, Symbol: c.Symbol, Err: fmt.Errorf("source not configured")})
			continue
		}
		raw, err := src.Fetch(ctx, c.Symbol)
		if err != nil {
			failures = append(failures, Failure{Source: c.Source, Symbol: c.Symbol, Err: err})
			continue
		}
		q, err := r.Norm.Normalize(ctx, raw)
		if err != nil {
			// ConversionUnavailable and friends count as a failure of this
			// source; the next candidate may quote in a usable currency.
			failures = append(failures, Failure{Source: c.Source, Symbol: c.Symbol, Err: err})
			continue
		}
		return q, nil
	}
	return normalize.Quote{}, &AllSourcesError{Holding: h.Key(), Failures: failures}
}

// RefreshAll resolves every holding and writes successes into the store.
// One holding's failure never aborts the rest; the previous cache entry for
// a failed holding stays as-is. Returns the number of holdings updated.
func (r *Resolver) RefreshAll(ctx context.Context, holdings []holding.Holding, store pricestore.Store) int {
	updated := 0
	for _, h := range holdings {
		q, err := r.Resolve(ctx, h)
		if err != nil {
			log.Printf("refresh: %s: %v", h.Key(), err)
			continue
		}
		store.Put(pricestore.Entry{
			Holding:   h.Key(),
			Price:     q.Price,
			Currency:  q.Currency,
			Source:    q.Source,
			FetchedAt: q.FetchedAt,
		})
		updated++
	}
	return updated
}
