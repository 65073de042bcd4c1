package symbols

import (
	"errors"
	"fmt"
	"strings"

	"pricerefresh/internal/holding"
)

// Canonical source names; adapters register under these keys.
const (
	SourceYahoo     = "yahoo"
	SourceStooq     = "stooq"
	SourceHL        = "hl"
	SourceCoinGecko = "coingecko"
)

// ErrUnsupportedHoldingKind means the holding's asset class has no routing
// rule. This is a data error, not a transient failure.
var ErrUnsupportedHoldingKind = errors.New("unsupported holding kind")

// Candidate is one (source, source-specific symbol) pair to try.
type Candidate struct {
	Source string
	Symbol string
}

// Mapper turns a holding into the ordered candidate list the resolver walks.
// Pure mapping, no I/O.
type Mapper struct {
	// KnownFunds maps fund identifiers (display name or ISIN) to the scrape
	// adapter's fund code. Holdings found here bypass market-data sources.
	KnownFunds map[string]string
	// Reporting currency, used to build direct crypto pairs for the
	// general source fallback (e.g. BTC-GBP).
	Reporting string
}

func NewMapper(knownFunds map[string]string, reporting string) *Mapper {
	if reporting == "" {
		reporting = "GBP"
	}
	return &Mapper{KnownFunds: knownFunds, Reporting: strings.ToUpper(reporting)}
}

// Candidates returns source candidates in strict priority order.
func (m *Mapper) Candidates(h holding.Holding) ([]Candidate, error) {
	sym := strings.ToUpper(strings.TrimSpace(h.Symbol))
	if sym == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrUnsupportedHoldingKind)
	}

	switch h.Class {
	case holding.ClassEquity:
		return m.equityCandidates(sym, h.Market), nil
	case holding.ClassFund:
		return m.fundCandidates(h, sym), nil
	case holding.ClassCrypto:
		return []Candidate{
			{Source: SourceCoinGecko, Symbol: sym},
			{Source: SourceYahoo, Symbol: sym + "-" + m.Reporting},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHoldingKind, h.Class)
	}
}

func (m *Mapper) equityCandidates(sym string, market holding.Market) []Candidate {
	if market == holding.MarketUK {
		// London listings need the market suffix on the general source;
		// try the suffixed variant first, then the symbol as given.
		bare := strings.TrimSuffix(sym, ".L")
		out := []Candidate{}
		if !strings.HasSuffix(sym, ".L") {
			out = append(out, Candidate{Source: SourceYahoo, Symbol: sym + ".L"})
		}
		out = append(out,
			Candidate{Source: SourceYahoo, Symbol: sym},
			Candidate{Source: SourceStooq, Symbol: strings.ToLower(bare) + ".uk"},
		)
		return out
	}
	return []Candidate{
		{Source: SourceYahoo, Symbol: sym},
		{Source: SourceStooq, Symbol: strings.ToLower(sym) + ".us"},
	}
}

func (m *Mapper) fundCandidates(h holding.Holding, sym string) []Candidate {
	for _, id := range []string{h.Symbol, h.Name} {
		if code, ok := m.KnownFunds[id]; ok {
			return []Candidate{{Source: SourceHL, Symbol: code}}
		}
	}
	if sedol, ok := sedolFromISIN(sym); ok {
		return []Candidate{
			{Source: SourceHL, Symbol: sedol},
			{Source: SourceYahoo, Symbol: sym},
		}
	}
	// Unknown fund: treat like a UK-listed instrument on the general source.
	out := []Candidate{}
	if !strings.HasSuffix(sym, ".L") {
		out = append(out, Candidate{Source: SourceYahoo, Symbol: sym + ".L"})
	}
	return append(out, Candidate{Source: SourceYahoo, Symbol: sym})
}

// sedolFromISIN extracts the 7-char SEDOL embedded in a GB/IE ISIN.
func sedolFromISIN(id string) (string, bool) {
	if len(id) != 12 {
		return "", false
	}
	cc := id[:2]
	if !isAlpha(cc) {
		return "", false
	}
	if cc != "GB" && cc != "IE" {
		return "", false
	}
	return id[4:11], true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
