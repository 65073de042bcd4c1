package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fx_test -destination=mock_http_client_test.go -source=fx.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// Endpoint is the base URL of the rates API (/latest?from=X&to=Y).
	Endpoint string
	// TTL is how long a fetched rate counts as live. Expired rates are
	// re-fetched; if the fetch fails the expired rate is served as the
	// last-known fallback.
	TTL time.Duration
}

type rateEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Service fetches and caches exchange rates per currency pair.
// Concurrent lookups of the same pair are coalesced into one upstream call.
type Service struct {
	cfg    Config
	client HTTPClient

	mu    sync.RWMutex
	rates map[string]rateEntry // key: "FROM/TO"

	sf  singleflight.Group
	now func() time.Time
}

func New(cfg Config, client HTTPClient) *Service {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.frankfurter.app"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{cfg: cfg, client: client, rates: make(map[string]rateEntry), now: time.Now}
}

// Rate returns the multiplier from one unit of from into to. A cached live
// rate is served directly; otherwise a fetch is attempted, falling back to
// the last-known rate when the upstream fails.
func (s *Service) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := from + "/" + to

	s.mu.RLock()
	e, ok := s.rates[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(e.fetchedAt) < s.cfg.TTL {
		return e.rate, nil
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		rate, err := s.fetch(ctx, from, to)
		if err != nil {
			// Serve the last-known rate, however old, rather than failing.
			s.mu.RLock()
			e, ok := s.rates[key]
			s.mu.RUnlock()
			if ok {
				return e.rate, nil
			}
			return nil, err
		}
		s.mu.Lock()
		s.rates[key] = rateEntry{rate: rate, fetchedAt: s.now()}
		s.mu.Unlock()
		return rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

// Refresh pre-fetches the rates for every listed currency into the reporting
// currency. Used by the scheduled fx job so price cycles mostly hit the cache.
func (s *Service) Refresh(ctx context.Context, currencies []string, reporting string) error {
	var firstErr error
	for _, c := range currencies {
		if strings.EqualFold(c, reporting) {
			continue
		}
		if _, err := s.Rate(ctx, c, reporting); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type ratesResponse struct {
	Base  string                 `json:"base"`
	Rates map[string]json.Number `json:"rates"`
}

func (s *Service) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/latest?from=%s&to=%s", strings.TrimRight(s.cfg.Endpoint, "/"), url.QueryEscape(from), url.QueryEscape(to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return decimal.Decimal{}, fmt.Errorf("GET %s -> %d: %s", u, resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rr ratesResponse
	if err := dec.Decode(&rr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rates: %w", err)
	}
	n, ok := rr.Rates[to]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no rate for %s in response", to)
	}
	rate, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse rate %q: %w", n.String(), err)
	}
	return rate, nil
}
