package hl

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

const fundPage = `<html><body>
<div class="factsheet">
  <h1>UBS S&amp;P 500 Index C - Acc</h1>
  <span class="price-divide"><span class="bid price">1,421.50p</span></span>
</div>
</body></html>`

func TestFetch_ParsesPencePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fundPage))
	}))
	t.Cleanup(srv.Close)

	p := New(Config{BaseURL: srv.URL, Funds: []string{"BMN91T3"}}, httpx.New(2*time.Second))
	q, err := p.Fetch(t.Context(), "BMN91T3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("1421.50")) || q.Currency != "GBX" {
		t.Fatalf("unexpected: %+v", q)
	}
}

func TestFetch_PoundPriceWithoutSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><td class="fund-price">14.21</td></body></html>`))
	}))
	t.Cleanup(srv.Close)

	p := New(Config{BaseURL: srv.URL, Funds: []string{"BMN91T3"}}, httpx.New(2*time.Second))
	q, err := p.Fetch(t.Context(), "BMN91T3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("14.21")) || q.Currency != "GBP" {
		t.Fatalf("unexpected: %+v", q)
	}
}

func TestFetch_OutsideKnownSet_NoNetworkIO(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	p := New(Config{BaseURL: srv.URL, Funds: []string{"BMN91T3"}}, httpx.New(2*time.Second))
	_, err := p.Fetch(t.Context(), "UNKNOWN1")
	if !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("scraper hit the server %d times for an unknown fund", hits.Load())
	}
}

func TestFetch_PageWithoutPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Maintenance</p></body></html>`))
	}))
	t.Cleanup(srv.Close)

	p := New(Config{BaseURL: srv.URL, Funds: []string{"BMN91T3"}}, httpx.New(2*time.Second))
	_, err := p.Fetch(t.Context(), "BMN91T3")
	if !errors.Is(err, source.ErrNoPriceField) {
		t.Fatalf("want ErrNoPriceField, got %v", err)
	}
}
