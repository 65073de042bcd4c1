package coingecko

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pricerefresh/internal/httpx"
	"pricerefresh/internal/source"
)

func newTestProvider(t *testing.T, attempts int, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		URL:            srv.URL,
		Currency:       "GBP",
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
	}, httpx.New(2*time.Second))
}

func TestFetch_DirectReportingCurrency(t *testing.T) {
	p := newTestProvider(t, 3, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		require.Equal(t, "gbp", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"bitcoin":{"gbp":89071}}`))
	})

	q, err := p.Fetch(t.Context(), "BTC")
	require.NoError(t, err)
	require.True(t, q.Price.Equal(decimal.RequireFromString("89071")), "price: %s", q.Price)
	require.Equal(t, "GBP", q.Currency)
	require.True(t, q.PreNormalized, "crypto quotes arrive already in the reporting currency")
}

func TestFetch_RateLimited_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, 3, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ethereum":{"gbp":2400.5}}`))
	})

	q, err := p.Fetch(t.Context(), "ETH")
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
	require.True(t, q.Price.Equal(decimal.RequireFromString("2400.5")))
}

func TestFetch_RateLimited_AttemptsExhausted(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, 3, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Fetch(t.Context(), "BTC")
	require.ErrorIs(t, err, source.ErrRateLimited)
	require.EqualValues(t, 3, calls.Load(), "retry count is bounded")
}

func TestFetch_UnknownCoin_NoNetworkIO(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, 3, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := p.Fetch(t.Context(), "NOTACOIN")
	require.ErrorIs(t, err, source.ErrNotFound)
	require.Zero(t, calls.Load())
}

func TestFetch_ServerError_NoRetry(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, 5, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.Fetch(t.Context(), "BTC")
	require.Error(t, err)
	require.False(t, errors.Is(err, source.ErrRateLimited))
	require.EqualValues(t, 1, calls.Load(), "only rate limits are retried")
}
