package fx_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pricerefresh/internal/fx"
)

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestRate_SameCurrencyIsOne(t *testing.T) {
	t.Parallel()

	s := fx.New(fx.Config{}, nil)
	rate, err := s.Rate(t.Context(), "GBP", "GBP")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestRate_FetchesAndCaches(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	// One upstream call serves both lookups; the second hits the cache.
	client.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "USD", req.URL.Query().Get("from"))
			require.Equal(t, "GBP", req.URL.Query().Get("to"))
			return jsonResponse(`{"base":"USD","rates":{"GBP":0.74}}`), nil
		}).
		Times(1)

	s := fx.New(fx.Config{TTL: time.Hour}, client)
	for i := 0; i < 2; i++ {
		rate, err := s.Rate(t.Context(), "USD", "GBP")
		require.NoError(t, err)
		require.True(t, rate.Equal(decimal.RequireFromString("0.74")), "rate: %s", rate)
	}
}

func TestRate_FallsBackToLastKnown(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	gomock.InOrder(
		client.EXPECT().Do(gomock.Any()).Return(jsonResponse(`{"base":"USD","rates":{"GBP":0.74}}`), nil),
		client.EXPECT().Do(gomock.Any()).Return(nil, errors.New("upstream down")),
	)

	s := fx.New(fx.Config{TTL: time.Millisecond}, client)
	rate, err := s.Rate(t.Context(), "USD", "GBP")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("0.74")))

	// Let the cached rate expire, then fail the live fetch: the stale
	// last-known rate is still served.
	time.Sleep(5 * time.Millisecond)
	rate, err = s.Rate(t.Context(), "USD", "GBP")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("0.74")))
}

func TestRate_NoRateAtAll(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(nil, errors.New("upstream down"))

	s := fx.New(fx.Config{}, client)
	_, err := s.Rate(t.Context(), "USD", "GBP")
	require.Error(t, err)
}

func TestRefresh_PrefetchesPairs(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("from") {
			case "USD":
				return jsonResponse(`{"base":"USD","rates":{"GBP":0.74}}`), nil
			case "EUR":
				return jsonResponse(`{"base":"EUR","rates":{"GBP":0.85}}`), nil
			}
			return nil, errors.New("unexpected pair")
		}).
		Times(2)

	s := fx.New(fx.Config{TTL: time.Hour}, client)
	// GBP itself is skipped, no third call.
	require.NoError(t, s.Refresh(t.Context(), []string{"USD", "EUR", "GBP"}, "GBP"))
}
