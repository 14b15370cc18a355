package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"btc-trading-sim/internal/types"
)

// setupTestServer creates a test server and a RestClient pointed at it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := &RestClient{
		client:  resty.New().SetBaseURL(server.URL),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // no throttling in tests
		coinID:  "bitcoin",
		fiat:    "usd",
	}
	return rc, server
}

func TestFetchTicker(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/simple/price", r.URL.Path)
			assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
			assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
			assert.Equal(t, "true", r.URL.Query().Get("include_24hr_change"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"bitcoin": {"usd": 64250.5, "usd_24h_change": 2.4, "usd_24h_vol": 18500000000}}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		payload, err := rc.FetchTicker(context.Background())
		require.NoError(t, err)
		require.NotNil(t, payload.PriceUSD)
		assert.Equal(t, 64250.5, *payload.PriceUSD)
		assert.Equal(t, 2.4, payload.Change24h)
		assert.Equal(t, 1.85e10, payload.Volume24h)
	})

	t.Run("MissingUSDPrice", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"bitcoin": {"usd_24h_change": 2.4}}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		payload, err := rc.FetchTicker(context.Background())
		assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
		assert.Contains(t, err.Error(), "missing usd price")
		assert.Nil(t, payload)
	})

	t.Run("UnknownCoinInResponse", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"dogecoin": {"usd": 0.1}}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.FetchTicker(context.Background())
		assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status": {"error_code": 429}}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.FetchTicker(context.Background())
		assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("CancelledContext", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := rc.FetchTicker(ctx)
		assert.Error(t, err)
	})
}

func TestCoinIDFor(t *testing.T) {
	assert.Equal(t, "bitcoin", coinIDFor(""))
	assert.Equal(t, "bitcoin", coinIDFor("BTC"))
	assert.Equal(t, "ethereum", coinIDFor("ETH"))
	assert.Equal(t, "solana", coinIDFor("solana"))
}
