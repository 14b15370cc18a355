package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/types"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// TickerPayload is the normalized result of one source fetch. PriceUSD is
// a pointer so a missing core field can be told apart from zero.
type TickerPayload struct {
	PriceUSD  *float64
	Change24h float64
	Volume24h float64
}

// SourceClient fetches the external market price.
type SourceClient interface {
	FetchTicker(ctx context.Context) (*TickerPayload, error)
}

// RestClient is a rate-limited client for a CoinGecko-style price API.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	coinID  string
	fiat    string
}

var _ SourceClient = (*RestClient)(nil)

// NewRestClient creates a new price source client.
func NewRestClient(cfg *config.PriceSource, logger *zap.Logger) *RestClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &RestClient{
		client:  client,
		logger:  logger.Named("price-client"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		coinID:  coinIDFor(cfg.Symbol),
		fiat:    "usd",
	}
}

// coinIDFor maps a ticker symbol to the source's coin identifier.
func coinIDFor(symbol string) string {
	switch symbol {
	case "", "BTC":
		return "bitcoin"
	case "ETH":
		return "ethereum"
	default:
		return symbol
	}
}

// simplePriceEntry mirrors one coin entry of the /simple/price response.
type simplePriceEntry struct {
	USD       *float64 `json:"usd"`
	Change24h float64  `json:"usd_24h_change"`
	Volume24h float64  `json:"usd_24h_vol"`
}

// FetchTicker fetches the current price with 24h change and volume. The
// request is bounded by the client timeout; callers see a failed fetch,
// never a hang.
func (c *RestClient) FetchTicker(ctx context.Context) (*TickerPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var result map[string]simplePriceEntry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                 c.coinID,
			"vs_currencies":       c.fiat,
			"include_24hr_change": "true",
			"include_24hr_vol":    "true",
		}).
		SetResult(&result).
		Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("price fetch: %w: %v", types.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("price source returned status %s: %w", resp.Status(), types.ErrUpstreamUnavailable)
	}

	entry, ok := result[c.coinID]
	if !ok || entry.USD == nil {
		// Core numeric field missing: the payload is unusable.
		return nil, fmt.Errorf("price source payload missing usd price for %s: %w", c.coinID, types.ErrUpstreamUnavailable)
	}

	c.logger.Debug("Fetched ticker",
		zap.String("coin", c.coinID),
		zap.Float64("usd", *entry.USD))

	return &TickerPayload{
		PriceUSD:  entry.USD,
		Change24h: entry.Change24h,
		Volume24h: entry.Volume24h,
	}, nil
}
