package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/tender-ingest/internal/circuitbreaker"
	"github.com/tender-ingest/internal/config"
	"github.com/tender-ingest/internal/logging"
)

// RateSource labels where a conversion rate came from.
const (
	RateSourceLive     = "live"
	RateSourceCache    = "cache"
	RateSourceFallback = "fallback"
)

const rateCacheKey = "exchange:kzt"

// Rates holds KZT conversion rates and their provenance.
type Rates struct {
	USD    float64 `json:"usd"`
	MYR    float64 `json:"myr"`
	Source string  `json:"source"`
}

// RateProvider supplies currency conversion rates for the transformer.
type RateProvider interface {
	GetRates(ctx context.Context) Rates
}

// ExchangeClient fetches live KZT rates with a Redis-backed cache and a
// static fallback table. Rate lookups never fail: the worst case is the
// fallback rates with provenance recorded on the converted record.
type ExchangeClient struct {
	cfg     *config.ExchangeConfig
	http    *http.Client
	redis   *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

// NewExchangeClient creates an exchange rate client. redis may be nil, which
// disables caching.
func NewExchangeClient(cfg *config.ExchangeConfig, redisClient *redis.Client, logger *logging.Logger) *ExchangeClient {
	return &ExchangeClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		redis:   redisClient,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("exchange-rate-api"), logger),
		logger:  logger,
	}
}

// GetRates returns the current KZT rates: cache first, then the live API,
// then the static fallback. While the rate API's breaker is open the live
// call is skipped entirely.
func (c *ExchangeClient) GetRates(ctx context.Context) Rates {
	if cached, ok := c.fromCache(ctx); ok {
		return cached
	}

	var live Rates
	err := c.breaker.Execute(ctx, func() error {
		var fetchErr error
		live, fetchErr = c.fetchLive(ctx)
		return fetchErr
	})
	if err != nil {
		c.logger.WithError(err).Warn("Live exchange rate fetch failed, using fallback table")
		return Rates{
			USD:    c.cfg.FallbackUSD,
			MYR:    c.cfg.FallbackMYR,
			Source: RateSourceFallback,
		}
	}

	c.toCache(ctx, live)
	return live
}

func (c *ExchangeClient) fromCache(ctx context.Context) (Rates, bool) {
	if c.redis == nil {
		return Rates{}, false
	}

	raw, err := c.redis.Get(ctx, rateCacheKey).Result()
	if err != nil {
		return Rates{}, false
	}

	var rates Rates
	if err := json.Unmarshal([]byte(raw), &rates); err != nil {
		return Rates{}, false
	}
	rates.Source = RateSourceCache
	return rates, true
}

func (c *ExchangeClient) toCache(ctx context.Context, rates Rates) {
	if c.redis == nil {
		return
	}

	payload, err := json.Marshal(rates)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, rateCacheKey, payload, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to cache exchange rates")
	}
}

func (c *ExchangeClient) fetchLive(ctx context.Context) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL, nil)
	if err != nil {
		return Rates{}, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Rates{}, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rates{}, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	// exchangerate-api v4 shape: {"base":"KZT","rates":{"USD":0.002,...}}
	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Rates{}, fmt.Errorf("failed to decode rate response: %w", err)
	}

	usd, okUSD := body.Rates["USD"]
	myr, okMYR := body.Rates["MYR"]
	if !okUSD && !okMYR {
		return Rates{}, fmt.Errorf("rate response carries no usable rates")
	}
	if !okUSD {
		usd = c.cfg.FallbackUSD
	}
	if !okMYR {
		myr = c.cfg.FallbackMYR
	}

	return Rates{USD: usd, MYR: myr, Source: RateSourceLive}, nil
}

// StaticRates is a RateProvider pinned to fixed values, used in tests and as
// an explicit offline mode.
type StaticRates struct {
	USD float64
	MYR float64
}

// GetRates implements RateProvider.
func (s StaticRates) GetRates(ctx context.Context) Rates {
	return Rates{USD: s.USD, MYR: s.MYR, Source: RateSourceFallback}
}

var _ RateProvider = (*ExchangeClient)(nil)
var _ RateProvider = StaticRates{}
