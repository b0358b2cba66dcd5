package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/ratelimiter"
)

// MarketName identifies the market-data provider
const MarketName = "market"

// maxMarketTokensPerCall is the number of addresses accepted per request
const maxMarketTokensPerCall = 30

// MarketConfig configures the market-data client
type MarketConfig struct {
	BaseURL string
	ChainID string
	Timeout time.Duration
}

// MarketProvider reads pool prices from a DexScreener-style API. Every
// request is gated by a shared token bucket.
type MarketProvider struct {
	http    *httpClient
	baseURL string
	chainID string
	limiter *ratelimiter.TokenBucket
}

// NewMarketProvider creates a market-data client gated by limiter
func NewMarketProvider(cfg MarketConfig, limiter *ratelimiter.TokenBucket, opts ...Option) *MarketProvider {
	chainID := cfg.ChainID
	if chainID == "" {
		chainID = "pulsechain"
	}
	if limiter == nil {
		limiter = ratelimiter.New(ratelimiter.DefaultConfig())
	}
	return &MarketProvider{
		http:    newHTTPClient(MarketName, cfg.Timeout, nil, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		chainID: chainID,
		limiter: limiter,
	}
}

// Name returns the provider name
func (p *MarketProvider) Name() string { return MarketName }

// Limiter exposes the bucket gating this provider
func (p *MarketProvider) Limiter() *ratelimiter.TokenBucket { return p.limiter }

type marketToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

type marketPair struct {
	ChainID     string      `json:"chainId"`
	DexID       string      `json:"dexId"`
	PairAddress string      `json:"pairAddress"`
	BaseToken   marketToken `json:"baseToken"`
	QuoteToken  marketToken `json:"quoteToken"`
	PriceUSD    flexFloat   `json:"priceUsd"`
	PriceChange struct {
		H24 flexFloat `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD flexFloat `json:"usd"`
	} `json:"liquidity"`
}

type marketResponse struct {
	Pairs []marketPair `json:"pairs"`
}

// Price returns the quote from the deepest pool trading token
func (p *MarketProvider) Price(ctx context.Context, token string) (*models.PriceQuote, error) {
	quotes, err := p.BatchPrices(ctx, []string{token})
	if err != nil {
		return nil, err
	}
	quote, ok := quotes[models.NormalizeAddress(token)]
	if !ok {
		return nil, models.NewProviderError(MarketName, "price", models.ErrNotFound, nil)
	}
	return quote, nil
}

// BatchPrices resolves tokens in chunks, one rate-limited request per chunk.
// Quotes already fetched are returned alongside the error that stopped the
// remaining chunks.
func (p *MarketProvider) BatchPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	result := make(map[string]*models.PriceQuote, len(tokens))

	for start := 0; start < len(tokens); start += maxMarketTokensPerCall {
		end := start + maxMarketTokensPerCall
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := make([]string, 0, end-start)
		for _, t := range tokens[start:end] {
			chunk = append(chunk, models.NormalizeAddress(t))
		}

		if err := p.fetchChunk(ctx, chunk, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *MarketProvider) fetchChunk(ctx context.Context, chunk []string, result map[string]*models.PriceQuote) error {
	if !p.limiter.ConsumeToken() {
		return models.NewProviderError(MarketName, "prices", models.ErrRateLimited,
			fmt.Errorf("local bucket empty, retry in %s", p.limiter.WaitTime()))
	}

	var resp marketResponse
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", p.baseURL, strings.Join(chunk, ","))
	if err := p.http.getJSON(ctx, "prices", endpoint, &resp); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			p.limiter.HandleRateLimit()
		}
		return err
	}

	wanted := make(map[string]bool, len(chunk))
	for _, a := range chunk {
		wanted[a] = true
	}

	best := make(map[string]marketPair)
	for _, pair := range resp.Pairs {
		if !strings.EqualFold(pair.ChainID, p.chainID) {
			continue
		}
		base := models.NormalizeAddress(pair.BaseToken.Address)
		if !wanted[base] || !pair.PriceUSD.valid || pair.PriceUSD.value <= 0 {
			continue
		}
		if current, ok := best[base]; !ok || pair.Liquidity.USD.value > current.Liquidity.USD.value {
			best[base] = pair
		}
	}

	now := time.Now().UTC()
	for address, pair := range best {
		result[address] = &models.PriceQuote{
			TokenAddress:     address,
			USDPrice:         pair.PriceUSD.value,
			PercentChange24h: pair.PriceChange.H24.value,
			ExchangeName:     pair.DexID,
			Source:           MarketName,
			Timestamp:        now,
		}
	}
	return nil
}
