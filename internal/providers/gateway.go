// Package providers wraps the upstream balance, price, history and chain
// sources behind a single fallback-aware gateway.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/retry"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/units"

	"go.uber.org/zap"
)

// BalanceSource lists the tokens a wallet holds
type BalanceSource interface {
	Name() string
	Balances(ctx context.Context, wallet string) ([]models.RawBalance, error)
}

// PriceSource quotes tokens in USD
type PriceSource interface {
	Name() string
	Price(ctx context.Context, token string) (*models.PriceQuote, error)
	BatchPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error)
}

// HistorySource pages through a wallet's transactions
type HistorySource interface {
	Name() string
	TransactionPage(ctx context.Context, wallet string, limit int, cursor string) (*models.TransactionPage, error)
}

// NativeBalanceSource reads the native PLS balance
type NativeBalanceSource interface {
	NativeBalance(ctx context.Context, wallet string) (*big.Int, error)
}

// Sources are the upstreams in priority order
type Sources struct {
	Balances []BalanceSource
	Prices   []PriceSource
	// NativePrices prices PLS through WPLS. Defaults to Prices reversed so
	// the market provider's pool liquidity is consulted first.
	NativePrices []PriceSource
	History      []HistorySource
	Native       []NativeBalanceSource
	Chain        ChainReader
}

// BalanceResult is what the first usable balance source returned
type BalanceResult struct {
	Balances []models.RawBalance
	Source   string
}

// Gateway is the single entrypoint to upstream data. Provider failures are
// absorbed here and surface only as "try the next one".
type Gateway struct {
	sources  Sources
	metadata *MetadataResolver
	policy   retry.Policy
	log      *logger.Logger
}

// NewGateway creates a gateway over sources
func NewGateway(sources Sources, metadata *MetadataResolver, policy retry.Policy) *Gateway {
	if sources.NativePrices == nil {
		for i := len(sources.Prices) - 1; i >= 0; i-- {
			sources.NativePrices = append(sources.NativePrices, sources.Prices[i])
		}
	}
	g := &Gateway{
		sources:  sources,
		metadata: metadata,
		policy:   policy,
		log:      logger.Component("gateway"),
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			g.log.Debug("Retrying upstream call",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
	}
	return g
}

// Policy returns the retry policy used for upstream calls
func (g *Gateway) Policy() retry.Policy { return g.policy }

// Metadata returns the token metadata resolver
func (g *Gateway) Metadata() *MetadataResolver { return g.metadata }

// FetchNativeBalance reads the native balance from the first source that answers
func (g *Gateway) FetchNativeBalance(ctx context.Context, wallet string) (*big.Int, error) {
	var errs []error
	for _, src := range g.sources.Native {
		balance, err := retry.Value(ctx, g.policy, func(ctx context.Context) (*big.Int, error) {
			return src.NativeBalance(ctx, wallet)
		})
		if err == nil && balance != nil {
			return balance, nil
		}
		g.log.WithContext(ctx).Warn("Native balance source failed", zap.Error(err))
		errs = append(errs, err)
	}
	return nil, allFailed("native balance", errs)
}

// FetchBalances walks the balance sources until one returns usable tokens.
// An empty result with a nil error means every reachable source reported
// nothing held.
func (g *Gateway) FetchBalances(ctx context.Context, wallet string) (*BalanceResult, error) {
	var errs []error
	answered := false

	for _, src := range g.sources.Balances {
		raw, err := retry.Value(ctx, g.policy, func(ctx context.Context) ([]models.RawBalance, error) {
			return src.Balances(ctx, wallet)
		})
		if err != nil {
			g.log.WithContext(ctx).Warn("Balance source failed, trying next",
				zap.String("source", src.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		answered = true

		usable := g.normalizeBalances(raw)
		if len(usable) == 0 {
			g.log.WithContext(ctx).Debug("Balance source returned no usable tokens",
				zap.String("source", src.Name()), zap.Int("raw", len(raw)))
			continue
		}
		return &BalanceResult{Balances: usable, Source: src.Name()}, nil
	}

	if !answered && len(errs) > 0 {
		return &BalanceResult{}, allFailed("balances", errs)
	}
	return &BalanceResult{}, nil
}

// normalizeBalances relabels native entries, drops zero and unparsable
// balances and records the metadata it saw.
func (g *Gateway) normalizeBalances(raw []models.RawBalance) []models.RawBalance {
	usable := make([]models.RawBalance, 0, len(raw))
	for _, b := range raw {
		b = NormalizeNative(b)
		amount, ok := units.ParseBigInt(b.Balance)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		b.Balance = amount.String()
		if g.metadata != nil && !b.IsNative {
			g.metadata.Remember(models.TokenMeta{
				Address:  b.TokenAddress,
				Symbol:   b.Symbol,
				Name:     b.Name,
				Decimals: b.Decimals,
			})
		}
		usable = append(usable, b)
	}
	return usable
}

// NormalizeNative rewrites any entry the native predicate accepts to the
// canonical PLS identity. Its quote is dropped so the price is re-read from
// WPLS liquidity.
func NormalizeNative(b models.RawBalance) models.RawBalance {
	if !models.IsNativeToken(b.TokenAddress, b.IsNative) {
		b.TokenAddress = models.NormalizeAddress(b.TokenAddress)
		return b
	}
	b.TokenAddress = models.NativeAddress
	b.Symbol = models.NativeSymbol
	b.Name = models.NativeName
	b.Decimals = models.NativeDecimals
	b.IsNative = true
	b.Verified = true
	b.PossibleSpam = false
	b.Quote = nil
	return b
}

// CanonicalAddress maps every native alias to NativeAddress and lowercases
// everything else.
func CanonicalAddress(token string) string {
	if models.IsNativeToken(token, false) {
		return models.NativeAddress
	}
	return models.NormalizeAddress(token)
}

// priceAddress is the contract whose liquidity prices token
func priceAddress(token string) string {
	if models.IsNativeToken(token, false) {
		return models.WrappedNativeAddress
	}
	return models.NormalizeAddress(token)
}

// PriceLookup asks each price source once. When no source had a quote the
// error is retryable only if some source was unavailable.
func (g *Gateway) PriceLookup(ctx context.Context, token string) (*models.PriceQuote, error) {
	address := CanonicalAddress(token)
	native := address == models.NativeAddress
	sources := g.sources.Prices
	if native {
		sources = g.sources.NativePrices
	}

	var transient error
	for _, src := range sources {
		quote, err := src.Price(ctx, priceAddress(address))
		if err == nil && quote != nil {
			return relabelQuote(quote, address), nil
		}
		if models.IsRetryable(err) && transient == nil {
			transient = err
		}
	}
	if transient != nil {
		return nil, transient
	}
	return nil, models.NewProviderError("gateway", "price", models.ErrNotFound, fmt.Errorf("no quote for %s", address))
}

// FetchPrice resolves a single quote with retries; nil means unpriced
func (g *Gateway) FetchPrice(ctx context.Context, token string) *models.PriceQuote {
	quote, err := retry.Value(ctx, g.policy, func(ctx context.Context) (*models.PriceQuote, error) {
		return g.PriceLookup(ctx, token)
	})
	if err != nil {
		g.log.WithContext(ctx).Debug("Price unavailable", zap.String("token", token), zap.Error(err))
		return nil
	}
	return quote
}

// BatchPriceLookup resolves tokens through each source's batch endpoint,
// passing only still-unpriced tokens down the chain. Found quotes are
// returned even when the error is non-nil.
func (g *Gateway) BatchPriceLookup(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	result := make(map[string]*models.PriceQuote, len(tokens))

	pending := make(map[string]bool)
	nativeRequested := false
	for _, t := range tokens {
		address := models.NormalizeAddress(t)
		if models.IsNativeToken(address, false) {
			nativeRequested = true
			continue
		}
		pending[address] = true
	}

	var errs []error
	for _, src := range g.sources.Prices {
		if len(pending) == 0 {
			break
		}
		batch := make([]string, 0, len(pending))
		for address := range pending {
			batch = append(batch, address)
		}

		quotes, err := src.BatchPrices(ctx, batch)
		for address, quote := range quotes {
			address = models.NormalizeAddress(address)
			if !pending[address] || quote == nil {
				continue
			}
			result[address] = relabelQuote(quote, address)
			delete(pending, address)
		}
		if err != nil {
			g.log.WithContext(ctx).Debug("Batch price source failed",
				zap.String("source", src.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if nativeRequested {
		quote, err := g.PriceLookup(ctx, models.NativeAddress)
		if err == nil {
			result[models.NativeAddress] = quote
		} else if models.IsRetryable(err) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 && (len(pending) > 0 || (nativeRequested && result[models.NativeAddress] == nil)) {
		return result, joinRetryable(errs)
	}
	return result, nil
}

// FetchBatchPrices resolves quotes for tokens with retries, keeping partial
// results. Tokens absent from the map are unpriced.
func (g *Gateway) FetchBatchPrices(ctx context.Context, tokens []string) map[string]*models.PriceQuote {
	result := make(map[string]*models.PriceQuote, len(tokens))
	remaining := tokens

	_ = retry.Do(ctx, g.policy, func(ctx context.Context) error {
		quotes, err := g.BatchPriceLookup(ctx, remaining)
		for address, quote := range quotes {
			result[address] = quote
		}
		next := remaining[:0:0]
		for _, t := range remaining {
			if _, ok := result[CanonicalAddress(t)]; !ok {
				next = append(next, t)
			}
		}
		remaining = next
		return err
	})
	return result
}

// FetchTransactionPage reads one history page. Cursors carry the name of
// the source that issued them so the next page goes to the same source.
func (g *Gateway) FetchTransactionPage(ctx context.Context, wallet string, limit int, cursor string) (*models.TransactionPage, error) {
	source, inner := splitCursor(cursor)

	var errs []error
	for _, src := range g.sources.History {
		if source != "" && src.Name() != source {
			continue
		}
		page, err := retry.Value(ctx, g.policy, func(ctx context.Context) (*models.TransactionPage, error) {
			return src.TransactionPage(ctx, wallet, limit, inner)
		})
		if err != nil {
			g.log.WithContext(ctx).Warn("History source failed, trying next",
				zap.String("source", src.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if page.NextCursor != "" {
			page.NextCursor = joinCursor(src.Name(), page.NextCursor)
		}
		if page.Source == "" {
			page.Source = src.Name()
		}
		return page, nil
	}

	if source != "" && len(errs) == 0 {
		return nil, models.NewProviderError("gateway", "history", models.ErrMalformedResponse,
			fmt.Errorf("cursor from unknown source %q", source))
	}
	return nil, allFailed("history", errs)
}

// TokenMetadata resolves metadata, never failing
func (g *Gateway) TokenMetadata(ctx context.Context, token string) models.TokenMeta {
	if g.metadata == nil {
		return models.TokenMeta{Address: models.NormalizeAddress(token), Symbol: models.UnknownSymbol,
			Name: models.UnknownSymbol, Decimals: units.DefaultDecimals}
	}
	return g.metadata.Resolve(ctx, token)
}

// FetchTokenBalance reads one token balance over RPC
func (g *Gateway) FetchTokenBalance(ctx context.Context, token, wallet string) (*big.Int, error) {
	if g.sources.Chain == nil {
		return nil, models.NewProviderError(ChainName, "balance_of", models.ErrProviderUnavailable, errors.New("no rpc configured"))
	}
	return retry.Value(ctx, g.policy, func(ctx context.Context) (*big.Int, error) {
		return g.sources.Chain.TokenBalance(ctx, token, wallet)
	})
}

// HasChain reports whether a direct RPC reader is configured
func (g *Gateway) HasChain() bool { return g.sources.Chain != nil }

func relabelQuote(q *models.PriceQuote, address string) *models.PriceQuote {
	if q.TokenAddress == address {
		return q
	}
	c := *q
	c.TokenAddress = address
	return &c
}

const cursorSep = ":"

func joinCursor(source, cursor string) string {
	return source + cursorSep + cursor
}

func splitCursor(cursor string) (string, string) {
	if cursor == "" {
		return "", ""
	}
	source, inner, ok := strings.Cut(cursor, cursorSep)
	if !ok {
		return "", cursor
	}
	return source, inner
}

func allFailed(op string, errs []error) error {
	if len(errs) == 0 {
		return models.NewProviderError("gateway", op, models.ErrAllProvidersFailed, errors.New("no sources configured"))
	}
	return models.NewProviderError("gateway", op, models.ErrAllProvidersFailed, errors.Join(errs...))
}

// joinRetryable keeps the retryable errors first so callers retry when
// any source was only temporarily down.
func joinRetryable(errs []error) error {
	for _, err := range errs {
		if models.IsRetryable(err) {
			return err
		}
	}
	return errors.Join(errs...)
}
