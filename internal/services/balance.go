package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/store"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"
	"pulsechain-portfolio-api/pkg/mutex"
	"pulsechain-portfolio-api/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AggregatorOptions tunes wallet aggregation
type AggregatorOptions struct {
	RescanImportant bool
	ImportantTokens []string
	DefaultLimit    int
	MaxLimit        int
}

// BalanceAggregator builds wallet snapshots from the provider layer,
// caching the full sorted token list and serving pages from it.
type BalanceAggregator struct {
	gateway   BalanceGateway
	scheduler *BatchScheduler
	caches    *Caches
	locks     *mutex.KeyedMutex
	logos     store.LogoStore
	progress  store.ProgressSink
	metrics   *metrics.MetricsCollector
	opts      AggregatorOptions
	log       *logger.Logger
}

// NewBalanceAggregator creates a BalanceAggregator
func NewBalanceAggregator(gateway BalanceGateway, scheduler *BatchScheduler, caches *Caches, logos store.LogoStore,
	progress store.ProgressSink, mc *metrics.MetricsCollector, opts AggregatorOptions) *BalanceAggregator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	return &BalanceAggregator{
		gateway:   gateway,
		scheduler: scheduler,
		caches:    caches,
		locks:     mutex.New(),
		logos:     logos,
		progress:  progress,
		metrics:   mc,
		opts:      opts,
		log:       logger.Component("balance_aggregator"),
	}
}

// ValidateAddress reports whether address is a 20-byte hex address
func ValidateAddress(address string) error {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return fmt.Errorf("invalid wallet address %q", address)
	}
	return nil
}

func (a *BalanceAggregator) clampLimit(limit int) int {
	if limit < 0 {
		return a.opts.DefaultLimit
	}
	if limit > a.opts.MaxLimit {
		return a.opts.MaxLimit
	}
	return limit
}

// GetWalletSnapshot returns one page of the wallet's holdings. It never
// panics or errors; failures are reported through Status and Error.
// A limit of 0 returns every token.
func (a *BalanceAggregator) GetWalletSnapshot(ctx context.Context, address string, page, limit int, forceRefresh bool) (snapshot *models.WalletSnapshot) {
	startTime := time.Now()
	key := models.NormalizeAddress(address)
	ctx = logger.ContextWithWallet(ctx, key)
	log := a.log.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Wallet aggregation panicked", zap.Any("panic", r), zap.Stack("stack"))
			snapshot = models.EmptySnapshot(key, models.StatusError, "internal error while aggregating wallet")
		}
	}()

	if err := ValidateAddress(address); err != nil {
		log.Debug("Rejected wallet address", zap.Error(err))
		return models.EmptySnapshot(key, models.StatusError, err.Error())
	}
	limit = a.clampLimit(limit)

	if forceRefresh {
		a.caches.Balances.Invalidate(key)
	} else if cached, ok := a.cachedSnapshot(key); ok {
		log.Debug("Cache hit for wallet snapshot")
		return Paginate(cached, page, limit)
	}

	waited := a.locks.Lock(key)
	defer a.locks.Unlock(key)
	if waited > time.Millisecond {
		a.metrics.RecordMutexWait()
	}

	// Another request may have built the snapshot while we waited.
	if !forceRefresh {
		if cached, ok := a.cachedSnapshot(key); ok {
			log.Debug("Snapshot built by concurrent request")
			return Paginate(cached, page, limit)
		}
	}

	full := a.build(ctx, key)
	if full.Status != models.StatusError {
		a.caches.Balances.Set(key, full)
	}

	log.Info("Aggregated wallet",
		zap.Int("tokens", full.TokenCount),
		zap.Float64("total_value", full.TotalValue),
		zap.String("status", string(full.Status)),
		zap.String("source", full.Source),
		zap.Duration("duration", time.Since(startTime)),
	)
	return Paginate(full, page, limit)
}

func (a *BalanceAggregator) cachedSnapshot(key string) (*models.WalletSnapshot, bool) {
	cached, ok := a.caches.Balances.Get(key)
	if !ok {
		a.metrics.RecordCacheMiss(NamespaceBalance)
		return nil, false
	}
	a.metrics.RecordCacheHit(NamespaceBalance)
	c := *cached
	c.Cached = true
	return &c, true
}

// build runs the full aggregation for one wallet
func (a *BalanceAggregator) build(ctx context.Context, wallet string) *models.WalletSnapshot {
	log := a.log.WithContext(ctx)
	a.reportProgress(ctx, wallet, models.ProgressFetchingBalances, 0, 0, "Fetching balances")

	native, nativeErr := a.gateway.FetchNativeBalance(ctx, wallet)
	if nativeErr != nil {
		log.Warn("Native balance unavailable", zap.Error(nativeErr))
		a.metrics.RecordDegraded("native_balance")
	}

	result, balancesErr := a.gateway.FetchBalances(ctx, wallet)
	if balancesErr != nil {
		log.Warn("Token balances unavailable", zap.Error(balancesErr))
		a.metrics.RecordDegraded("token_balances")
	}

	if nativeErr != nil && balancesErr != nil {
		a.reportProgress(ctx, wallet, models.ProgressFailed, 0, 0, "No balance data available")
		return models.EmptySnapshot(wallet, models.StatusError,
			errors.Join(nativeErr, balancesErr).Error())
	}

	var raw []models.RawBalance
	source := ""
	if result != nil {
		raw = result.Balances
		source = result.Source
	}
	balances := mergeBalances(native, raw)

	if a.opts.RescanImportant && a.gateway.HasChain() {
		balances = append(balances, a.rescanImportant(ctx, wallet, balances)...)
	}

	quotes := a.resolvePrices(ctx, wallet, balances)

	snapshot := &models.WalletSnapshot{
		Address:       wallet,
		Tokens:        make([]models.Token, 0, len(balances)),
		NativeBalance: "0",
		Source:        source,
		Status:        models.StatusOK,
		UpdatedAt:     time.Now().UTC(),
	}
	if native != nil {
		snapshot.NativeBalance = native.String()
	}

	for _, b := range balances {
		quote := quotes[b.TokenAddress]
		if b.PossibleSpam && quote == nil {
			continue
		}
		token := models.Token{
			Address:          b.TokenAddress,
			Symbol:           b.Symbol,
			Name:             b.Name,
			Decimals:         b.Decimals,
			Balance:          b.Balance,
			BalanceFormatted: humanBalance(b.Balance, b.Decimals),
			Verified:         b.Verified,
			IsNative:         b.IsNative,
			IsLiquidityPool:  models.IsLiquidityPoolToken(b.Symbol, b.Name),
		}
		token.Logo = a.resolveLogo(ctx, b)
		token.ApplyQuote(quote)
		snapshot.Tokens = append(snapshot.Tokens, token)
		snapshot.TotalValue += token.Value
	}

	SortTokens(snapshot.Tokens)
	snapshot.TokenCount = len(snapshot.Tokens)

	if nativeErr != nil || balancesErr != nil {
		snapshot.Status = models.StatusDegraded
		if balancesErr != nil {
			snapshot.Error = balancesErr.Error()
		} else {
			snapshot.Error = nativeErr.Error()
		}
	}

	a.reportProgress(ctx, wallet, models.ProgressComplete, 0, 0,
		fmt.Sprintf("Loaded %d tokens", snapshot.TokenCount))
	return snapshot
}

// mergeBalances dedupes by address. The native balance read directly from
// the chain wins over any native entry a provider reported.
func mergeBalances(native *big.Int, raw []models.RawBalance) []models.RawBalance {
	seen := make(map[string]bool, len(raw)+1)
	merged := make([]models.RawBalance, 0, len(raw)+1)

	if native != nil {
		seen[models.NativeAddress] = true
		if native.Sign() > 0 {
			merged = append(merged, models.RawBalance{
				TokenAddress: models.NativeAddress,
				Symbol:       models.NativeSymbol,
				Name:         models.NativeName,
				Decimals:     models.NativeDecimals,
				Balance:      native.String(),
				Verified:     true,
				IsNative:     true,
			})
		}
	}

	for _, b := range raw {
		address := models.NormalizeAddress(b.TokenAddress)
		if b.IsNative {
			address = models.NativeAddress
		}
		if seen[address] {
			continue
		}
		seen[address] = true
		b.TokenAddress = address
		merged = append(merged, b)
	}
	return merged
}

// rescanImportant reads allow-listed tokens the providers did not report
// straight from the chain.
func (a *BalanceAggregator) rescanImportant(ctx context.Context, wallet string, have []models.RawBalance) []models.RawBalance {
	present := make(map[string]bool, len(have))
	for _, b := range have {
		present[b.TokenAddress] = true
	}

	var (
		mu        sync.Mutex
		recovered []models.RawBalance
		g         errgroup.Group
	)
	g.SetLimit(4)
	for _, token := range a.opts.ImportantTokens {
		address := models.NormalizeAddress(token)
		if present[address] || models.IsNativeToken(address, false) {
			continue
		}
		present[address] = true
		g.Go(func() error {
			balance, err := a.gateway.FetchTokenBalance(ctx, address, wallet)
			if err != nil {
				a.log.WithContext(ctx).Debug("Important token rescan failed",
					zap.String("token", address), zap.Error(err))
				return nil
			}
			if balance.Sign() <= 0 {
				return nil
			}
			meta := a.gateway.TokenMetadata(ctx, address)

			mu.Lock()
			defer mu.Unlock()
			recovered = append(recovered, models.RawBalance{
				TokenAddress: address,
				Symbol:       meta.Symbol,
				Name:         meta.Name,
				Decimals:     meta.Decimals,
				Balance:      balance.String(),
			})
			return nil
		})
	}
	_ = g.Wait()

	if len(recovered) > 0 {
		a.log.WithContext(ctx).Info("Recovered tokens missed by providers", zap.Int("count", len(recovered)))
	}
	return recovered
}

// resolvePrices seeds the price cache with quotes that came with the
// balances and resolves the rest through the batch scheduler.
func (a *BalanceAggregator) resolvePrices(ctx context.Context, wallet string, balances []models.RawBalance) map[string]*models.PriceQuote {
	quotes := make(map[string]*models.PriceQuote, len(balances))
	var missing []string

	for _, b := range balances {
		if b.Quote != nil && b.Quote.USDPrice > 0 {
			quotes[b.TokenAddress] = b.Quote
			a.caches.Prices.Set(b.TokenAddress, b.Quote)
			continue
		}
		missing = append(missing, b.TokenAddress)
	}
	if len(missing) == 0 {
		return quotes
	}

	resolved := a.scheduler.Resolve(ctx, missing, func(current, total int) {
		a.reportProgress(ctx, wallet, models.ProgressFetchingPrices, current, total,
			fmt.Sprintf("Fetching prices (batch %d of %d)", current, total))
	})
	for address, quote := range resolved {
		quotes[address] = quote
	}
	return quotes
}

// resolveLogo picks the provider logo, then a stored one, then the default
func (a *BalanceAggregator) resolveLogo(ctx context.Context, b models.RawBalance) string {
	if b.Logo != "" {
		a.saveLogo(ctx, b.TokenAddress, b.Logo)
		return b.Logo
	}
	if a.logos == nil {
		return models.DefaultLogo
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	entry, err := a.logos.GetLogo(lookupCtx, b.TokenAddress)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			a.log.WithContext(ctx).Debug("Logo lookup failed", zap.String("token", b.TokenAddress), zap.Error(err))
		}
		return models.DefaultLogo
	}
	if entry.URL == "" {
		return models.DefaultLogo
	}
	return entry.URL
}

func (a *BalanceAggregator) saveLogo(ctx context.Context, address, url string) {
	if a.logos == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := a.logos.SaveLogo(saveCtx, models.LogoEntry{
		Address:   address,
		URL:       url,
		Source:    "provider",
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.log.WithContext(ctx).Debug("Failed to save logo", zap.String("token", address), zap.Error(err))
	}
}

func (a *BalanceAggregator) reportProgress(ctx context.Context, wallet, status string, current, total int, message string) {
	if a.progress == nil {
		return
	}
	err := a.progress.UpdateProgress(context.WithoutCancel(ctx), wallet, models.Progress{
		Status:       status,
		CurrentBatch: current,
		TotalBatches: total,
		Message:      message,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		a.log.WithContext(ctx).Debug("Failed to report progress", zap.Error(err))
	}
}

// GetProgress returns the last progress report for a wallet
func (a *BalanceAggregator) GetProgress(ctx context.Context, address string) (*models.Progress, error) {
	if a.progress == nil {
		return nil, models.ErrNotFound
	}
	return a.progress.GetProgress(ctx, address)
}

func humanBalance(raw string, decimals int) float64 {
	value, ok := units.ParseBigInt(raw)
	if !ok {
		return 0
	}
	return units.ToFloat(value, decimals)
}

// GetCacheStats returns cache statistics
func (a *BalanceAggregator) GetCacheStats() map[string]interface{} {
	stats := map[string]interface{}{
		"active_locks": a.locks.Size(),
	}
	for name, size := range a.caches.Sizes() {
		stats[name+"_entries"] = size
	}
	return stats
}
