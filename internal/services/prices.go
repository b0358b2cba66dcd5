package services

import (
	"context"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/providers"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"
	"pulsechain-portfolio-api/pkg/mutex"

	"go.uber.org/zap"
)

// PriceService answers single and batch price requests from the shared
// price cache, going upstream only on a miss.
type PriceService struct {
	gateway   PriceGateway
	scheduler *BatchScheduler
	caches    *Caches
	locks     *mutex.KeyedMutex
	metrics   *metrics.MetricsCollector
	log       *logger.Logger
}

// NewPriceService creates a PriceService
func NewPriceService(gateway PriceGateway, scheduler *BatchScheduler, caches *Caches, mc *metrics.MetricsCollector) *PriceService {
	return &PriceService{
		gateway:   gateway,
		scheduler: scheduler,
		caches:    caches,
		locks:     mutex.New(),
		metrics:   mc,
		log:       logger.Component("price_service"),
	}
}

// GetTokenPrice returns the USD quote for a token or nil when no provider
// prices it. Within the price TTL the same quote is returned without any
// upstream call.
func (ps *PriceService) GetTokenPrice(ctx context.Context, address string) *models.PriceQuote {
	key := providers.CanonicalAddress(address)

	if quote, ok := ps.caches.Prices.Get(key); ok {
		ps.metrics.RecordCacheHit(NamespacePrice)
		return quote
	}
	ps.metrics.RecordCacheMiss(NamespacePrice)

	waited := ps.locks.Lock(key)
	defer ps.locks.Unlock(key)
	if waited > time.Millisecond {
		ps.metrics.RecordMutexWait()
	}

	if quote, ok := ps.caches.Prices.Get(key); ok {
		return quote
	}

	quote := ps.gateway.FetchPrice(ctx, key)
	if quote == nil {
		ps.metrics.RecordDegraded("price_missing")
		ps.log.WithContext(ctx).Debug("No price for token", zap.String("token", key))
		return nil
	}
	ps.caches.Prices.Set(key, quote)
	return quote
}

// GetBatchTokenPrices returns quotes keyed by canonical address for every
// token that could be priced
func (ps *PriceService) GetBatchTokenPrices(ctx context.Context, addresses []string) map[string]*models.PriceQuote {
	if len(addresses) == 0 {
		return map[string]*models.PriceQuote{}
	}
	return ps.scheduler.Resolve(ctx, addresses, nil)
}
