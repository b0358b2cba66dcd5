package services

import (
	"context"
	"strconv"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/cache"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"

	"go.uber.org/zap"
)

// HistoryOptions bounds history page sizes
type HistoryOptions struct {
	DefaultLimit int
	MaxLimit     int
}

// HistoryService reads transaction pages and classifies them
type HistoryService struct {
	gateway    HistoryGateway
	classifier TransactionClassifier
	caches     *Caches
	metrics    *metrics.MetricsCollector
	opts       HistoryOptions
	log        *logger.Logger
}

// NewHistoryService creates a HistoryService
func NewHistoryService(gateway HistoryGateway, classifier TransactionClassifier, caches *Caches, mc *metrics.MetricsCollector, opts HistoryOptions) *HistoryService {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 25
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	return &HistoryService{
		gateway:    gateway,
		classifier: classifier,
		caches:     caches,
		metrics:    mc,
		opts:       opts,
		log:        logger.Component("history_service"),
	}
}

func historyKey(address string, limit int, cursor string) string {
	return cache.Key(address, strconv.Itoa(limit), cursor)
}

// GetTransactionHistory returns one classified page of the wallet's
// transactions. Upstream failures come back as status "error" with an
// empty list.
func (hs *HistoryService) GetTransactionHistory(ctx context.Context, address string, limit int, cursor string) *models.TransactionHistory {
	startTime := time.Now()

	key := models.NormalizeAddress(address)
	ctx = logger.ContextWithWallet(ctx, key)
	log := hs.log.WithContext(ctx)

	result := &models.TransactionHistory{
		Address:      key,
		Transactions: []models.ClassifiedTransaction{},
		Status:       models.StatusOK,
	}
	if err := ValidateAddress(address); err != nil {
		result.Status = models.StatusError
		result.Error = err.Error()
		return result
	}
	if limit <= 0 {
		limit = hs.opts.DefaultLimit
	}
	if limit > hs.opts.MaxLimit {
		limit = hs.opts.MaxLimit
	}

	cacheKey := historyKey(key, limit, cursor)
	if cached, ok := hs.caches.TxPages.Get(cacheKey); ok {
		hs.metrics.RecordCacheHit(NamespaceTxPage)
		c := *cached
		c.Cached = true
		result = &c
		return result
	}
	hs.metrics.RecordCacheMiss(NamespaceTxPage)

	page, err := hs.gateway.FetchTransactionPage(ctx, key, limit, cursor)
	if err != nil {
		log.Warn("Transaction history unavailable", zap.Error(err))
		result.Status = models.StatusError
		result.Error = err.Error()
		return result
	}

	result.Transactions = hs.classifier.ClassifyAll(ctx, page.Transactions, key)
	result.NextCursor = page.NextCursor
	result.Source = page.Source
	result.Total = page.Total
	if result.Total <= 0 {
		result.Total = len(result.Transactions)
	}

	hs.caches.TxPages.Set(cacheKey, result)

	log.Info("Loaded transaction history",
		zap.Int("transactions", len(result.Transactions)),
		zap.String("source", result.Source),
		zap.Bool("has_next", result.NextCursor != ""),
		zap.Duration("duration", time.Since(startTime)),
	)

	c := *result
	result = &c
	return result
}
