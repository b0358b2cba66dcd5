package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/providers"
	"pulsechain-portfolio-api/internal/retry"
	"pulsechain-portfolio-api/pkg/cache"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize and DefaultBatchDelay keep price resolution under the
// market-data provider's request budget.
const (
	DefaultBatchSize  = 15
	DefaultBatchDelay = 400 * time.Millisecond
)

// BatchOptions configures a BatchScheduler
type BatchOptions struct {
	Size  int
	Delay time.Duration
	// BatchEndpoint resolves each batch with one batch-price call per
	// source instead of one lookup per token.
	BatchEndpoint bool
	Policy        retry.Policy
}

// ProgressFunc is told which batch is about to run
type ProgressFunc func(current, total int)

// BatchScheduler resolves token prices in fixed-size, sequential batches.
// Items inside a batch run concurrently and every result lands in the
// shared price cache.
type BatchScheduler struct {
	gateway PriceGateway
	prices  *cache.Namespace[*models.PriceQuote]
	metrics *metrics.MetricsCollector
	opts    BatchOptions
	sleep   func(ctx context.Context, d time.Duration) error
	log     *logger.Logger
}

// NewBatchScheduler creates a scheduler
func NewBatchScheduler(gateway PriceGateway, prices *cache.Namespace[*models.PriceQuote], mc *metrics.MetricsCollector, opts BatchOptions) *BatchScheduler {
	if opts.Size <= 0 {
		opts.Size = DefaultBatchSize
	}
	if opts.Delay < 0 {
		opts.Delay = DefaultBatchDelay
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.DefaultPolicy(500 * time.Millisecond)
	}
	return &BatchScheduler{
		gateway: gateway,
		prices:  prices,
		metrics: mc,
		opts:    opts,
		sleep:   sleepContext,
		log:     logger.Component("batch_scheduler"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Plan splits tokens into the cached quotes and the batches still to fetch.
// Tokens are canonicalized and deduplicated.
func (s *BatchScheduler) Plan(tokens []string) (map[string]*models.PriceQuote, [][]string) {
	cached := make(map[string]*models.PriceQuote)
	seen := make(map[string]bool, len(tokens))
	var misses []string

	for _, token := range tokens {
		address := providers.CanonicalAddress(token)
		if seen[address] {
			continue
		}
		seen[address] = true

		if quote, ok := s.prices.Get(address); ok {
			s.metrics.RecordCacheHit(NamespacePrice)
			cached[address] = quote
			continue
		}
		s.metrics.RecordCacheMiss(NamespacePrice)
		misses = append(misses, address)
	}

	var batches [][]string
	for start := 0; start < len(misses); start += s.opts.Size {
		end := start + s.opts.Size
		if end > len(misses) {
			end = len(misses)
		}
		batches = append(batches, misses[start:end])
	}
	return cached, batches
}

// Resolve returns a quote for every token that could be priced. Tokens
// missing from the result are unpriced. Work already dispatched is not
// cancelled when ctx is, since its results fill the shared cache.
func (s *BatchScheduler) Resolve(ctx context.Context, tokens []string, progress ProgressFunc) map[string]*models.PriceQuote {
	result, batches := s.Plan(tokens)
	if len(batches) == 0 {
		return result
	}

	log := s.log.WithContext(ctx)
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	for i, batch := range batches {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				break
			}
		}
		if progress != nil {
			progress(i+1, len(batches))
		}

		var quotes map[string]*models.PriceQuote
		if s.opts.BatchEndpoint {
			quotes = s.resolveViaBatchEndpoint(ctx, batch)
		} else {
			quotes = s.resolveIndividually(ctx, batch)
		}
		for address, quote := range quotes {
			result[address] = quote
		}

		log.Debug("Price batch complete",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("requested", len(batch)),
			zap.Int("priced", len(quotes)),
		)
	}

	log.Info("Resolved token prices",
		zap.Int("tokens", len(tokens)),
		zap.Int("priced", len(result)),
		zap.Int("batches", len(batches)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

func (s *BatchScheduler) resolveViaBatchEndpoint(ctx context.Context, batch []string) map[string]*models.PriceQuote {
	quotes := s.gateway.FetchBatchPrices(ctx, batch)
	found := make(map[string]*models.PriceQuote, len(quotes))
	for _, address := range batch {
		quote, ok := quotes[address]
		if !ok || quote == nil {
			s.metrics.RecordDegraded("price_missing")
			continue
		}
		s.prices.Set(address, quote)
		found[address] = quote
	}
	s.logPartial(ctx, len(batch), len(found), nil)
	return found
}

func (s *BatchScheduler) resolveIndividually(ctx context.Context, batch []string) map[string]*models.PriceQuote {
	var (
		mu    sync.Mutex
		found = make(map[string]*models.PriceQuote, len(batch))
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(len(batch))
	for _, address := range batch {
		g.Go(func() error {
			quote, err := retry.Value(ctx, s.opts.Policy, func(ctx context.Context) (*models.PriceQuote, error) {
				return s.gateway.PriceLookup(ctx, address)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					s.metrics.RecordDegraded("price_not_found")
				} else {
					s.metrics.RecordDegraded("price_error")
					errs = append(errs, fmt.Errorf("%s: %w", address, err))
				}
				return nil
			}
			s.prices.Set(address, quote)
			found[address] = quote
			return nil
		})
	}
	_ = g.Wait()

	s.logPartial(ctx, len(batch), len(found), errs)
	return found
}

func (s *BatchScheduler) logPartial(ctx context.Context, requested, priced int, errs []error) {
	if priced == 0 || priced == requested {
		if len(errs) > 0 {
			s.log.WithContext(ctx).Warn("Price batch failed",
				zap.Int("requested", requested), zap.Error(errors.Join(errs...)))
		}
		return
	}
	err := models.ErrPartialFailure
	if len(errs) > 0 {
		err = fmt.Errorf("%w: %w", models.ErrPartialFailure, errors.Join(errs...))
	}
	s.log.WithContext(ctx).Warn("Price batch partially failed",
		zap.Int("requested", requested),
		zap.Int("priced", priced),
		zap.Error(err),
	)
}
