package services

import (
	"context"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/logger"

	"go.uber.org/zap"
)

// PortfolioService is the single entrypoint the HTTP adapter talks to
type PortfolioService struct {
	balances *BalanceAggregator
	history  *HistoryService
	prices   *PriceService
	caches   *Caches
}

var _ PortfolioServiceInterface = (*PortfolioService)(nil)

// NewPortfolioService composes the wallet, history and price services
func NewPortfolioService(balances *BalanceAggregator, history *HistoryService, prices *PriceService, caches *Caches) *PortfolioService {
	return &PortfolioService{
		balances: balances,
		history:  history,
		prices:   prices,
		caches:   caches,
	}
}

func (s *PortfolioService) GetWalletSnapshot(ctx context.Context, address string, page, limit int, forceRefresh bool) *models.WalletSnapshot {
	return s.balances.GetWalletSnapshot(ctx, address, page, limit, forceRefresh)
}

func (s *PortfolioService) GetTransactionHistory(ctx context.Context, address string, limit int, cursor string) *models.TransactionHistory {
	return s.history.GetTransactionHistory(ctx, address, limit, cursor)
}

func (s *PortfolioService) GetTokenPrice(ctx context.Context, address string) *models.PriceQuote {
	return s.prices.GetTokenPrice(ctx, address)
}

func (s *PortfolioService) GetBatchTokenPrices(ctx context.Context, addresses []string) map[string]*models.PriceQuote {
	return s.prices.GetBatchTokenPrices(ctx, addresses)
}

func (s *PortfolioService) GetProgress(ctx context.Context, address string) (*models.Progress, error) {
	return s.balances.GetProgress(ctx, address)
}

// InvalidateWalletCache drops everything cached for one wallet
func (s *PortfolioService) InvalidateWalletCache(address string) {
	s.caches.InvalidateWallet(address)
	logger.Component("portfolio_service").Debug("Invalidated wallet cache",
		zap.String("wallet", models.NormalizeAddress(address)))
}

// ClearAllCaches empties one namespace, or every namespace when it is empty
func (s *PortfolioService) ClearAllCaches(namespace string) error {
	if err := s.caches.Clear(namespace); err != nil {
		return err
	}
	logger.Component("portfolio_service").Info("Cleared caches", zap.String("namespace", namespace))
	return nil
}

// GetCacheStats returns cache statistics
func (s *PortfolioService) GetCacheStats() map[string]interface{} {
	return s.balances.GetCacheStats()
}
