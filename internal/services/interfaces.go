package services

import (
	"context"
	"math/big"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/providers"
)

// PriceGateway resolves USD quotes
type PriceGateway interface {
	PriceLookup(ctx context.Context, token string) (*models.PriceQuote, error)
	FetchPrice(ctx context.Context, token string) *models.PriceQuote
	FetchBatchPrices(ctx context.Context, tokens []string) map[string]*models.PriceQuote
}

// BalanceGateway is what wallet aggregation needs from the provider layer
type BalanceGateway interface {
	PriceGateway
	FetchNativeBalance(ctx context.Context, wallet string) (*big.Int, error)
	FetchBalances(ctx context.Context, wallet string) (*providers.BalanceResult, error)
	FetchTokenBalance(ctx context.Context, token, wallet string) (*big.Int, error)
	TokenMetadata(ctx context.Context, token string) models.TokenMeta
	HasChain() bool
}

// HistoryGateway pages through wallet transactions
type HistoryGateway interface {
	FetchTransactionPage(ctx context.Context, wallet string, limit int, cursor string) (*models.TransactionPage, error)
}

// TransactionClassifier labels raw transactions for a wallet
type TransactionClassifier interface {
	ClassifyAll(ctx context.Context, txs []models.RawTransaction, wallet string) []models.ClassifiedTransaction
}

// PortfolioServiceInterface is the surface the HTTP adapter consumes
type PortfolioServiceInterface interface {
	GetWalletSnapshot(ctx context.Context, address string, page, limit int, forceRefresh bool) *models.WalletSnapshot
	GetTransactionHistory(ctx context.Context, address string, limit int, cursor string) *models.TransactionHistory
	GetTokenPrice(ctx context.Context, address string) *models.PriceQuote
	GetBatchTokenPrices(ctx context.Context, addresses []string) map[string]*models.PriceQuote
	GetProgress(ctx context.Context, address string) (*models.Progress, error)
	InvalidateWalletCache(address string)
	ClearAllCaches(namespace string) error
	GetCacheStats() map[string]interface{}
}
