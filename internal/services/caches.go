package services

import (
	"fmt"

	"pulsechain-portfolio-api/internal/config"
	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/cache"
)

// Cache namespace names, also used as metric labels
const (
	NamespacePrice   = "price"
	NamespaceBalance = "balance"
	NamespaceTxPage  = "tx-page"
)

// Caches owns the process-wide cache namespaces. It is constructed once
// and handed to every service that reads or fills them.
type Caches struct {
	Prices   *cache.Namespace[*models.PriceQuote]
	Balances *cache.Namespace[*models.WalletSnapshot]
	TxPages  *cache.Namespace[*models.TransactionHistory]
}

// NewCaches creates the namespaces with their configured TTLs
func NewCaches(cfg config.CacheConfig) *Caches {
	return &Caches{
		Prices:   cache.NewNamespace[*models.PriceQuote](NamespacePrice, cfg.PriceTTL),
		Balances: cache.NewNamespace[*models.WalletSnapshot](NamespaceBalance, cfg.BalanceTTL),
		TxPages:  cache.NewNamespace[*models.TransactionHistory](NamespaceTxPage, cfg.TxPageTTL),
	}
}

// All returns every namespace, for the janitor
func (c *Caches) All() []cache.Sweepable {
	return []cache.Sweepable{c.Prices, c.Balances, c.TxPages}
}

// Clear empties one namespace, or all of them when namespace is empty
func (c *Caches) Clear(namespace string) error {
	if namespace == "" {
		for _, ns := range c.All() {
			ns.Clear()
		}
		return nil
	}
	for _, ns := range c.All() {
		if ns.Name() == namespace {
			ns.Clear()
			return nil
		}
	}
	return fmt.Errorf("unknown cache namespace %q", namespace)
}

// InvalidateWallet drops the snapshot and history pages cached for address
func (c *Caches) InvalidateWallet(address string) {
	key := models.NormalizeAddress(address)
	c.Balances.Invalidate(key)
	c.TxPages.InvalidatePrefix(cache.Key(key) + "|")
}

// Sizes reports the number of live entries per namespace
func (c *Caches) Sizes() map[string]int {
	sizes := make(map[string]int, 3)
	for _, ns := range c.All() {
		sizes[ns.Name()] = ns.Len()
	}
	return sizes
}
