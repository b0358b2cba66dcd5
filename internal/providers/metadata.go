package providers

import (
	"context"
	"errors"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/units"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultMetadataCacheSize bounds the token metadata LRU
const DefaultMetadataCacheSize = 4096

// MetadataResolver resolves token metadata from an LRU, then the chain.
// Metadata never changes for a deployed contract, so entries do not expire.
type MetadataResolver struct {
	chain ChainReader
	cache *lru.Cache[string, models.TokenMeta]
	log   *logger.Logger
}

// NewMetadataResolver creates a resolver. chain may be nil, in which case
// unknown tokens resolve to defaults.
func NewMetadataResolver(chain ChainReader, size int) (*MetadataResolver, error) {
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	cache, err := lru.New[string, models.TokenMeta](size)
	if err != nil {
		return nil, err
	}

	r := &MetadataResolver{
		chain: chain,
		cache: cache,
		log:   logger.Component("metadata"),
	}
	r.Remember(models.TokenMeta{
		Address:  models.NativeAddress,
		Symbol:   models.NativeSymbol,
		Name:     models.NativeName,
		Decimals: models.NativeDecimals,
	})
	return r, nil
}

// Remember stores metadata learned from a provider response
func (r *MetadataResolver) Remember(meta models.TokenMeta) {
	meta.Address = models.NormalizeAddress(meta.Address)
	if meta.Address == "" || meta.Symbol == "" || meta.Symbol == models.UnknownSymbol {
		return
	}
	meta.Decimals = units.NormalizeDecimals(meta.Decimals)
	if meta.Name == "" {
		meta.Name = meta.Symbol
	}
	r.cache.Add(meta.Address, meta)
}

// Lookup returns cached metadata without touching the chain
func (r *MetadataResolver) Lookup(token string) (models.TokenMeta, bool) {
	return r.cache.Get(models.NormalizeAddress(token))
}

// Resolve never fails: unreadable tokens degrade to 18 decimals and the
// UNKNOWN symbol.
func (r *MetadataResolver) Resolve(ctx context.Context, token string) models.TokenMeta {
	address := models.NormalizeAddress(token)
	if models.IsNativeToken(address, false) {
		address = models.NativeAddress
	}
	if meta, ok := r.cache.Get(address); ok {
		return meta
	}

	fallback := models.TokenMeta{
		Address:  address,
		Symbol:   models.UnknownSymbol,
		Name:     models.UnknownSymbol,
		Decimals: units.DefaultDecimals,
	}
	if r.chain == nil {
		return fallback
	}

	meta, err := r.chain.TokenMetadata(ctx, address)
	if err != nil {
		r.log.Debug("Token metadata unavailable, using defaults",
			zap.String("token", address), zap.Error(err))
		// Contracts that answered with garbage will keep doing so.
		if !errors.Is(err, models.ErrProviderUnavailable) {
			r.cache.Add(address, fallback)
		}
		return fallback
	}

	meta.Address = address
	if meta.Name == "" {
		meta.Name = meta.Symbol
	}
	r.cache.Add(address, meta)
	return meta
}

// Len reports the number of cached entries
func (r *MetadataResolver) Len() int {
	return r.cache.Len()
}
