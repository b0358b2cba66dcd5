package services

import (
	"context"
	"strings"
	"testing"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPriceService(gw *fakeGateway) (*PriceService, *Caches) {
	caches := newTestCaches()
	return NewPriceService(gw, newTestScheduler(gw, caches, true), caches, metrics.NewMetricsCollector()), caches
}

func TestGetTokenPrice(t *testing.T) {
	ctx := context.Background()

	t.Run("second call within ttl is served from cache", func(t *testing.T) {
		gw := newFakeGateway()
		gw.prices[tokenA] = 1.25
		ps, _ := newTestPriceService(gw)

		first := ps.GetTokenPrice(ctx, tokenA)
		second := ps.GetTokenPrice(ctx, "0x"+strings.ToUpper(tokenA[2:]))

		require.NotNil(t, first)
		assert.Same(t, first, second)
		assert.Equal(t, 1, gw.calls(tokenA))
	})

	t.Run("unpriced tokens return nil and are not cached", func(t *testing.T) {
		gw := newFakeGateway()
		ps, caches := newTestPriceService(gw)

		assert.Nil(t, ps.GetTokenPrice(ctx, tokenB))
		assert.Nil(t, ps.GetTokenPrice(ctx, tokenB))
		assert.Equal(t, 2, gw.calls(tokenB))
		assert.Equal(t, 0, caches.Prices.Len())
	})

	t.Run("native aliases share one cache entry", func(t *testing.T) {
		gw := newFakeGateway()
		gw.prices[models.NativeAddress] = 0.00005
		ps, _ := newTestPriceService(gw)

		q1 := ps.GetTokenPrice(ctx, "0x0000000000000000000000000000000000000000")
		q2 := ps.GetTokenPrice(ctx, models.NativeAddress)

		require.NotNil(t, q1)
		assert.Same(t, q1, q2)
		assert.Equal(t, models.NativeAddress, q1.TokenAddress)
	})
}

func TestGetBatchTokenPrices(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.prices[tokenA] = 1
	gw.prices[tokenC] = 3
	ps, _ := newTestPriceService(gw)

	cached := ps.GetTokenPrice(ctx, tokenA)
	quotes := ps.GetBatchTokenPrices(ctx, []string{tokenA, tokenB, tokenC})

	assert.Len(t, quotes, 2)
	assert.Same(t, cached, quotes[tokenA])
	assert.Equal(t, 3.0, quotes[tokenC].USDPrice)
	require.Len(t, gw.batchCalls, 1)
	assert.Equal(t, []string{tokenB, tokenC}, gw.batchCalls[0])

	assert.Empty(t, ps.GetBatchTokenPrices(ctx, nil))
}
