package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	block uint64
	err   error
}

func (f fakeChain) BlockNumber(context.Context) (uint64, error) { return f.block, f.err }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("all healthy", func(t *testing.T) {
		hc := NewHealthChecker(fakeChain{block: 123}, fakePinger{}, nil)
		checks := hc.GetDetailedHealth(ctx)

		assert.Equal(t, HealthStatusHealthy, OverallStatus(checks))
		assert.Contains(t, checks["rpc"].Message, "123")
		assert.Equal(t, "in-memory", checks["progress_sink"].Message)
	})

	t.Run("store outage degrades", func(t *testing.T) {
		hc := NewHealthChecker(fakeChain{block: 1}, fakePinger{err: errors.New("down")}, nil)
		assert.Equal(t, HealthStatusDegraded, OverallStatus(hc.GetDetailedHealth(ctx)))
	})

	t.Run("rpc outage is unhealthy", func(t *testing.T) {
		hc := NewHealthChecker(fakeChain{err: errors.New("dial")}, nil, nil)
		check := hc.CheckRPC(ctx)
		assert.Equal(t, HealthStatusUnhealthy, check.Status)
		assert.Equal(t, HealthStatusUnhealthy, OverallStatus(hc.GetDetailedHealth(ctx)))
	})

	t.Run("missing rpc is degraded", func(t *testing.T) {
		hc := NewHealthChecker(nil, nil, nil)
		assert.Equal(t, HealthStatusDegraded, hc.CheckRPC(ctx).Status)
	})
}

func TestCaches(t *testing.T) {
	caches := newTestCaches()
	caches.Prices.Set(tokenA, nil)
	caches.Balances.Set(wallet, nil)
	caches.TxPages.Set(historyKey(wallet, 25, ""), nil)
	caches.TxPages.Set(historyKey(wallet, 25, "indexed:abc"), nil)
	caches.TxPages.Set(historyKey(tokenB, 25, ""), nil)

	caches.InvalidateWallet(wallet)
	assert.Equal(t, 0, caches.Balances.Len())
	assert.Equal(t, 1, caches.TxPages.Len())
	assert.Equal(t, 1, caches.Prices.Len())

	assert.Error(t, caches.Clear("bogus"))
	assert.NoError(t, caches.Clear(NamespacePrice))
	assert.Equal(t, 0, caches.Prices.Len())
	assert.Equal(t, 1, caches.TxPages.Len())

	assert.NoError(t, caches.Clear(""))
	assert.Equal(t, map[string]int{NamespacePrice: 0, NamespaceBalance: 0, NamespaceTxPage: 0}, caches.Sizes())
}
