package services

import (
	"context"
	"testing"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type labelClassifier struct {
	calls int
}

func (c *labelClassifier) ClassifyAll(_ context.Context, txs []models.RawTransaction, _ string) []models.ClassifiedTransaction {
	c.calls++
	out := make([]models.ClassifiedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = models.ClassifiedTransaction{RawTransaction: tx, Category: models.CategoryContract, Label: "Contract Interaction"}
	}
	return out
}

func newTestHistoryService(gw *fakeGateway) (*HistoryService, *labelClassifier, *Caches) {
	caches := newTestCaches()
	cls := &labelClassifier{}
	hs := NewHistoryService(gw, cls, caches, metrics.NewMetricsCollector(), HistoryOptions{DefaultLimit: 25, MaxLimit: 100})
	return hs, cls, caches
}

func TestGetTransactionHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies and caches a page", func(t *testing.T) {
		gw := newFakeGateway()
		gw.page = &models.TransactionPage{
			Transactions: []models.RawTransaction{{Hash: "0x01"}, {Hash: "0x02"}},
			NextCursor:   "indexed:abc",
			Total:        40,
			Source:       "indexed",
		}
		hs, cls, _ := newTestHistoryService(gw)

		first := hs.GetTransactionHistory(ctx, wallet, 2, "")
		require.Equal(t, models.StatusOK, first.Status)
		assert.Len(t, first.Transactions, 2)
		assert.Equal(t, "indexed:abc", first.NextCursor)
		assert.Equal(t, 40, first.Total)
		assert.False(t, first.Cached)

		second := hs.GetTransactionHistory(ctx, wallet, 2, "")
		assert.True(t, second.Cached)
		assert.Equal(t, 1, cls.calls)
		assert.Equal(t, []int{2}, gw.pageLimits)

		hs.GetTransactionHistory(ctx, wallet, 2, "indexed:abc")
		assert.Len(t, gw.pageLimits, 2, "a different cursor is a different page")
	})

	t.Run("total falls back to the page length", func(t *testing.T) {
		gw := newFakeGateway()
		gw.page = &models.TransactionPage{Transactions: []models.RawTransaction{{Hash: "0x01"}}}
		hs, _, _ := newTestHistoryService(gw)

		h := hs.GetTransactionHistory(ctx, wallet, 10, "")
		assert.Equal(t, 1, h.Total)
	})

	t.Run("limits are defaulted and clamped", func(t *testing.T) {
		gw := newFakeGateway()
		gw.page = &models.TransactionPage{}
		hs, _, _ := newTestHistoryService(gw)

		hs.GetTransactionHistory(ctx, wallet, 0, "")
		hs.GetTransactionHistory(ctx, wallet, 5000, "")
		assert.Equal(t, []int{25, 100}, gw.pageLimits)
	})

	t.Run("upstream failure is an error status", func(t *testing.T) {
		gw := newFakeGateway()
		gw.pageErr = errUnavailable
		hs, _, caches := newTestHistoryService(gw)

		h := hs.GetTransactionHistory(ctx, wallet, 10, "")
		assert.Equal(t, models.StatusError, h.Status)
		assert.NotEmpty(t, h.Error)
		require.NotNil(t, h.Transactions)
		assert.Empty(t, h.Transactions)
		assert.Equal(t, 0, caches.TxPages.Len())
	})

	t.Run("invalid address", func(t *testing.T) {
		gw := newFakeGateway()
		hs, _, _ := newTestHistoryService(gw)

		h := hs.GetTransactionHistory(ctx, "0x123", 10, "")
		assert.Equal(t, models.StatusError, h.Status)
		assert.Empty(t, gw.pageLimits)
	})
}
