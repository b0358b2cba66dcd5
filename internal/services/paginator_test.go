package services

import (
	"testing"

	"pulsechain-portfolio-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTokens() []models.Token {
	price := func(p float64) *float64 { return &p }
	tokens := []models.Token{
		{Symbol: "A", BalanceFormatted: 10, Price: price(1)},
		{Symbol: "B", BalanceFormatted: 5},
		{Symbol: "C", BalanceFormatted: 1, Price: price(100)},
		{Symbol: "D", BalanceFormatted: 50},
		{Symbol: "E", BalanceFormatted: 2, Price: price(5)},
		{Symbol: "F", BalanceFormatted: 20, Price: price(0.5)},
		{Symbol: "G", BalanceFormatted: 3, Price: price(0)},
	}
	for i := range tokens {
		tokens[i].ComputeValue()
	}
	return tokens
}

func TestSortTokens(t *testing.T) {
	tokens := sampleTokens()
	SortTokens(tokens)

	for i := 1; i < len(tokens); i++ {
		a, b := tokens[i-1], tokens[i]
		ok := a.Value > b.Value || (a.Value == b.Value && a.BalanceFormatted >= b.BalanceFormatted)
		assert.Truef(t, ok, "%s before %s", a.Symbol, b.Symbol)
	}

	symbols := make([]string, len(tokens))
	for i, tk := range tokens {
		symbols[i] = tk.Symbol
	}
	assert.Equal(t, []string{"C", "F", "A", "E", "D", "B", "G"}, symbols)

	for _, tk := range tokens {
		want := 0.0
		if tk.Price != nil {
			want = *tk.Price * tk.BalanceFormatted
		}
		assert.Equal(t, want, tk.Value)
	}
}

func TestPaginate(t *testing.T) {
	tokens := sampleTokens()
	SortTokens(tokens)
	snapshot := &models.WalletSnapshot{Address: wallet, Tokens: tokens, TokenCount: len(tokens)}

	t.Run("pages concatenate to the full list", func(t *testing.T) {
		for _, limit := range []int{1, 2, 3, 7, 10} {
			var all []models.Token
			for page := 1; ; page++ {
				p := Paginate(snapshot, page, limit)
				assert.LessOrEqual(t, len(p.Tokens), limit)
				assert.Equal(t, len(tokens), p.TokenCount)
				assert.Equal(t, len(tokens), p.Pagination.Total)
				all = append(all, p.Tokens...)
				if !p.Pagination.HasMore {
					break
				}
			}
			assert.Equal(t, tokens, all, "limit %d", limit)
		}
	})

	t.Run("limit zero returns everything", func(t *testing.T) {
		p := Paginate(snapshot, 1, 0)
		assert.Len(t, p.Tokens, len(tokens))
		assert.False(t, p.Pagination.HasMore)
		assert.Equal(t, 1, p.Pagination.TotalPages)
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		p := Paginate(snapshot, 9, 3)
		require.NotNil(t, p.Tokens)
		assert.Empty(t, p.Tokens)
		assert.Equal(t, 3, p.Pagination.TotalPages)
		assert.Equal(t, len(tokens), p.TokenCount)
	})

	t.Run("does not alias the cached slice", func(t *testing.T) {
		p := Paginate(snapshot, 1, 2)
		p.Tokens[0].Symbol = "changed"
		assert.NotEqual(t, "changed", snapshot.Tokens[0].Symbol)
	})

	t.Run("empty snapshot", func(t *testing.T) {
		p := Paginate(models.EmptySnapshot(wallet, models.StatusOK, ""), 1, 10)
		assert.Empty(t, p.Tokens)
		assert.Equal(t, 0, p.Pagination.TotalPages)
		assert.Equal(t, 0, p.TokenCount)
	})
}
