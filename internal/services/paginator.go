package services

import (
	"math"
	"sort"

	"pulsechain-portfolio-api/internal/models"
)

// SortTokens orders tokens by value, then by human balance, both descending.
// NaN values are normalized to 0 first.
func SortTokens(tokens []models.Token) {
	for i := range tokens {
		if math.IsNaN(tokens[i].Value) || math.IsInf(tokens[i].Value, 0) {
			tokens[i].Value = 0
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Value != tokens[j].Value {
			return tokens[i].Value > tokens[j].Value
		}
		return tokens[i].BalanceFormatted > tokens[j].BalanceFormatted
	})
}

// PageBounds returns the slice bounds of page within total items. A limit
// of 0 selects everything.
func PageBounds(total, page, limit int) (start, end int) {
	if limit <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start = (page - 1) * limit
	if start > total {
		start = total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end
}

// Paginate returns a copy of snapshot holding only the requested page. The
// totals keep describing the full token set.
func Paginate(snapshot *models.WalletSnapshot, page, limit int) *models.WalletSnapshot {
	if page < 1 {
		page = 1
	}
	if limit < 0 {
		limit = 0
	}

	total := len(snapshot.Tokens)
	start, end := PageBounds(total, page, limit)

	out := *snapshot
	out.Tokens = make([]models.Token, end-start)
	copy(out.Tokens, snapshot.Tokens[start:end])
	out.TokenCount = total

	totalPages := 1
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	if total == 0 {
		totalPages = 0
	}
	out.Pagination = models.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    end < total,
	}
	return &out
}
