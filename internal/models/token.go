package models

import (
	"strings"
	"time"
)

// NativeAddress is the canonical identity of PLS, the chain's native asset.
const NativeAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// WrappedNativeAddress is WPLS, the ERC-20 representation of PLS.
const WrappedNativeAddress = "0xa1077a294dde1b09bb078844df40758a5d0f9a27"

const (
	NativeSymbol   = "PLS"
	NativeName     = "PulseChain"
	NativeDecimals = 18

	UnknownSymbol = "UNKNOWN"
	DefaultLogo   = "/assets/tokens/default.svg"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases and trims an address for use as a key
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsNativeToken is the single predicate deciding whether a balance entry is
// the native asset. nativeFlag is what the provider reported.
func IsNativeToken(address string, nativeFlag bool) bool {
	if nativeFlag {
		return true
	}
	switch NormalizeAddress(address) {
	case NativeAddress, zeroAddress, "":
		return true
	}
	return false
}

// IsLiquidityPoolToken recognizes PulseX LP tokens by their metadata
func IsLiquidityPoolToken(symbol, name string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	n := strings.ToLower(name)
	return s == "PLP" || strings.HasSuffix(s, "-LP") ||
		strings.Contains(n, "pulsex lp") || strings.HasSuffix(n, " lp")
}

// TokenMeta is the resolved metadata of a token contract
type TokenMeta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// Token is one holding in a wallet snapshot
type Token struct {
	Address          string   `json:"address"`
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name"`
	Decimals         int      `json:"decimals"`
	Balance          string   `json:"balance"`
	BalanceFormatted float64  `json:"balanceFormatted"`
	Price            *float64 `json:"price"`
	Value            float64  `json:"value"`
	PriceChange24h   float64  `json:"priceChange24h"`
	Logo             string   `json:"logo"`
	Verified         bool     `json:"verified"`
	IsNative         bool     `json:"isNative"`
	IsLiquidityPool  bool     `json:"isLiquidityPool"`
}

// ComputeValue sets Value from Price and BalanceFormatted, 0 when unpriced
func (t *Token) ComputeValue() {
	if t.Price == nil {
		t.Value = 0
		return
	}
	t.Value = *t.Price * t.BalanceFormatted
}

// ApplyQuote copies price data from q and recomputes the value
func (t *Token) ApplyQuote(q *PriceQuote) {
	if q == nil {
		t.ComputeValue()
		return
	}
	price := q.USDPrice
	t.Price = &price
	t.PriceChange24h = q.PercentChange24h
	t.ComputeValue()
}

// RawBalance is a provider balance entry normalized at the gateway boundary
type RawBalance struct {
	TokenAddress string
	Symbol       string
	Name         string
	Decimals     int
	Balance      string
	Logo         string
	Verified     bool
	IsNative     bool
	PossibleSpam bool
	Quote        *PriceQuote
}

// PriceQuote is an immutable USD quote for a token
type PriceQuote struct {
	TokenAddress     string    `json:"tokenAddress"`
	USDPrice         float64   `json:"usdPrice"`
	PercentChange24h float64   `json:"percentChange24h"`
	ExchangeName     string    `json:"exchangeName,omitempty"`
	SecurityScore    *int      `json:"securityScore,omitempty"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

// SnapshotStatus reports how complete a snapshot is
type SnapshotStatus string

const (
	StatusOK       SnapshotStatus = "ok"
	StatusDegraded SnapshotStatus = "degraded"
	StatusError    SnapshotStatus = "error"
)

// Pagination describes the slice of tokens returned
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// WalletSnapshot is the aggregated view of a wallet. The cached form holds
// every token; responses carry a paginated copy.
type WalletSnapshot struct {
	Address       string         `json:"address"`
	Tokens        []Token        `json:"tokens"`
	TotalValue    float64        `json:"totalValue"`
	TokenCount    int            `json:"tokenCount"`
	NativeBalance string         `json:"nativeBalance"`
	Pagination    Pagination     `json:"pagination"`
	Source        string         `json:"source,omitempty"`
	Status        SnapshotStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
	Cached        bool           `json:"cached"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// EmptySnapshot is returned when nothing could be aggregated
func EmptySnapshot(address string, status SnapshotStatus, errMsg string) *WalletSnapshot {
	return &WalletSnapshot{
		Address:       address,
		Tokens:        []Token{},
		NativeBalance: "0",
		Status:        status,
		Error:         errMsg,
		UpdatedAt:     time.Now().UTC(),
	}
}
