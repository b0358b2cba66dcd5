// Package classifier turns raw transactions into categorized, labelled
// transactions relative to a wallet.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/units"

	"go.uber.org/zap"
)

// MetadataSource resolves token metadata. It must not fail; unknown tokens
// come back as 18 decimals and the UNKNOWN symbol.
type MetadataSource interface {
	TokenMetadata(ctx context.Context, token string) models.TokenMeta
}

// Classifier runs the ordered classification pipeline
type Classifier struct {
	registry *Registry
	metadata MetadataSource
	log      *logger.Logger
}

// New creates a classifier. metadata may be nil.
func New(registry *Registry, metadata MetadataSource) *Classifier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Classifier{
		registry: registry,
		metadata: metadata,
		log:      logger.Component("classifier"),
	}
}

// ClassifyAll classifies every transaction of a page in order
func (c *Classifier) ClassifyAll(ctx context.Context, txs []models.RawTransaction, wallet string) []models.ClassifiedTransaction {
	out := make([]models.ClassifiedTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, c.Classify(ctx, tx, wallet))
	}
	return out
}

// Classify annotates tx. Order matters: approval, liquidity, staking, swap,
// then plain direction. The raw transaction is copied, never modified.
func (c *Classifier) Classify(ctx context.Context, tx models.RawTransaction, wallet string) (result models.ClassifiedTransaction) {
	wallet = models.NormalizeAddress(wallet)
	to := models.NormalizeAddress(tx.To)

	selector := methodSelector(tx.Input)
	if selector == "" && tx.MethodLabel != "" {
		selector = c.registry.selectorForLabel(tx.MethodLabel)
	}

	transfers := decodeTransfers(tx, wallet)
	sent, received := c.legs(ctx, transfers)

	result = models.ClassifiedTransaction{
		RawTransaction: tx,
		MethodSelector: selector,
		Sent:           sent,
		Received:       received,
	}
	defer func() {
		c.log.Debug("Classified transaction",
			zap.String("hash", tx.Hash),
			zap.String("category", string(result.Category)),
			zap.Int("transfers", len(transfers)))
	}()

	// 1. approval
	if c.registry.approval[selector] || c.registry.approval[c.registry.selectorForLabel(tx.MethodLabel)] {
		result.Category = models.CategoryApproval
		result.Label = "Approve " + c.symbolOf(ctx, to)
		return result
	}

	// 2. liquidity
	if c.registry.addLiquidity[selector] {
		result.Category = models.CategoryAddLiquidity
		result.Label = liquidityLabel("Add Liquidity", sent)
		return result
	}
	if c.registry.removeLiquidity[selector] {
		result.Category = models.CategoryRemoveLiquidity
		result.Label = liquidityLabel("Remove Liquidity", received)
		return result
	}

	// 3. staking
	if category, ok := c.stakingCategory(selector, to, sent, received); ok {
		result.Category = category
		if category == models.CategoryStake {
			result.Label = amountLabel("Stake", sent)
		} else {
			result.Label = amountLabel("Unstake", received)
		}
		if name, known := c.registry.StakingContractName(to); known {
			result.Label += " (" + name + ")"
		}
		return result
	}

	// 4. swap
	if (c.registry.IsRouter(to) || c.registry.swap[selector]) && len(sent) > 0 && len(received) > 0 {
		result.Category = models.CategorySwap
		result.Swap = &models.SwapDetail{Sold: sent[0], Bought: received[0]}
		result.Label = fmt.Sprintf("Swap %s %s for %s %s",
			displayAmount(sent[0]), sent[0].Symbol, displayAmount(received[0]), received[0].Symbol)
		return result
	}

	// 5. direction
	switch {
	case hasDirection(transfers, models.DirectionOut, models.DirectionSelf):
		result.Category = models.CategorySend
		result.Label = amountLabel("Send", sent)
	case hasDirection(transfers, models.DirectionIn):
		result.Category = models.CategoryReceive
		result.Label = amountLabel("Receive", received)
	default:
		result.Category = models.CategoryContract
		result.Label = "Contract Interaction"
		if tx.MethodLabel != "" {
			result.Label = tx.MethodLabel
		}
	}
	return result
}

// stakingCategory applies contract-specific selectors, then generic ones,
// then transfer-count asymmetry for known staking contracts.
func (c *Classifier) stakingCategory(selector, to string, sent, received []models.TokenAmount) (models.TransactionCategory, bool) {
	if methods, ok := c.registry.contractStaking[to]; ok {
		if category, ok := methods[selector]; ok {
			return category, true
		}
	}
	if category, ok := c.registry.genericStaking[selector]; ok {
		return category, true
	}
	if _, known := c.registry.StakingContractName(to); known {
		switch {
		case len(received) > len(sent):
			return models.CategoryUnstake, true
		case len(sent) > len(received):
			return models.CategoryStake, true
		}
	}
	return "", false
}

// legs resolves metadata and splits transfers into what the wallet sent and
// what it received. Self transfers appear in neither.
func (c *Classifier) legs(ctx context.Context, transfers []transfer) (sent, received []models.TokenAmount) {
	sent = []models.TokenAmount{}
	received = []models.TokenAmount{}
	for _, t := range transfers {
		if t.Direction != models.DirectionOut && t.Direction != models.DirectionIn {
			continue
		}
		amount := c.tokenAmount(ctx, t)
		if t.Direction == models.DirectionOut {
			sent = append(sent, amount)
		} else {
			received = append(received, amount)
		}
	}
	return sent, received
}

func (c *Classifier) tokenAmount(ctx context.Context, t transfer) models.TokenAmount {
	meta := models.TokenMeta{
		Address:  t.TokenAddress,
		Symbol:   t.symbol,
		Name:     t.name,
		Decimals: units.DefaultDecimals,
	}
	switch {
	case t.IsNative:
		meta = models.TokenMeta{Address: models.NativeAddress, Symbol: models.NativeSymbol,
			Name: models.NativeName, Decimals: models.NativeDecimals}
	case t.decimals != nil && t.symbol != "":
		meta.Decimals = units.NormalizeDecimals(*t.decimals)
	default:
		resolved := c.resolve(ctx, t.TokenAddress)
		if t.decimals != nil {
			resolved.Decimals = units.NormalizeDecimals(*t.decimals)
		}
		if t.symbol != "" {
			resolved.Symbol = t.symbol
		}
		if t.name != "" {
			resolved.Name = t.name
		}
		meta = resolved
	}
	if meta.Symbol == "" {
		meta.Symbol = models.UnknownSymbol
	}

	return models.TokenAmount{
		TokenAddress: t.TokenAddress,
		Symbol:       meta.Symbol,
		Name:         meta.Name,
		Decimals:     meta.Decimals,
		RawValue:     t.RawValue,
		Amount:       units.FormatUnits(t.amount, meta.Decimals),
		From:         t.From,
		To:           t.To,
		IsNative:     t.IsNative,
	}
}

func (c *Classifier) resolve(ctx context.Context, token string) models.TokenMeta {
	if c.metadata == nil {
		return models.TokenMeta{Address: token, Symbol: models.UnknownSymbol, Decimals: units.DefaultDecimals}
	}
	return c.metadata.TokenMetadata(ctx, token)
}

func (c *Classifier) symbolOf(ctx context.Context, token string) string {
	if token == "" {
		return models.UnknownSymbol
	}
	return c.resolve(ctx, token).Symbol
}

func hasDirection(transfers []transfer, dirs ...models.Direction) bool {
	for _, t := range transfers {
		for _, d := range dirs {
			if t.Direction == d {
				return true
			}
		}
	}
	return false
}

// displayAmount trims the trailing zeros of a formatted amount
func displayAmount(a models.TokenAmount) string {
	if !strings.Contains(a.Amount, ".") {
		return a.Amount
	}
	trimmed := strings.TrimRight(strings.TrimRight(a.Amount, "0"), ".")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func amountLabel(verb string, legs []models.TokenAmount) string {
	if len(legs) == 0 {
		return verb
	}
	return fmt.Sprintf("%s %s %s", verb, displayAmount(legs[0]), legs[0].Symbol)
}

func liquidityLabel(verb string, legs []models.TokenAmount) string {
	var symbols []string
	seen := make(map[string]bool)
	for _, l := range legs {
		if seen[l.Symbol] || models.IsLiquidityPoolToken(l.Symbol, l.Name) {
			continue
		}
		seen[l.Symbol] = true
		symbols = append(symbols, l.Symbol)
	}
	if len(symbols) == 0 {
		return verb
	}
	return verb + " " + strings.Join(symbols, "/")
}
