package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/units"
)

// ScanName identifies the chain-scan provider
const ScanName = "scan"

// ScanConfig configures the chain-scan client
type ScanConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ScanProvider talks to a Blockscout-compatible explorer API. It returns
// raw balances and history without prices.
type ScanProvider struct {
	http    *httpClient
	baseURL string
	apiKey  string
}

// NewScanProvider creates a chain-scan client
func NewScanProvider(cfg ScanConfig, opts ...Option) *ScanProvider {
	return &ScanProvider{
		http:    newHTTPClient(ScanName, cfg.Timeout, nil, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Name returns the provider name
func (p *ScanProvider) Name() string { return ScanName }

// scanEnvelope is the explorer's {status, message, result} wrapper. result
// is a string when the call fails.
type scanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (p *ScanProvider) call(ctx context.Context, op string, params url.Values, out interface{}) error {
	if p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}

	var env scanEnvelope
	if err := p.http.getJSON(ctx, op, p.baseURL+"/api?"+params.Encode(), &env); err != nil {
		return err
	}

	if env.Status == "0" {
		msg := strings.ToLower(env.Message)
		switch {
		case strings.Contains(msg, "no transactions found"), strings.Contains(msg, "no token transfers found"),
			strings.Contains(msg, "no tokens found"):
			return nil
		case strings.Contains(msg, "rate limit"):
			return models.NewProviderError(ScanName, op, models.ErrRateLimited, fmt.Errorf("%s", env.Message))
		case strings.Contains(msg, "not found"):
			return models.NewProviderError(ScanName, op, models.ErrNotFound, fmt.Errorf("%s", env.Message))
		}
	}

	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return models.NewProviderError(ScanName, op, models.ErrMalformedResponse, fmt.Errorf("%s: %w", env.Message, err))
	}
	return nil
}

type scanToken struct {
	Balance         string  `json:"balance"`
	ContractAddress string  `json:"contractAddress"`
	Decimals        flexInt `json:"decimals"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Type            string  `json:"type"`
}

// Balances returns the wallet's fungible token balances
func (p *ScanProvider) Balances(ctx context.Context, wallet string) ([]models.RawBalance, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokenlist")
	params.Set("address", wallet)

	var tokens []scanToken
	if err := p.call(ctx, "tokenlist", params, &tokens); err != nil {
		return nil, err
	}

	balances := make([]models.RawBalance, 0, len(tokens))
	for _, t := range tokens {
		if t.Type != "" && t.Type != "ERC-20" {
			continue
		}
		address := models.NormalizeAddress(t.ContractAddress)
		if address == "" {
			continue
		}
		symbol := normalizeSymbol(t.Symbol)
		balances = append(balances, models.RawBalance{
			TokenAddress: address,
			Symbol:       symbol,
			Name:         normalizeName(t.Name, symbol),
			Decimals:     t.Decimals.decimals(),
			Balance:      defaultZero(t.Balance),
		})
	}
	return balances, nil
}

// NativeBalance returns the wallet's PLS balance in wei
func (p *ScanProvider) NativeBalance(ctx context.Context, wallet string) (*big.Int, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "balance")
	params.Set("address", wallet)

	var raw string
	if err := p.call(ctx, "balance", params, &raw); err != nil {
		return nil, err
	}
	balance, ok := units.ParseBigInt(raw)
	if !ok {
		return nil, models.NewProviderError(ScanName, "balance", models.ErrMalformedResponse, fmt.Errorf("invalid balance %q", raw))
	}
	return balance, nil
}

type scanTx struct {
	BlockNumber  flexInt `json:"blockNumber"`
	TimeStamp    flexInt `json:"timeStamp"`
	Hash         string  `json:"hash"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Value        string  `json:"value"`
	Gas          string  `json:"gas"`
	GasPrice     string  `json:"gasPrice"`
	GasUsed      string  `json:"gasUsed"`
	Input        string  `json:"input"`
	IsError      string  `json:"isError"`
	FunctionName string  `json:"functionName"`
}

type scanTokenTx struct {
	BlockNumber     flexInt `json:"blockNumber"`
	TimeStamp       flexInt `json:"timeStamp"`
	Hash            string  `json:"hash"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Value           string  `json:"value"`
	ContractAddress string  `json:"contractAddress"`
	TokenName       string  `json:"tokenName"`
	TokenSymbol     string  `json:"tokenSymbol"`
	TokenDecimal    flexInt `json:"tokenDecimal"`
	LogIndex        flexInt `json:"logIndex"`
}

type scanInternalTx struct {
	BlockNumber flexInt `json:"blockNumber"`
	TimeStamp   flexInt `json:"timeStamp"`
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       string  `json:"value"`
	IsError     string  `json:"isError"`
}

// TransactionPage merges normal transactions, token transfers and internal
// native transfers by hash. The cursor is the explorer page number.
func (p *ScanProvider) TransactionPage(ctx context.Context, wallet string, limit int, cursor string) (*models.TransactionPage, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, models.NewProviderError(ScanName, "txlist", models.ErrMalformedResponse, fmt.Errorf("invalid cursor %q", cursor))
		}
		page = n
	}

	params := func(action string) url.Values {
		v := url.Values{}
		v.Set("module", "account")
		v.Set("action", action)
		v.Set("address", wallet)
		v.Set("page", strconv.Itoa(page))
		v.Set("offset", strconv.Itoa(limit))
		v.Set("sort", "desc")
		return v
	}

	var txs []scanTx
	if err := p.call(ctx, "txlist", params("txlist"), &txs); err != nil {
		return nil, err
	}

	// Token transfers only enrich the page, so failures here are tolerated.
	var transfers []scanTokenTx
	if err := p.call(ctx, "tokentx", params("tokentx"), &transfers); err != nil {
		transfers = nil
	}
	var internals []scanInternalTx
	if err := p.call(ctx, "txlistinternal", params("txlistinternal"), &internals); err != nil {
		internals = nil
	}

	byHash := make(map[string]*models.RawTransaction, len(txs))
	order := make([]string, 0, len(txs))
	for _, tx := range txs {
		hash := models.NormalizeAddress(tx.Hash)
		if hash == "" {
			continue
		}
		if _, seen := byHash[hash]; seen {
			continue
		}
		raw := tx.toRaw()
		byHash[hash] = &raw
		order = append(order, hash)
	}

	for _, t := range transfers {
		hash := models.NormalizeAddress(t.Hash)
		raw, ok := byHash[hash]
		if !ok {
			// Tokens received through someone else's transaction.
			synth := models.RawTransaction{
				Hash:        hash,
				From:        models.NormalizeAddress(t.From),
				To:          models.NormalizeAddress(t.ContractAddress),
				Value:       "0",
				BlockNumber: uint64(t.BlockNumber.Or(0)),
				Timestamp:   unixTime(t.TimeStamp),
			}
			byHash[hash] = &synth
			order = append(order, hash)
			raw = &synth
		}
		hint := models.TokenTransferHint{
			TokenAddress: models.NormalizeAddress(t.ContractAddress),
			From:         models.NormalizeAddress(t.From),
			To:           models.NormalizeAddress(t.To),
			Value:        defaultZero(t.Value),
			Symbol:       t.TokenSymbol,
			Name:         t.TokenName,
			LogIndex:     t.LogIndex.Or(0),
		}
		if t.TokenDecimal.valid {
			d := t.TokenDecimal.decimals()
			hint.Decimals = &d
		}
		raw.TokenTransfers = append(raw.TokenTransfers, hint)
	}

	for _, it := range internals {
		if it.IsError == "1" {
			continue
		}
		value, ok := units.ParseBigInt(it.Value)
		if !ok || value.Sign() == 0 {
			continue
		}
		hash := models.NormalizeAddress(it.Hash)
		raw, ok := byHash[hash]
		if !ok {
			// PLS paid out by a contract someone else called.
			synth := models.RawTransaction{
				Hash:        hash,
				From:        models.NormalizeAddress(it.From),
				To:          models.NormalizeAddress(it.To),
				Value:       "0",
				BlockNumber: uint64(it.BlockNumber.Or(0)),
				Timestamp:   unixTime(it.TimeStamp),
			}
			byHash[hash] = &synth
			order = append(order, hash)
			raw = &synth
		}
		// NativeTransfers replaces the top-level value for the classifier,
		// so a non-zero value is carried over as the first entry.
		if len(raw.NativeTransfers) == 0 {
			if top, ok := units.ParseBigInt(raw.Value); ok && top.Sign() > 0 {
				raw.NativeTransfers = append(raw.NativeTransfers, models.NativeTransfer{From: raw.From, To: raw.To, Value: raw.Value})
			}
		}
		raw.NativeTransfers = append(raw.NativeTransfers, models.NativeTransfer{
			From:  models.NormalizeAddress(it.From),
			To:    models.NormalizeAddress(it.To),
			Value: value.String(),
		})
	}

	result := make([]models.RawTransaction, 0, len(order))
	for _, hash := range order {
		result = append(result, *byHash[hash])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BlockNumber > result[j].BlockNumber
	})

	next := ""
	if len(txs) >= limit && limit > 0 {
		next = strconv.Itoa(page + 1)
	}
	return &models.TransactionPage{
		Transactions: result,
		NextCursor:   next,
		Source:       ScanName,
	}, nil
}

func (tx scanTx) toRaw() models.RawTransaction {
	return models.RawTransaction{
		Hash:        models.NormalizeAddress(tx.Hash),
		From:        models.NormalizeAddress(tx.From),
		To:          models.NormalizeAddress(tx.To),
		Value:       defaultZero(tx.Value),
		Gas:         tx.Gas,
		GasPrice:    tx.GasPrice,
		GasUsed:     tx.GasUsed,
		BlockNumber: uint64(tx.BlockNumber.Or(0)),
		Timestamp:   unixTime(tx.TimeStamp),
		Input:       tx.Input,
		MethodLabel: tx.FunctionName,
		Failed:      tx.IsError == "1",
	}
}

func unixTime(ts flexInt) time.Time {
	if !ts.valid || ts.value <= 0 {
		return time.Time{}
	}
	return time.Unix(ts.value, 0).UTC()
}
