package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/models"
)

// IndexedName identifies the indexed balance/price provider
const IndexedName = "indexed"

const indexedMaxBalancePages = 5

// IndexedConfig configures the indexed provider client
type IndexedConfig struct {
	BaseURL string
	APIKey  string
	Chain   string
	Timeout time.Duration
}

// IndexedProvider talks to a Moralis-style indexing API. It offers rich
// token metadata, quotes embedded in balances and a batch price endpoint.
type IndexedProvider struct {
	http    *httpClient
	baseURL string
	chain   string
}

// NewIndexedProvider creates an indexed provider client
func NewIndexedProvider(cfg IndexedConfig, opts ...Option) *IndexedProvider {
	chain := cfg.Chain
	if chain == "" {
		chain = "pulse"
	}
	return &IndexedProvider{
		http:    newHTTPClient(IndexedName, cfg.Timeout, map[string]string{"X-API-Key": cfg.APIKey}, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		chain:   chain,
	}
}

// Name returns the provider name
func (p *IndexedProvider) Name() string { return IndexedName }

type indexedToken struct {
	TokenAddress     string    `json:"token_address"`
	Symbol           string    `json:"symbol"`
	Name             string    `json:"name"`
	Logo             string    `json:"logo"`
	Thumbnail        string    `json:"thumbnail"`
	Decimals         flexInt   `json:"decimals"`
	Balance          string    `json:"balance"`
	PossibleSpam     bool      `json:"possible_spam"`
	VerifiedContract bool      `json:"verified_contract"`
	NativeToken      bool      `json:"native_token"`
	USDPrice         flexFloat `json:"usd_price"`
	PercentChange24h flexFloat `json:"usd_price_24hr_percent_change"`
	SecurityScore    *int      `json:"security_score"`
}

type indexedBalancesResponse struct {
	Cursor string         `json:"cursor"`
	Result []indexedToken `json:"result"`
}

// Balances returns every token the indexer knows the wallet holds
func (p *IndexedProvider) Balances(ctx context.Context, wallet string) ([]models.RawBalance, error) {
	var balances []models.RawBalance
	cursor := ""

	for page := 0; page < indexedMaxBalancePages; page++ {
		q := url.Values{}
		q.Set("chain", p.chain)
		q.Set("exclude_spam", "false")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp indexedBalancesResponse
		endpoint := fmt.Sprintf("%s/wallets/%s/tokens?%s", p.baseURL, url.PathEscape(wallet), q.Encode())
		if err := p.http.getJSON(ctx, "balances", endpoint, &resp); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		for _, t := range resp.Result {
			balances = append(balances, t.toRawBalance(now))
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return balances, nil
}

func (t indexedToken) toRawBalance(now time.Time) models.RawBalance {
	address := models.NormalizeAddress(t.TokenAddress)
	symbol := normalizeSymbol(t.Symbol)
	logo := t.Logo
	if logo == "" {
		logo = t.Thumbnail
	}

	raw := models.RawBalance{
		TokenAddress: address,
		Symbol:       symbol,
		Name:         normalizeName(t.Name, symbol),
		Decimals:     t.Decimals.decimals(),
		Balance:      strings.TrimSpace(t.Balance),
		Logo:         logo,
		Verified:     t.VerifiedContract,
		IsNative:     t.NativeToken,
		PossibleSpam: t.PossibleSpam,
	}
	if raw.Balance == "" {
		raw.Balance = "0"
	}
	if t.USDPrice.valid && t.USDPrice.value > 0 {
		raw.Quote = &models.PriceQuote{
			TokenAddress:     address,
			USDPrice:         t.USDPrice.value,
			PercentChange24h: t.PercentChange24h.value,
			SecurityScore:    t.SecurityScore,
			Source:           IndexedName,
			Timestamp:        now,
		}
	}
	return raw
}

type indexedPrice struct {
	TokenAddress     string    `json:"tokenAddress"`
	USDPrice         flexFloat `json:"usdPrice"`
	PercentChange24h flexFloat `json:"24hrPercentChange"`
	ExchangeName     string    `json:"exchangeName"`
	SecurityScore    *int      `json:"securityScore"`
}

func (ip indexedPrice) toQuote(fallbackAddress string, now time.Time) (*models.PriceQuote, bool) {
	if !ip.USDPrice.valid || ip.USDPrice.value <= 0 {
		return nil, false
	}
	address := models.NormalizeAddress(ip.TokenAddress)
	if address == "" {
		address = models.NormalizeAddress(fallbackAddress)
	}
	return &models.PriceQuote{
		TokenAddress:     address,
		USDPrice:         ip.USDPrice.value,
		PercentChange24h: ip.PercentChange24h.value,
		ExchangeName:     ip.ExchangeName,
		SecurityScore:    ip.SecurityScore,
		Source:           IndexedName,
		Timestamp:        now,
	}, true
}

// Price returns the indexer's USD quote for a single token
func (p *IndexedProvider) Price(ctx context.Context, token string) (*models.PriceQuote, error) {
	var resp indexedPrice
	endpoint := fmt.Sprintf("%s/erc20/%s/price?chain=%s", p.baseURL, url.PathEscape(token), url.QueryEscape(p.chain))
	if err := p.http.getJSON(ctx, "price", endpoint, &resp); err != nil {
		return nil, err
	}

	quote, ok := resp.toQuote(token, time.Now().UTC())
	if !ok {
		return nil, models.NewProviderError(IndexedName, "price", models.ErrNotFound, nil)
	}
	return quote, nil
}

type indexedBatchRequest struct {
	Tokens []indexedBatchToken `json:"tokens"`
}

type indexedBatchToken struct {
	TokenAddress string `json:"token_address"`
}

// BatchPrices resolves several tokens in one call. Tokens without a quote
// are absent from the result.
func (p *IndexedProvider) BatchPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	result := make(map[string]*models.PriceQuote, len(tokens))
	if len(tokens) == 0 {
		return result, nil
	}

	body := indexedBatchRequest{Tokens: make([]indexedBatchToken, 0, len(tokens))}
	for _, t := range tokens {
		body.Tokens = append(body.Tokens, indexedBatchToken{TokenAddress: models.NormalizeAddress(t)})
	}

	var resp []indexedPrice
	endpoint := fmt.Sprintf("%s/erc20/prices?chain=%s", p.baseURL, url.QueryEscape(p.chain))
	if err := p.http.postJSON(ctx, "batch_prices", endpoint, body, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, item := range resp {
		if quote, ok := item.toQuote("", now); ok && quote.TokenAddress != "" {
			result[quote.TokenAddress] = quote
		}
	}
	return result, nil
}

type indexedLog struct {
	Address  string  `json:"address"`
	Data     string  `json:"data"`
	Topic0   *string `json:"topic0"`
	Topic1   *string `json:"topic1"`
	Topic2   *string `json:"topic2"`
	Topic3   *string `json:"topic3"`
	LogIndex flexInt `json:"log_index"`
}

type indexedERC20Transfer struct {
	Address       string  `json:"address"`
	FromAddress   string  `json:"from_address"`
	ToAddress     string  `json:"to_address"`
	Value         string  `json:"value"`
	TokenSymbol   string  `json:"token_symbol"`
	TokenName     string  `json:"token_name"`
	TokenDecimals flexInt `json:"token_decimals"`
	LogIndex      flexInt `json:"log_index"`
}

type indexedNativeTransfer struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Value       string `json:"value"`
}

type indexedTransaction struct {
	Hash            string                  `json:"hash"`
	FromAddress     string                  `json:"from_address"`
	ToAddress       string                  `json:"to_address"`
	Value           string                  `json:"value"`
	Gas             string                  `json:"gas"`
	GasPrice        string                  `json:"gas_price"`
	ReceiptGasUsed  string                  `json:"receipt_gas_used"`
	ReceiptStatus   string                  `json:"receipt_status"`
	BlockNumber     flexInt                 `json:"block_number"`
	BlockTimestamp  string                  `json:"block_timestamp"`
	Input           string                  `json:"input"`
	MethodLabel     string                  `json:"method_label"`
	Logs            []indexedLog            `json:"logs"`
	ERC20Transfers  []indexedERC20Transfer  `json:"erc20_transfers"`
	NativeTransfers []indexedNativeTransfer `json:"native_transfers"`
}

type indexedHistoryResponse struct {
	Cursor string               `json:"cursor"`
	Total  flexInt              `json:"total"`
	Result []indexedTransaction `json:"result"`
}

// TransactionPage returns one page of decoded wallet history
func (p *IndexedProvider) TransactionPage(ctx context.Context, wallet string, limit int, cursor string) (*models.TransactionPage, error) {
	q := url.Values{}
	q.Set("chain", p.chain)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "DESC")
	q.Set("include_internal_transactions", "true")
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp indexedHistoryResponse
	endpoint := fmt.Sprintf("%s/wallets/%s/history?%s", p.baseURL, url.PathEscape(wallet), q.Encode())
	if err := p.http.getJSON(ctx, "history", endpoint, &resp); err != nil {
		return nil, err
	}

	page := &models.TransactionPage{
		Transactions: make([]models.RawTransaction, 0, len(resp.Result)),
		NextCursor:   resp.Cursor,
		Total:        resp.Total.Or(0),
		Source:       IndexedName,
	}
	for _, tx := range resp.Result {
		if tx.Hash == "" {
			continue
		}
		page.Transactions = append(page.Transactions, tx.toRaw())
	}
	return page, nil
}

func (tx indexedTransaction) toRaw() models.RawTransaction {
	raw := models.RawTransaction{
		Hash:        models.NormalizeAddress(tx.Hash),
		From:        models.NormalizeAddress(tx.FromAddress),
		To:          models.NormalizeAddress(tx.ToAddress),
		Value:       defaultZero(tx.Value),
		Gas:         tx.Gas,
		GasPrice:    tx.GasPrice,
		GasUsed:     tx.ReceiptGasUsed,
		BlockNumber: uint64(tx.BlockNumber.Or(0)),
		Input:       tx.Input,
		MethodLabel: tx.MethodLabel,
		Failed:      tx.ReceiptStatus == "0",
	}
	if ts, err := time.Parse(time.RFC3339Nano, tx.BlockTimestamp); err == nil {
		raw.Timestamp = ts.UTC()
	}

	for _, l := range tx.Logs {
		entry := models.LogEntry{
			Address:  models.NormalizeAddress(l.Address),
			Data:     l.Data,
			LogIndex: l.LogIndex.Or(0),
		}
		for _, topic := range []*string{l.Topic0, l.Topic1, l.Topic2, l.Topic3} {
			if topic == nil || *topic == "" {
				break
			}
			entry.Topics = append(entry.Topics, strings.ToLower(*topic))
		}
		raw.Logs = append(raw.Logs, entry)
	}

	for _, t := range tx.ERC20Transfers {
		hint := models.TokenTransferHint{
			TokenAddress: models.NormalizeAddress(t.Address),
			From:         models.NormalizeAddress(t.FromAddress),
			To:           models.NormalizeAddress(t.ToAddress),
			Value:        defaultZero(t.Value),
			Symbol:       t.TokenSymbol,
			Name:         t.TokenName,
			LogIndex:     t.LogIndex.Or(0),
		}
		if t.TokenDecimals.valid {
			d := t.TokenDecimals.decimals()
			hint.Decimals = &d
		}
		raw.TokenTransfers = append(raw.TokenTransfers, hint)
	}

	for _, n := range tx.NativeTransfers {
		raw.NativeTransfers = append(raw.NativeTransfers, models.NativeTransfer{
			From:  models.NormalizeAddress(n.FromAddress),
			To:    models.NormalizeAddress(n.ToAddress),
			Value: defaultZero(n.Value),
		})
	}
	return raw
}

func defaultZero(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "0"
	}
	return v
}
