package classifier

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

const (
	wallet  = "0x1111111111111111111111111111111111111111"
	other   = "0x2222222222222222222222222222222222222222"
	plsx    = "0x95b303987a60c71504d99aa1b13b4da07bc0f2ab"
	usdc    = "0x15d38573d2feeb82e7ad5187ab8c1d52810b1f07"
	lpToken = "0x1b45b9148791d3a104184cd5dfe5ce57193a3ee9"
)

type fakeMetadata map[string]models.TokenMeta

func (f fakeMetadata) TokenMetadata(_ context.Context, token string) models.TokenMeta {
	if meta, ok := f[models.NormalizeAddress(token)]; ok {
		return meta
	}
	return models.TokenMeta{Address: token, Symbol: models.UnknownSymbol, Decimals: 18}
}

var metadata = fakeMetadata{
	plsx:        {Address: plsx, Symbol: "PLSX", Name: "PulseX", Decimals: 18},
	usdc:        {Address: usdc, Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	lpToken:     {Address: lpToken, Symbol: "PLP", Name: "PulseX LP", Decimals: 18},
	HEXContract: {Address: HEXContract, Symbol: "HEX", Name: "HEX", Decimals: 8},
}

func addressTopic(address string) string {
	return hexutil.Encode(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))
}

func transferLog(token, from, to string, value int64, index int) models.LogEntry {
	return models.LogEntry{
		Address:  token,
		Topics:   []string{TransferTopic, addressTopic(from), addressTopic(to)},
		Data:     hexutil.Encode(common.LeftPadBytes(big.NewInt(value).Bytes(), 32)),
		LogIndex: index,
	}
}

func input(signature string) string {
	return Selector(signature) + strings.Repeat("0", 128)
}

func newClassifier() *Classifier {
	return New(DefaultRegistry(), metadata)
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "0x095ea7b3", Selector("approve(address,uint256)"))
	assert.Equal(t, "0xa9059cbb", Selector("transfer(address,uint256)"))
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", TransferTopic)
	assert.Equal(t, "0x095ea7b3", methodSelector("0x095EA7B3abcdef"))
	assert.Equal(t, "", methodSelector("0x"))
	assert.Equal(t, "", methodSelector("0xzzzzzzzz00"))
}

func TestClassifyApproval(t *testing.T) {
	c := newClassifier()
	tx := models.RawTransaction{
		Hash:  "0xa",
		From:  wallet,
		To:    plsx,
		Value: "0",
		Input: input("approve(address,uint256)"),
		Logs:  []models.LogEntry{transferLog(plsx, wallet, other, 100, 0)},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	assert.Equal(t, models.CategoryApproval, ct.Category)
	assert.Equal(t, "Approve PLSX", ct.Label)
	assert.Nil(t, ct.Swap)

	byLabel := c.Classify(context.Background(), models.RawTransaction{From: wallet, To: plsx, MethodLabel: "Approve"}, wallet)
	assert.Equal(t, models.CategoryApproval, byLabel.Category)
}

func TestClassifyApprovalMatchesWholeMethodName(t *testing.T) {
	c := newClassifier()
	classify := func(label string) models.TransactionCategory {
		tx := models.RawTransaction{Hash: "0xa", From: wallet, To: plsx, Value: "0", MethodLabel: label}
		return c.Classify(context.Background(), tx, wallet).Category
	}

	for _, label := range []string{"approve", "setApprovalForAll", "increaseAllowance(address,uint256)", " Approve "} {
		assert.Equal(t, models.CategoryApproval, classify(label), label)
	}
	for _, label := range []string{"disapprove", "approveAndCall", "approvedTransfer", "unapproveOperator"} {
		assert.NotEqual(t, models.CategoryApproval, classify(label), label)
	}
}

func TestClassifySwapOnRouter(t *testing.T) {
	c := newClassifier()
	decimals := 18
	tx := models.RawTransaction{
		Hash:  "0xb",
		From:  wallet,
		To:    PulseXRouterV2,
		Value: "0",
		Input: "0xdeadbeef",
		TokenTransfers: []models.TokenTransferHint{
			{TokenAddress: plsx, From: wallet, To: other, Value: "10000000000000000000", Symbol: "PLSX", Decimals: &decimals},
		},
		NativeTransfers: []models.NativeTransfer{
			{From: PulseXRouterV2, To: wallet, Value: "2500000000000000000"},
		},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	require.Equal(t, models.CategorySwap, ct.Category)
	require.NotNil(t, ct.Swap)
	assert.Equal(t, plsx, ct.Swap.Sold.TokenAddress)
	assert.Equal(t, "10.000000000000000000", ct.Swap.Sold.Amount)
	assert.Equal(t, models.NativeSymbol, ct.Swap.Bought.Symbol)
	assert.True(t, ct.Swap.Bought.IsNative)
	assert.Equal(t, "2.500000000000000000", ct.Swap.Bought.Amount)
	assert.Equal(t, "Swap 10 PLSX for 2.5 PLS", ct.Label)
}

func TestClassifySwapNeedsBothLegs(t *testing.T) {
	c := newClassifier()
	tx := models.RawTransaction{
		From:  wallet,
		To:    PulseXRouterV1,
		Value: "0",
		Input: input("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"),
		Logs:  []models.LogEntry{transferLog(plsx, wallet, other, 5, 1)},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	assert.Equal(t, models.CategorySend, ct.Category)
	assert.Nil(t, ct.Swap)
}

func TestClassifyStaking(t *testing.T) {
	c := newClassifier()

	t.Run("UnknownSelectorMoreIncomingIsUnstake", func(t *testing.T) {
		tx := models.RawTransaction{
			From:  wallet,
			To:    HEXContract,
			Value: "0",
			Input: "0x12345678",
			Logs: []models.LogEntry{
				transferLog(HEXContract, "0x0000000000000000000000000000000000000000", wallet, 100, 0),
				transferLog(plsx, other, wallet, 200, 1),
				transferLog(usdc, other, wallet, 300, 2),
			},
		}
		ct := c.Classify(context.Background(), tx, wallet)
		assert.Equal(t, models.CategoryUnstake, ct.Category)
		assert.Len(t, ct.Received, 3)
		assert.Empty(t, ct.Sent)
	})

	t.Run("UnknownSelectorMoreOutgoingIsStake", func(t *testing.T) {
		tx := models.RawTransaction{
			From:  wallet,
			To:    HEXContract,
			Value: "0",
			Input: "0x12345678",
			Logs:  []models.LogEntry{transferLog(HEXContract, wallet, "0x0000000000000000000000000000000000000000", 100, 0)},
		}
		ct := c.Classify(context.Background(), tx, wallet)
		assert.Equal(t, models.CategoryStake, ct.Category)
	})

	t.Run("ContractSelectorWinsOverTransfers", func(t *testing.T) {
		tx := models.RawTransaction{
			From:  wallet,
			To:    HEXContract,
			Value: "0",
			Input: input("stakeEnd(uint256,uint40)"),
		}
		ct := c.Classify(context.Background(), tx, wallet)
		assert.Equal(t, models.CategoryUnstake, ct.Category)
		assert.Equal(t, "Unstake (HEX)", ct.Label)

		tx.Input = input("stakeStart(uint256,uint256)")
		tx.Logs = []models.LogEntry{transferLog(HEXContract, wallet, "0x0000000000000000000000000000000000000000", 150000000, 0)}
		ct = c.Classify(context.Background(), tx, wallet)
		assert.Equal(t, models.CategoryStake, ct.Category)
		assert.Equal(t, "Stake 1.5 HEX (HEX)", ct.Label)
	})

	t.Run("GenericSelectorOnAnyContract", func(t *testing.T) {
		tx := models.RawTransaction{From: wallet, To: other, Value: "0", Input: input("withdraw(uint256)")}
		ct := c.Classify(context.Background(), tx, wallet)
		assert.Equal(t, models.CategoryUnstake, ct.Category)
	})
}

func TestClassifyLiquidity(t *testing.T) {
	c := newClassifier()

	add := models.RawTransaction{
		From:  wallet,
		To:    PulseXRouterV2,
		Value: "1000000000000000000",
		Input: input("addLiquidityETH(address,uint256,uint256,uint256,address,uint256)"),
		Logs: []models.LogEntry{
			transferLog(plsx, wallet, other, 100, 0),
			transferLog(lpToken, "0x0000000000000000000000000000000000000000", wallet, 5, 1),
		},
	}
	ct := c.Classify(context.Background(), add, wallet)
	assert.Equal(t, models.CategoryAddLiquidity, ct.Category)
	assert.Equal(t, "Add Liquidity PLSX/PLS", ct.Label)

	remove := models.RawTransaction{
		From:  wallet,
		To:    PulseXRouterV2,
		Value: "0",
		Input: input("removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)"),
		Logs: []models.LogEntry{
			transferLog(lpToken, wallet, other, 5, 0),
			transferLog(plsx, other, wallet, 100, 1),
			transferLog(usdc, other, wallet, 100, 2),
		},
	}
	ct = c.Classify(context.Background(), remove, wallet)
	assert.Equal(t, models.CategoryRemoveLiquidity, ct.Category)
	assert.Equal(t, "Remove Liquidity PLSX/USDC", ct.Label)
}

func TestClassifyAmountFormatting(t *testing.T) {
	c := newClassifier()
	tx := models.RawTransaction{
		From:  other,
		To:    usdc,
		Value: "0",
		Input: input("transfer(address,uint256)"),
		Logs:  []models.LogEntry{transferLog(usdc, other, wallet, 1500000, 3)},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	assert.Equal(t, models.CategoryReceive, ct.Category)
	require.Len(t, ct.Received, 1)
	assert.Equal(t, 6, ct.Received[0].Decimals)
	assert.Equal(t, "1500000", ct.Received[0].RawValue)
	assert.Equal(t, "1.500000", ct.Received[0].Amount)
	assert.Equal(t, "Receive 1.5 USDC", ct.Label)
}

func TestClassifyDirectionalFallback(t *testing.T) {
	c := newClassifier()

	send := c.Classify(context.Background(), models.RawTransaction{From: wallet, To: other, Value: "1000000000000000000", Input: "0x"}, wallet)
	assert.Equal(t, models.CategorySend, send.Category)
	assert.Equal(t, "Send 1 PLS", send.Label)

	receive := c.Classify(context.Background(), models.RawTransaction{From: other, To: wallet, Value: "5", Input: "0x"}, wallet)
	assert.Equal(t, models.CategoryReceive, receive.Category)

	contract := c.Classify(context.Background(), models.RawTransaction{From: wallet, To: other, Value: "0", Input: "0xabcdef12", MethodLabel: "claim"}, wallet)
	assert.Equal(t, models.CategoryContract, contract.Category)
	assert.Equal(t, "claim", contract.Label)
}

func TestClassifyMethodLabelStandsInForInput(t *testing.T) {
	c := newClassifier()
	tx := models.RawTransaction{
		From:        wallet,
		To:          other,
		Value:       "0",
		MethodLabel: "swapExactTokensForETH",
		Logs:        []models.LogEntry{transferLog(plsx, wallet, other, 10, 0)},
		NativeTransfers: []models.NativeTransfer{
			{From: other, To: wallet, Value: "20"},
		},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	assert.Equal(t, models.CategorySwap, ct.Category)
	assert.Equal(t, Selector("swapExactTokensForETH(uint256,uint256,address[],address,uint256)"), ct.MethodSelector)
}

func TestClassifySkipsMalformedLogs(t *testing.T) {
	c := newClassifier()
	nft := transferLog(plsx, other, wallet, 1, 0)
	nft.Topics = append(nft.Topics, addressTopic(other))
	broken := transferLog(plsx, other, wallet, 1, 1)
	broken.Data = "0xzz"

	tx := models.RawTransaction{
		From:  other,
		To:    plsx,
		Value: "0",
		Input: "0x",
		Logs:  []models.LogEntry{nft, broken, transferLog(plsx, other, wallet, 7, 2)},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	assert.Equal(t, models.CategoryReceive, ct.Category)
	require.Len(t, ct.Received, 1)
	assert.Equal(t, "7", ct.Received[0].RawValue)
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	c := newClassifier()
	tx := models.RawTransaction{
		Hash:  "0xabc",
		From:  "0xAAAA",
		To:    PulseXRouterV1,
		Value: "0",
		Logs:  []models.LogEntry{transferLog(plsx, wallet, other, 1, 0)},
	}
	before := tx

	txs := []models.RawTransaction{tx}
	out := c.ClassifyAll(context.Background(), txs, wallet)
	require.Len(t, out, 1)
	assert.Equal(t, before, txs[0])
	assert.Equal(t, before, out[0].RawTransaction)
}

func TestClassifyUnknownTokenDefaults(t *testing.T) {
	c := New(nil, nil)
	token := "0x9999999999999999999999999999999999999999"
	tx := models.RawTransaction{
		From:  other,
		To:    token,
		Value: "0",
		Logs:  []models.LogEntry{transferLog(token, other, wallet, 1, 0)},
	}

	ct := c.Classify(context.Background(), tx, wallet)
	require.Len(t, ct.Received, 1)
	assert.Equal(t, models.UnknownSymbol, ct.Received[0].Symbol)
	assert.Equal(t, 18, ct.Received[0].Decimals)
	assert.Equal(t, "0.000000000000000001", ct.Received[0].Amount)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routers:
  - address: "0x3333333333333333333333333333333333333333"
    name: Test Router
staking_contracts:
  - address: "0x4444444444444444444444444444444444444444"
    name: Farm
    stake_signatures: ["lock(uint256)"]
    unstake_signatures: ["0xaabbccdd"]
`), 0o600))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.True(t, r.IsRouter("0x3333333333333333333333333333333333333333"))
	assert.True(t, r.IsRouter(PulseXRouterV1), "defaults are kept")

	c := New(r, metadata)
	farm := "0x4444444444444444444444444444444444444444"
	ct := c.Classify(context.Background(), models.RawTransaction{From: wallet, To: farm, Value: "0", Input: input("lock(uint256)")}, wallet)
	assert.Equal(t, models.CategoryStake, ct.Category)
	ct = c.Classify(context.Background(), models.RawTransaction{From: wallet, To: farm, Value: "0", Input: "0xaabbccdd"}, wallet)
	assert.Equal(t, models.CategoryUnstake, ct.Category)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
