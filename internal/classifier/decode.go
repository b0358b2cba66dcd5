package classifier

import (
	"math/big"
	"strings"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// transfer is a decoded movement plus whatever token metadata the provider
// attached to it.
type transfer struct {
	models.TransferEvent
	amount   *big.Int
	symbol   string
	name     string
	decimals *int
}

// methodSelector returns the lowercase 4-byte selector of input, or ""
func methodSelector(input string) string {
	input = strings.TrimSpace(input)
	if len(input) < 10 || !strings.HasPrefix(strings.ToLower(input), "0x") {
		return ""
	}
	selector := strings.ToLower(input[:10])
	if _, err := hexutil.Decode(selector); err != nil {
		return ""
	}
	return selector
}

func direction(from, to, wallet string) models.Direction {
	switch {
	case from == wallet && to == wallet:
		return models.DirectionSelf
	case from == wallet:
		return models.DirectionOut
	case to == wallet:
		return models.DirectionIn
	default:
		return models.DirectionOther
	}
}

// decodeTransferLog decodes an ERC-20 Transfer log. ERC-721 transfers carry
// the token id as a fourth topic and are not decoded.
func decodeTransferLog(l models.LogEntry) (from, to string, value *big.Int, ok bool) {
	if len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], TransferTopic) {
		return "", "", nil, false
	}
	fromTopic, err1 := hexutil.Decode(l.Topics[1])
	toTopic, err2 := hexutil.Decode(l.Topics[2])
	data, err3 := hexutil.Decode(l.Data)
	if err1 != nil || err2 != nil || err3 != nil || len(fromTopic) != 32 || len(toTopic) != 32 || len(data) != 32 {
		return "", "", nil, false
	}
	from = models.NormalizeAddress(common.BytesToAddress(fromTopic).Hex())
	to = models.NormalizeAddress(common.BytesToAddress(toTopic).Hex())
	return from, to, new(big.Int).SetBytes(data), true
}

// decodeTransfers collects the token and native movements of tx. Logs are
// decoded first; provider-decoded transfers fill in tokens the logs did not
// cover. Malformed entries and zero amounts are skipped.
func decodeTransfers(tx models.RawTransaction, wallet string) []transfer {
	wallet = models.NormalizeAddress(wallet)
	var out []transfer
	fromLogs := make(map[string]bool)

	add := func(t transfer) {
		if t.amount == nil || t.amount.Sign() <= 0 {
			return
		}
		t.RawValue = t.amount.String()
		t.Direction = direction(t.From, t.To, wallet)
		out = append(out, t)
	}

	hints := make(map[string]models.TokenTransferHint, len(tx.TokenTransfers))
	for _, h := range tx.TokenTransfers {
		hints[models.NormalizeAddress(h.TokenAddress)] = h
	}

	for _, l := range tx.Logs {
		from, to, value, ok := decodeTransferLog(l)
		if !ok {
			continue
		}
		token := models.NormalizeAddress(l.Address)
		t := transfer{
			TransferEvent: models.TransferEvent{TokenAddress: token, From: from, To: to, LogIndex: l.LogIndex},
			amount:        value,
		}
		if h, ok := hints[token]; ok {
			t.symbol, t.name, t.decimals = h.Symbol, h.Name, h.Decimals
		}
		fromLogs[token] = true
		add(t)
	}

	for _, h := range tx.TokenTransfers {
		if fromLogs[models.NormalizeAddress(h.TokenAddress)] {
			continue
		}
		value, ok := units.ParseBigInt(h.Value)
		if !ok {
			continue
		}
		add(transfer{
			TransferEvent: models.TransferEvent{
				TokenAddress: models.NormalizeAddress(h.TokenAddress),
				From:         models.NormalizeAddress(h.From),
				To:           models.NormalizeAddress(h.To),
				LogIndex:     h.LogIndex,
			},
			amount:   value,
			symbol:   h.Symbol,
			name:     h.Name,
			decimals: h.Decimals,
		})
	}

	// Internal transfers include the top-level value when a provider
	// reports them, so tx.Value is only used when none are present.
	natives := tx.NativeTransfers
	if len(natives) == 0 {
		natives = []models.NativeTransfer{{From: tx.From, To: tx.To, Value: tx.Value}}
	}
	for _, n := range natives {
		value, ok := units.ParseBigInt(n.Value)
		if !ok {
			continue
		}
		add(transfer{
			TransferEvent: models.TransferEvent{
				TokenAddress: models.NativeAddress,
				From:         models.NormalizeAddress(n.From),
				To:           models.NormalizeAddress(n.To),
				IsNative:     true,
				LogIndex:     -1,
			},
			amount: value,
		})
	}

	return out
}
