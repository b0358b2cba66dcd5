package providers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/units"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainName identifies the direct RPC fallback
const ChainName = "rpc"

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// ChainReader reads balances and token metadata straight from the chain
type ChainReader interface {
	NativeBalance(ctx context.Context, wallet string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, wallet string) (*big.Int, error)
	TokenMetadata(ctx context.Context, token string) (models.TokenMeta, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// contractCaller is the subset of *ethclient.Client the pool uses
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type dialer func(ctx context.Context, endpoint string) (contractCaller, error)

func dialEthclient(ctx context.Context, endpoint string) (contractCaller, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// RPCPool is a ChainReader over several JSON-RPC endpoints. Calls start at
// the last endpoint that answered and fail over in order.
type RPCPool struct {
	endpoints []string
	timeout   time.Duration
	dial      dialer
	erc20     abi.ABI
	recorder  Recorder

	mu        sync.Mutex
	clients   map[int]contractCaller
	preferred int
}

// NewRPCPool creates a pool over endpoints
func NewRPCPool(endpoints []string, timeout time.Duration, recorder Recorder) (*RPCPool, error) {
	return newRPCPool(endpoints, timeout, recorder, dialEthclient)
}

func newRPCPool(endpoints []string, timeout time.Duration, recorder Recorder, dial dialer) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one rpc endpoint is required")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &RPCPool{
		endpoints: endpoints,
		timeout:   timeout,
		dial:      dial,
		erc20:     parsed,
		recorder:  recorder,
		clients:   make(map[int]contractCaller),
	}, nil
}

func (p *RPCPool) client(ctx context.Context, idx int) (contractCaller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[idx]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, p.endpoints[idx])
	if err != nil {
		return nil, err
	}
	p.clients[idx] = c
	return c, nil
}

func (p *RPCPool) start() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preferred
}

func (p *RPCPool) setPreferred(idx int) {
	p.mu.Lock()
	p.preferred = idx
	p.mu.Unlock()
}

// call runs fn against each endpoint until one succeeds. Reverts are
// answers, not outages, so they stop the failover.
func (p *RPCPool) call(ctx context.Context, op string, fn func(ctx context.Context, c contractCaller) error) error {
	var lastErr error
	first := p.start()

	for i := 0; i < len(p.endpoints); i++ {
		idx := (first + i) % len(p.endpoints)
		c, err := p.client(ctx, idx)
		if err != nil {
			lastErr = err
			continue
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		start := time.Now()
		err = fn(callCtx, c)
		cancel()

		if err == nil {
			p.recorder.RecordUpstreamCall(ChainName, time.Since(start), true)
			p.setPreferred(idx)
			return nil
		}
		p.recorder.RecordUpstreamCall(ChainName, time.Since(start), false)

		var perr *models.ProviderError
		if errors.As(err, &perr) || isRevert(err) {
			return models.NewProviderError(ChainName, op, models.ErrMalformedResponse, err)
		}
		if ctx.Err() != nil {
			return models.NewProviderError(ChainName, op, models.ErrProviderUnavailable, ctx.Err())
		}
		lastErr = err
	}
	return models.NewProviderError(ChainName, op, models.ErrProviderUnavailable, lastErr)
}

func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "invalid opcode")
}

// NativeBalance returns the wallet's PLS balance in wei
func (p *RPCPool) NativeBalance(ctx context.Context, wallet string) (*big.Int, error) {
	var balance *big.Int
	err := p.call(ctx, "native_balance", func(ctx context.Context, c contractCaller) error {
		b, err := c.BalanceAt(ctx, common.HexToAddress(wallet), nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// TokenBalance reads balanceOf(wallet) on token
func (p *RPCPool) TokenBalance(ctx context.Context, token, wallet string) (*big.Int, error) {
	data, err := p.erc20.Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return nil, models.NewProviderError(ChainName, "balance_of", models.ErrMalformedResponse, err)
	}

	var balance *big.Int
	err = p.call(ctx, "balance_of", func(ctx context.Context, c contractCaller) error {
		out, err := p.callContract(ctx, c, token, data)
		if err != nil {
			return err
		}
		vals, err := p.erc20.Unpack("balanceOf", out)
		if err != nil || len(vals) == 0 {
			return models.NewProviderError(ChainName, "balance_of", models.ErrMalformedResponse, err)
		}
		b, ok := vals[0].(*big.Int)
		if !ok {
			return models.NewProviderError(ChainName, "balance_of", models.ErrMalformedResponse, nil)
		}
		balance = b
		return nil
	})
	return balance, err
}

func (p *RPCPool) callContract(ctx context.Context, c contractCaller, token string, data []byte) ([]byte, error) {
	to := common.HexToAddress(token)
	return c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// TokenMetadata reads decimals, symbol and name. Fields that cannot be read
// keep their defaults; an error is returned only when nothing was readable.
func (p *RPCPool) TokenMetadata(ctx context.Context, token string) (models.TokenMeta, error) {
	meta := models.TokenMeta{
		Address:  models.NormalizeAddress(token),
		Symbol:   models.UnknownSymbol,
		Decimals: units.DefaultDecimals,
	}

	var errs []error
	if out, err := p.readMethod(ctx, token, "decimals"); err != nil {
		errs = append(errs, err)
	} else if vals, err := p.erc20.Unpack("decimals", out); err == nil && len(vals) == 1 {
		if d, ok := vals[0].(uint8); ok {
			meta.Decimals = units.NormalizeDecimals(int(d))
		}
	} else {
		errs = append(errs, models.NewProviderError(ChainName, "decimals", models.ErrMalformedResponse, err))
	}

	if out, err := p.readMethod(ctx, token, "symbol"); err != nil {
		errs = append(errs, err)
	} else if s := p.unpackString("symbol", out); s != "" {
		meta.Symbol = s
	}

	if out, err := p.readMethod(ctx, token, "name"); err != nil {
		errs = append(errs, err)
	} else {
		meta.Name = p.unpackString("name", out)
	}
	if meta.Name == "" {
		meta.Name = meta.Symbol
	}

	if len(errs) == 3 {
		return meta, errors.Join(errs...)
	}
	return meta, nil
}

func (p *RPCPool) readMethod(ctx context.Context, token, method string) ([]byte, error) {
	data, err := p.erc20.Pack(method)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = p.call(ctx, method, func(ctx context.Context, c contractCaller) error {
		res, err := p.callContract(ctx, c, token, data)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// unpackString decodes an ABI string, falling back to the bytes32 encoding
// some older tokens use.
func (p *RPCPool) unpackString(method string, out []byte) string {
	if vals, err := p.erc20.Unpack(method, out); err == nil && len(vals) == 1 {
		if s, ok := vals[0].(string); ok {
			return strings.TrimSpace(strings.ToValidUTF8(s, ""))
		}
	}
	if len(out) == 32 {
		return strings.TrimSpace(strings.ToValidUTF8(strings.TrimRight(string(out), "\x00"), ""))
	}
	return ""
}

// BlockNumber returns the head block, used for health checks
func (p *RPCPool) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := p.call(ctx, "block_number", func(ctx context.Context, c contractCaller) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

// Close releases every dialed client
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx, c := range p.clients {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(p.clients, idx)
	}
}
