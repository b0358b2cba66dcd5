package classifier

import (
	"fmt"
	"os"
	"strings"

	"pulsechain-portfolio-api/internal/models"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"
)

// Selector returns the 4-byte method selector of a Solidity signature,
// e.g. "approve(address,uint256)" -> "0x095ea7b3".
func Selector(signature string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(signature))[:4])
}

// TransferTopic is topic0 of the ERC-20 Transfer event
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

var (
	approvalSignatures = []string{
		"approve(address,uint256)",
		"setApprovalForAll(address,bool)",
		"increaseAllowance(address,uint256)",
	}

	addLiquiditySignatures = []string{
		"addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)",
		"addLiquidityETH(address,uint256,uint256,uint256,address,uint256)",
	}

	removeLiquiditySignatures = []string{
		"removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)",
		"removeLiquidityETH(address,uint256,uint256,uint256,address,uint256)",
		"removeLiquidityWithPermit(address,address,uint256,uint256,uint256,address,uint256,bool,uint8,bytes32,bytes32)",
		"removeLiquidityETHWithPermit(address,uint256,uint256,uint256,address,uint256,bool,uint8,bytes32,bytes32)",
		"removeLiquidityETHSupportingFeeOnTransferTokens(address,uint256,uint256,uint256,address,uint256)",
		"removeLiquidityETHWithPermitSupportingFeeOnTransferTokens(address,uint256,uint256,uint256,address,uint256,bool,uint8,bytes32,bytes32)",
	}

	swapSignatures = []string{
		"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
		"swapTokensForExactTokens(uint256,uint256,address[],address,uint256)",
		"swapExactETHForTokens(uint256,address[],address,uint256)",
		"swapTokensForExactETH(uint256,uint256,address[],address,uint256)",
		"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
		"swapETHForExactTokens(uint256,address[],address,uint256)",
		"swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)",
		"swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)",
		"swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)",
	}

	genericStakeSignatures = []string{
		"stake(uint256)",
		"deposit(uint256)",
		"deposit(uint256,uint256)",
		"enterStaking(uint256)",
	}

	genericUnstakeSignatures = []string{
		"unstake(uint256)",
		"withdraw(uint256)",
		"withdraw(uint256,uint256)",
		"leaveStaking(uint256)",
		"exit()",
	}
)

// Known PulseChain contracts
const (
	PulseXRouterV1 = "0x98bf93ebf5c380c0e6ae8e192a7e2ae08edacc02"
	PulseXRouterV2 = "0x165c3410fc91ef562c50559f7d2289febed552d9"
	HEXContract    = "0x2b591e99afe9f32eaa6214f7b7629768c40eeb39"
)

// StakingContract is a staking contract with its own stake/unstake methods
type StakingContract struct {
	Address           string   `yaml:"address"`
	Name              string   `yaml:"name"`
	StakeSignatures   []string `yaml:"stake_signatures"`
	UnstakeSignatures []string `yaml:"unstake_signatures"`
}

// NamedAddress is a labelled contract address
type NamedAddress struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// RegistryFile is the YAML form used to extend the built-in registry
type RegistryFile struct {
	Routers                   []NamedAddress    `yaml:"routers"`
	StakingContracts          []StakingContract `yaml:"staking_contracts"`
	ApprovalSignatures        []string          `yaml:"approval_signatures"`
	AddLiquiditySignatures    []string          `yaml:"add_liquidity_signatures"`
	RemoveLiquiditySignatures []string          `yaml:"remove_liquidity_signatures"`
	SwapSignatures            []string          `yaml:"swap_signatures"`
	StakeSignatures           []string          `yaml:"stake_signatures"`
	UnstakeSignatures         []string          `yaml:"unstake_signatures"`
}

// Registry is the fixed, extensible set of selectors and contracts the
// classifier recognizes. It is read-only once built.
type Registry struct {
	approval        map[string]bool
	addLiquidity    map[string]bool
	removeLiquidity map[string]bool
	swap            map[string]bool
	genericStaking  map[string]models.TransactionCategory
	routers         map[string]string
	staking         map[string]string
	contractStaking map[string]map[string]models.TransactionCategory
	// methodNames maps a lowercase method name to its selector so
	// provider method labels can stand in for missing input data.
	methodNames map[string]string
}

func newEmptyRegistry() *Registry {
	return &Registry{
		approval:        make(map[string]bool),
		addLiquidity:    make(map[string]bool),
		removeLiquidity: make(map[string]bool),
		swap:            make(map[string]bool),
		genericStaking:  make(map[string]models.TransactionCategory),
		routers:         make(map[string]string),
		staking:         make(map[string]string),
		contractStaking: make(map[string]map[string]models.TransactionCategory),
		methodNames:     make(map[string]string),
	}
}

// DefaultRegistry returns the built-in PulseChain registry
func DefaultRegistry() *Registry {
	r := newEmptyRegistry()
	r.Extend(RegistryFile{
		Routers: []NamedAddress{
			{Address: PulseXRouterV1, Name: "PulseX Router V1"},
			{Address: PulseXRouterV2, Name: "PulseX Router V2"},
		},
		StakingContracts: []StakingContract{{
			Address:           HEXContract,
			Name:              "HEX",
			StakeSignatures:   []string{"stakeStart(uint256,uint256)"},
			UnstakeSignatures: []string{"stakeEnd(uint256,uint40)"},
		}},
		ApprovalSignatures:        approvalSignatures,
		AddLiquiditySignatures:    addLiquiditySignatures,
		RemoveLiquiditySignatures: removeLiquiditySignatures,
		SwapSignatures:            swapSignatures,
		StakeSignatures:           genericStakeSignatures,
		UnstakeSignatures:         genericUnstakeSignatures,
	})
	return r
}

// LoadRegistry returns the default registry extended with the YAML file at
// path. An empty path yields the default registry.
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	r.Extend(file)
	return r, nil
}

// Extend adds every entry of file to the registry
func (r *Registry) Extend(file RegistryFile) {
	for _, a := range file.Routers {
		r.routers[models.NormalizeAddress(a.Address)] = a.Name
	}
	for _, sc := range file.StakingContracts {
		address := models.NormalizeAddress(sc.Address)
		r.staking[address] = sc.Name
		methods, ok := r.contractStaking[address]
		if !ok {
			methods = make(map[string]models.TransactionCategory)
			r.contractStaking[address] = methods
		}
		for _, sig := range sc.StakeSignatures {
			methods[r.register(sig)] = models.CategoryStake
		}
		for _, sig := range sc.UnstakeSignatures {
			methods[r.register(sig)] = models.CategoryUnstake
		}
	}

	addAll := func(set map[string]bool, sigs []string) {
		for _, sig := range sigs {
			set[r.register(sig)] = true
		}
	}
	addAll(r.approval, file.ApprovalSignatures)
	addAll(r.addLiquidity, file.AddLiquiditySignatures)
	addAll(r.removeLiquidity, file.RemoveLiquiditySignatures)
	addAll(r.swap, file.SwapSignatures)

	for _, sig := range file.StakeSignatures {
		r.genericStaking[r.register(sig)] = models.CategoryStake
	}
	for _, sig := range file.UnstakeSignatures {
		r.genericStaking[r.register(sig)] = models.CategoryUnstake
	}
}

// register records the method name of sig and returns its selector. A raw
// 0x-prefixed selector is accepted as-is.
func (r *Registry) register(sig string) string {
	sig = strings.TrimSpace(sig)
	if isRawSelector(sig) {
		return strings.ToLower(sig)
	}
	selector := Selector(sig)
	if name, _, ok := strings.Cut(sig, "("); ok {
		name = strings.ToLower(name)
		if _, taken := r.methodNames[name]; !taken {
			r.methodNames[name] = selector
		}
	}
	return selector
}

func isRawSelector(s string) bool {
	if len(s) != 10 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hexutil.Decode(s)
	return err == nil
}

// IsRouter reports whether address is a known swap router
func (r *Registry) IsRouter(address string) bool {
	_, ok := r.routers[models.NormalizeAddress(address)]
	return ok
}

// StakingContractName returns the name of a known staking contract
func (r *Registry) StakingContractName(address string) (string, bool) {
	name, ok := r.staking[models.NormalizeAddress(address)]
	return name, ok
}

// selectorForLabel maps a provider method label such as
// "swapExactTokensForETH" to a registered selector.
func (r *Registry) selectorForLabel(label string) string {
	label = strings.TrimSpace(label)
	if name, _, ok := strings.Cut(label, "("); ok {
		label = name
	}
	return r.methodNames[strings.ToLower(label)]
}
