package chain

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownChain   = errors.New("unknown chain")
	ErrUnknownToken   = errors.New("unknown token")
	ErrInvalidAddress = errors.New("invalid address")
)

// NativeTokenAddress is the zero address the protocol uses for the chain's
// native currency.
var NativeTokenAddress = common.Address{}

// Token is the static identity of a token on one chain.
type Token struct {
	Address     common.Address
	Symbol      string
	Name        string
	Decimals    int32
	IsStable    bool
	IsNative    bool
	IsWrapped   bool
	IsShortable bool
	PythPriceID string
}

// Contracts holds the protocol deployment on one chain.
type Contracts struct {
	Vault           common.Address
	Reader          common.Address
	VaultReader     common.Address
	Router          common.Address
	PositionRouter  common.Address
	PositionManager common.Address
	OrderBook       common.Address
	Usdg            common.Address
	StakedTracker   common.Address
}

// Chain is one configured network.
type Chain struct {
	ID        int64
	Name      string
	Contracts Contracts
	Tokens    []Token

	bySymbol  map[string]int
	byAddress map[common.Address]int
}

// Registry is the read-only token/chain table loaded from YAML.
type Registry struct {
	chains map[int64]*Chain
}

// --- YAML wire format ---

type registryYAML struct {
	Chains []chainYAML `yaml:"chains"`
}

type chainYAML struct {
	ChainID   int64             `yaml:"chain_id"`
	Name      string            `yaml:"name"`
	Contracts map[string]string `yaml:"contracts"`
	Tokens    []tokenYAML       `yaml:"tokens"`
}

type tokenYAML struct {
	Symbol      string `yaml:"symbol"`
	Name        string `yaml:"name,omitempty"`
	Address     string `yaml:"address"`
	Decimals    int32  `yaml:"decimals"`
	IsStable    bool   `yaml:"is_stable,omitempty"`
	IsNative    bool   `yaml:"is_native,omitempty"`
	IsWrapped   bool   `yaml:"is_wrapped,omitempty"`
	IsShortable bool   `yaml:"is_shortable,omitempty"`
	PythPriceID string `yaml:"pyth_price_id,omitempty"`
}

// LoadRegistry reads a registry YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a Registry from YAML bytes.
func ParseRegistry(data []byte) (*Registry, error) {
	var raw registryYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	reg := &Registry{chains: make(map[int64]*Chain, len(raw.Chains))}
	for _, c := range raw.Chains {
		ch, err := buildChain(c)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", c.ChainID, err)
		}
		reg.chains[ch.ID] = ch
	}
	return reg, nil
}

func buildChain(c chainYAML) (*Chain, error) {
	if c.ChainID <= 0 {
		return nil, fmt.Errorf("chain_id must be > 0, got %d", c.ChainID)
	}

	contracts, err := parseContracts(c.Contracts)
	if err != nil {
		return nil, err
	}

	ch := &Chain{
		ID:        c.ChainID,
		Name:      c.Name,
		Contracts: contracts,
		bySymbol:  make(map[string]int, len(c.Tokens)),
		byAddress: make(map[common.Address]int, len(c.Tokens)),
	}

	for _, t := range c.Tokens {
		addr, err := ParseAddress(t.Address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		if t.Decimals <= 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("token %s: decimals out of range: %d", t.Symbol, t.Decimals)
		}
		symbol := strings.ToUpper(t.Symbol)
		if _, dup := ch.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", symbol)
		}

		ch.Tokens = append(ch.Tokens, Token{
			Address:     addr,
			Symbol:      t.Symbol,
			Name:        t.Name,
			Decimals:    t.Decimals,
			IsStable:    t.IsStable,
			IsNative:    t.IsNative,
			IsWrapped:   t.IsWrapped,
			IsShortable: t.IsShortable,
			PythPriceID: t.PythPriceID,
		})
		ch.bySymbol[symbol] = len(ch.Tokens) - 1
		ch.byAddress[addr] = len(ch.Tokens) - 1
	}

	return ch, nil
}

func parseContracts(m map[string]string) (Contracts, error) {
	var c Contracts
	targets := map[string]*common.Address{
		"vault":            &c.Vault,
		"reader":           &c.Reader,
		"vault_reader":     &c.VaultReader,
		"router":           &c.Router,
		"position_router":  &c.PositionRouter,
		"position_manager": &c.PositionManager,
		"order_book":       &c.OrderBook,
		"usdg":             &c.Usdg,
		"staked_tracker":   &c.StakedTracker,
	}
	for name, value := range m {
		dst, ok := targets[name]
		if !ok {
			return c, fmt.Errorf("unknown contract %q", name)
		}
		addr, err := ParseAddress(value)
		if err != nil {
			return c, fmt.Errorf("contract %s: %w", name, err)
		}
		*dst = addr
	}
	return c, nil
}

// ParseAddress validates and parses a hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func (r *Registry) Chain(chainID int64) (*Chain, error) {
	ch, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return ch, nil
}

// ChainIDs returns the configured chain ids in ascending order.
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) TokenBySymbol(chainID int64, symbol string) (Token, error) {
	ch, err := r.Chain(chainID)
	if err != nil {
		return Token{}, err
	}
	i, ok := ch.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownToken, symbol, chainID)
	}
	return ch.Tokens[i], nil
}

func (r *Registry) Token(chainID int64, address common.Address) (Token, error) {
	ch, err := r.Chain(chainID)
	if err != nil {
		return Token{}, err
	}
	i, ok := ch.byAddress[address]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownToken, address.Hex(), chainID)
	}
	return ch.Tokens[i], nil
}

// HasToken reports whether address is registered on chainID. Lookups on an
// unknown chain return false.
func (r *Registry) HasToken(chainID int64, address common.Address) bool {
	ch, ok := r.chains[chainID]
	if !ok {
		return false
	}
	_, ok = ch.byAddress[address]
	return ok
}

// Tokens returns every token on the chain, native currency included.
func (r *Registry) Tokens(chainID int64) ([]Token, error) {
	ch, err := r.Chain(chainID)
	if err != nil {
		return nil, err
	}
	out := make([]Token, len(ch.Tokens))
	copy(out, ch.Tokens)
	return out, nil
}

// WhitelistedTokens returns the vault tokens: everything except the native
// currency, which the vault only knows through its wrapped form.
func (r *Registry) WhitelistedTokens(chainID int64) ([]Token, error) {
	all, err := r.Tokens(chainID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if !t.IsNative {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Registry) NativeToken(chainID int64) (Token, error) {
	return r.find(chainID, func(t Token) bool { return t.IsNative }, "native")
}

func (r *Registry) WrappedToken(chainID int64) (Token, error) {
	return r.find(chainID, func(t Token) bool { return t.IsWrapped }, "wrapped")
}

func (r *Registry) find(chainID int64, match func(Token) bool, what string) (Token, error) {
	ch, err := r.Chain(chainID)
	if err != nil {
		return Token{}, err
	}
	for _, t := range ch.Tokens {
		if match(t) {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: no %s token on chain %d", ErrUnknownToken, what, chainID)
}
