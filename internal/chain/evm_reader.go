package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EVMReader implements ContractReader over JSON-RPC.
type EVMReader struct {
	registry *Registry
	callers  map[int64]bind.ContractCaller
	logger   zerolog.Logger

	vaultABI       abi.ABI
	readerABI      abi.ABI
	vaultReaderABI abi.ABI
	execFeeABI     abi.ABI
	erc20ABI       abi.ABI
	trackerABI     abi.ABI
}

// NewEVMReader builds a reader over already-connected callers, one per
// chain id.
func NewEVMReader(registry *Registry, callers map[int64]bind.ContractCaller, logger zerolog.Logger) (*EVMReader, error) {
	r := &EVMReader{
		registry: registry,
		callers:  callers,
		logger:   logger,
	}

	parsed := []struct {
		dst  *abi.ABI
		json string
		name string
	}{
		{&r.vaultABI, vaultABIJSON, "vault"},
		{&r.readerABI, readerABIJSON, "reader"},
		{&r.vaultReaderABI, vaultReaderABIJSON, "vault reader"},
		{&r.execFeeABI, minExecutionFeeABIJSON, "execution fee"},
		{&r.erc20ABI, erc20ABIJSON, "erc20"},
		{&r.trackerABI, trackerABIJSON, "tracker"},
	}
	for _, p := range parsed {
		a, err := abi.JSON(strings.NewReader(p.json))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s ABI", p.name)
		}
		*p.dst = a
	}
	return r, nil
}

// DialEVMReader connects to one RPC endpoint per chain.
func DialEVMReader(ctx context.Context, registry *Registry, rpcURLs map[int64]string, logger zerolog.Logger) (*EVMReader, error) {
	callers := make(map[int64]bind.ContractCaller, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, errors.Wrapf(err, "dial chain %d", chainID)
		}
		callers[chainID] = client
	}
	return NewEVMReader(registry, callers, logger)
}

func (r *EVMReader) bound(chainID int64, address common.Address, contractABI abi.ABI) (*bind.BoundContract, error) {
	caller, ok := r.callers[chainID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownChain, "no rpc for chain %d", chainID)
	}
	return bind.NewBoundContract(address, contractABI, caller, nil, nil), nil
}

func (r *EVMReader) contracts(chainID int64) (*Chain, error) {
	ch, err := r.registry.Chain(chainID)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *EVMReader) callUint(ctx context.Context, chainID int64, address common.Address, contractABI abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	c, err := r.bound(chainID, address, contractABI)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := c.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		r.logger.Debug().Err(err).Int64("chain_id", chainID).Str("method", method).Msg("contract call failed")
		return nil, errors.Wrapf(err, "%s call failed", method)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (r *EVMReader) callUints(ctx context.Context, chainID int64, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]*big.Int, error) {
	c, err := r.bound(chainID, address, contractABI)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := c.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		r.logger.Debug().Err(err).Int64("chain_id", chainID).Str("method", method).Msg("contract call failed")
		return nil, errors.Wrapf(err, "%s call failed", method)
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (r *EVMReader) MarginFeeBasisPoints(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.Vault, r.vaultABI, "marginFeeBasisPoints")
}

func (r *EVMReader) MaxLiquidationLeverage(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.Vault, r.vaultABI, "maxLeverage")
}

func (r *EVMReader) LiquidationFeeUsd(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.Vault, r.vaultABI, "liquidationFeeUsd")
}

func (r *EVMReader) TotalTokenWeights(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.Vault, r.vaultABI, "totalTokenWeights")
}

func (r *EVMReader) UsdgSupply(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.Usdg, r.erc20ABI, "totalSupply")
}

func (r *EVMReader) FundingRates(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	wrapped, err := r.registry.WrappedToken(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUints(ctx, chainID, ch.Contracts.Reader, r.readerABI, "getFundingRates",
		ch.Contracts.Vault, wrapped.Address, tokens)
}

func (r *EVMReader) Positions(ctx context.Context, chainID int64, account common.Address, q *PositionQuery) ([]*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUints(ctx, chainID, ch.Contracts.Reader, r.readerABI, "getPositions",
		ch.Contracts.Vault, account, q.CollateralTokens, q.IndexTokens, q.IsLong)
}

func (r *EVMReader) VaultTokenInfo(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	wrapped, err := r.registry.WrappedToken(chainID)
	if err != nil {
		return nil, err
	}
	// usdgAmount only feeds the reader's own fee estimate, which is unused
	return r.callUints(ctx, chainID, ch.Contracts.VaultReader, r.vaultReaderABI, "getVaultTokenInfoV4",
		ch.Contracts.Vault, ch.Contracts.PositionManager, wrapped.Address, big.NewInt(1e18), tokens)
}

func (r *EVMReader) TokenBalances(ctx context.Context, chainID int64, account common.Address, tokens []common.Address) ([]*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUints(ctx, chainID, ch.Contracts.Reader, r.readerABI, "getTokenBalances", account, tokens)
}

func (r *EVMReader) StakedBalance(ctx context.Context, chainID int64, account common.Address) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.StakedTracker, r.trackerABI, "stakedAmounts", account)
}

func (r *EVMReader) PositionMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.PositionRouter, r.execFeeABI, "minExecutionFee")
}

func (r *EVMReader) OrderMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error) {
	ch, err := r.contracts(chainID)
	if err != nil {
		return nil, err
	}
	return r.callUint(ctx, chainID, ch.Contracts.OrderBook, r.execFeeABI, "minExecutionFee")
}
