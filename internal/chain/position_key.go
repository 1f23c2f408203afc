package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PositionKey matches the vault's getPositionKey:
// keccak256(abi.encodePacked(account, collateralToken, indexToken, isLong)).
func PositionKey(account, collateralToken, indexToken common.Address, isLong bool) common.Hash {
	flag := []byte{0}
	if isLong {
		flag[0] = 1
	}
	return crypto.Keccak256Hash(account.Bytes(), collateralToken.Bytes(), indexToken.Bytes(), flag)
}

// PositionQuery is the list of (collateral, index, isLong) triples to read
// for an account: longs are collateralised in the index token, shorts in
// each stable token against every shortable index.
type PositionQuery struct {
	CollateralTokens []common.Address
	IndexTokens      []common.Address
	IsLong           []bool
}

func (q *PositionQuery) Len() int { return len(q.IsLong) }

func (q *PositionQuery) add(collateral, index common.Address, isLong bool) {
	q.CollateralTokens = append(q.CollateralTokens, collateral)
	q.IndexTokens = append(q.IndexTokens, index)
	q.IsLong = append(q.IsLong, isLong)
}

// BuildPositionQuery enumerates every position slot an account may hold on
// chainID.
func (r *Registry) BuildPositionQuery(chainID int64) (*PositionQuery, error) {
	tokens, err := r.WhitelistedTokens(chainID)
	if err != nil {
		return nil, err
	}

	q := &PositionQuery{}
	for _, t := range tokens {
		if t.IsStable {
			continue
		}
		q.add(t.Address, t.Address, true)
	}
	for _, stable := range tokens {
		if !stable.IsStable {
			continue
		}
		for _, index := range tokens {
			if index.IsStable || !index.IsShortable {
				continue
			}
			q.add(stable.Address, index.Address, false)
		}
	}
	return q, nil
}
