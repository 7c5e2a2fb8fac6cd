package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TradingPair 允许策略交易的代币及其仓位上限。
type TradingPair struct {
	Token            common.Address `json:"token"`
	MaxAllocationBps uint32         `json:"max_allocation_bps"`
	MinExitAmount    *big.Int       `json:"min_exit_amount"`
	IsActive         bool           `json:"is_active"`
}

func (p TradingPair) clone() TradingPair {
	p.MinExitAmount = cloneBig(p.MinExitAmount)
	return p
}

// PairRegistry 交易对白名单，按首次登记顺序保存。
type PairRegistry struct {
	pairs map[common.Address]TradingPair
	order []common.Address
}

func newPairRegistry() *PairRegistry {
	return &PairRegistry{pairs: make(map[common.Address]TradingPair)}
}

// set 覆盖式写入（upsert）。bps 为 0 表示停用。
func (r *PairRegistry) set(token common.Address, bps uint32, minExit *big.Int) (TradingPair, error) {
	if bps > BpsDenominator {
		return TradingPair{}, ErrInvalidAllocation
	}
	if _, ok := r.pairs[token]; !ok {
		r.order = append(r.order, token)
	}
	p := TradingPair{
		Token:            token,
		MaxAllocationBps: bps,
		MinExitAmount:    cloneBig(minExit),
		IsActive:         bps > 0,
	}
	r.pairs[token] = p
	return p.clone(), nil
}

func (r *PairRegistry) disable(token common.Address) (TradingPair, error) {
	p, ok := r.pairs[token]
	if !ok {
		return TradingPair{}, ErrPairNotFound
	}
	p.IsActive = false
	r.pairs[token] = p
	return p.clone(), nil
}

// Get 查询交易对。
func (r *PairRegistry) Get(token common.Address) (TradingPair, bool) {
	p, ok := r.pairs[token]
	if !ok {
		return TradingPair{}, false
	}
	return p.clone(), true
}

// active 返回处于激活状态的交易对；缺失或停用都视为不可交易。
func (r *PairRegistry) active(token common.Address) (TradingPair, error) {
	p, ok := r.pairs[token]
	if !ok || !p.IsActive {
		return TradingPair{}, ErrPairInactive
	}
	return p.clone(), nil
}

func (r *PairRegistry) List() []TradingPair {
	out := make([]TradingPair, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.pairs[t].clone())
	}
	return out
}

func (r *PairRegistry) tokens() []common.Address {
	return append([]common.Address(nil), r.order...)
}

func (r *PairRegistry) clone() *PairRegistry {
	c := newPairRegistry()
	c.order = r.tokens()
	for k, v := range r.pairs {
		c.pairs[k] = v.clone()
	}
	return c
}

// headroom 计算可继续配置到某代币的基础资产额度：
// cap * totalValue / 10000 - currentValue，下限为 0。
func headroom(capBps uint32, totalValue, currentValue *big.Int) *big.Int {
	limit := mulDiv(totalValue, big.NewInt(int64(capBps)), bpsDenominator)
	if limit.Cmp(currentValue) <= 0 {
		return new(big.Int)
	}
	return limit.Sub(limit, currentValue)
}
