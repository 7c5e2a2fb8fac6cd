package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger 份额与持仓账本。
//
// 不变量：所有 ShareBalance 之和恒等于 TotalShares。
// 账本本身不做权限或估值，只负责整数记账；估值由 opTx 在操作内完成。
type AssetLedger struct {
	totalShares *big.Int
	shares      map[common.Address]*big.Int
	holdings    map[common.Address]*big.Int
}

func newAssetLedger() *AssetLedger {
	return &AssetLedger{
		totalShares: new(big.Int),
		shares:      make(map[common.Address]*big.Int),
		holdings:    make(map[common.Address]*big.Int),
	}
}

func (l *AssetLedger) TotalShares() *big.Int {
	return cloneBig(l.totalShares)
}

func (l *AssetLedger) SharesOf(holder common.Address) *big.Int {
	return cloneBig(l.shares[holder])
}

// Holding 返回金库对 token 的持仓（未持有返回 0）。
func (l *AssetLedger) Holding(token common.Address) *big.Int {
	return cloneBig(l.holdings[token])
}

func (l *AssetLedger) mint(to common.Address, shares *big.Int) {
	if shares.Sign() == 0 {
		return
	}
	bal := cloneBig(l.shares[to])
	l.shares[to] = bal.Add(bal, shares)
	l.totalShares = new(big.Int).Add(l.totalShares, shares)
}

func (l *AssetLedger) burn(from common.Address, shares *big.Int) error {
	bal := cloneBig(l.shares[from])
	if bal.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		delete(l.shares, from)
	} else {
		l.shares[from] = bal
	}
	l.totalShares = new(big.Int).Sub(l.totalShares, shares)
	return nil
}

func (l *AssetLedger) credit(token common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	h := cloneBig(l.holdings[token])
	l.holdings[token] = h.Add(h, amount)
}

// debit 扣减持仓；余额不足时返回 insufficient 指定的错误。
func (l *AssetLedger) debit(token common.Address, amount *big.Int, insufficient error) error {
	h := cloneBig(l.holdings[token])
	if h.Cmp(amount) < 0 {
		return insufficient
	}
	h.Sub(h, amount)
	if h.Sign() == 0 {
		delete(l.holdings, token)
	} else {
		l.holdings[token] = h
	}
	return nil
}

func (l *AssetLedger) clone() *AssetLedger {
	c := newAssetLedger()
	c.totalShares = cloneBig(l.totalShares)
	for k, v := range l.shares {
		c.shares[k] = cloneBig(v)
	}
	for k, v := range l.holdings {
		c.holdings[k] = cloneBig(v)
	}
	return c
}

// previewDeposit 计算存入 amount 可铸造的份额：
// 首次存入 1:1，其后 floor(amount * totalShares / totalAssetsValue)。
func previewDeposit(amount, totalShares, totalValue *big.Int) (*big.Int, error) {
	if totalShares.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	if totalValue.Sign() == 0 {
		return nil, ErrZeroAssetsValue
	}
	return mulDiv(amount, totalShares, totalValue), nil
}

// previewWithdraw 计算提取 assets 基础资产需要销毁的份额，向上取整（对金库有利）。
func previewWithdraw(assets, totalShares, totalValue *big.Int) (*big.Int, error) {
	if totalShares.Sign() == 0 || totalValue.Sign() == 0 {
		return nil, ErrInsufficientShares
	}
	return mulDivUp(assets, totalShares, totalValue), nil
}

// redeemSlice 计算 shares 对应的某一持仓份额：floor(shares * holding / totalShares)。
func redeemSlice(shares, holding, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 {
		return new(big.Int)
	}
	return mulDiv(shares, holding, totalShares)
}
