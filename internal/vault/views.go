package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Portfolio 金库持仓快照。
type Portfolio struct {
	BaseAsset  common.Address `json:"base_asset"`
	BaseAmount *big.Int       `json:"base_amount"`
	Tokens     []AssetAmount  `json:"tokens"`
}

// GetPortfolioComposition 返回基础资产余额以及所有已登记交易对代币的持仓（按登记顺序，可能为 0）。
func (v *Vault) GetPortfolioComposition() Portfolio {
	v.mu.Lock()
	defer v.mu.Unlock()
	led := v.st.ledger
	p := Portfolio{
		BaseAsset:  v.cfg.BaseAsset,
		BaseAmount: led.Holding(v.cfg.BaseAsset),
	}
	for _, t := range v.st.pairs.tokens() {
		p.Tokens = append(p.Tokens, AssetAmount{Token: t, Amount: led.Holding(t)})
	}
	return p
}

// TotalAssets 以基础资产计价的总资产（查询预言机）。
func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	var total *big.Int
	err := v.view(ctx, func(tx *opTx) error {
		var err error
		total, err = tx.totalAssetsValue()
		return err
	})
	return total, err
}

// AllocationHeadroom 返回 token 还可追加的基础资产额度；交易对缺失或停用时为 0。
func (v *Vault) AllocationHeadroom(ctx context.Context, token common.Address) (*big.Int, error) {
	room := new(big.Int)
	err := v.view(ctx, func(tx *opTx) error {
		pair, err := tx.st.pairs.active(token)
		if err != nil {
			return nil
		}
		total, err := tx.totalAssetsValue()
		if err != nil {
			return err
		}
		current, err := tx.valueOf(token, tx.st.ledger.Holding(token))
		if err != nil {
			return err
		}
		room = headroom(pair.MaxAllocationBps, total, current)
		return nil
	})
	return room, err
}

func (v *Vault) TotalSupply() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.ledger.TotalShares()
}

func (v *Vault) BalanceOf(holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.ledger.SharesOf(holder)
}

// Holding 金库对 token 的记账持仓。
func (v *Vault) Holding(token common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.ledger.Holding(token)
}

func (v *Vault) HasRole(role Role, account common.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.roles.Has(role, account)
}

func (v *Vault) RoleMembers(role Role) []common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.roles.Members(role)
}

func (v *Vault) StrategySettings() StrategySettings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.settings
}

func (v *Vault) TradingPair(token common.Address) (TradingPair, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.pairs.Get(token)
}

func (v *Vault) TradingPairs() []TradingPair {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.pairs.List()
}

// SignalsHalted 熔断器是否处于打开状态。
func (v *Vault) SignalsHalted() bool {
	return v.breaker.AllowSignals() != nil
}

func (v *Vault) Address() common.Address   { return v.cfg.Address }
func (v *Vault) BaseAsset() common.Address { return v.cfg.BaseAsset }
func (v *Vault) Config() Config            { return v.cfg }
