package vault

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger 宿主环境的代币转账接口（ERC20 语义）。
//
// Transfer 是宿主级转移，金库用它向用户付款以及回滚已完成的转账；
// TransferFrom 会消耗 spender 的授权额度。
// 实现需保证单次调用原子：失败时不产生任何余额或授权变化。
type TokenLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	Allowance(token, owner, spender common.Address) *big.Int
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// SwapParams 对应 exactInputSingle 的参数。Payer 为资金来源（需事先授权 Router）。
type SwapParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	Payer            common.Address
	Recipient        common.Address
	Deadline         time.Time
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// Router 外部兑换路由。返回实际成交的 amountOut；失败时不得产生任何资产移动。
type Router interface {
	Address() common.Address
	ExactInputSingle(ctx context.Context, p SwapParams) (*big.Int, error)
}

// Quote 预言机报价：1 个代币最小单位折合 Price/PriceScale 个基础资产最小单位。
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// PriceOracle 价格预言机。
type PriceOracle interface {
	Quote(ctx context.Context, token common.Address) (Quote, error)
}

// EventSink 接收已提交操作产生的事件。
type EventSink interface {
	Publish(ev Event)
}

// EventSinkFunc 函数适配器。
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Publish(ev Event) { f(ev) }
