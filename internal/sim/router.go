package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/ogvault/internal/vault"
)

var (
	ErrDeadlineExpired   = errors.New("transaction too old")
	ErrTooLittleReceived = errors.New("too little received")
	ErrNoLiquidity       = errors.New("insufficient liquidity")
)

// RouterConfig 恒定价格路由配置。
type RouterConfig struct {
	Address   common.Address
	BaseAsset common.Address
	// FeeBps 从输出中扣除的手续费（万分比）。
	FeeBps uint32
	Clock  func() time.Time
}

// Router 按预言机价格成交的兑换路由，流动性来自其在 Ledger 上的余额。
type Router struct {
	cfg    RouterConfig
	ledger *Ledger
	oracle vault.PriceOracle

	mu       sync.Mutex
	skewBps  int64
	failNext error
	swaps    int
}

func NewRouter(cfg RouterConfig, ledger *Ledger, oracle vault.PriceOracle) *Router {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Router{cfg: cfg, ledger: ledger, oracle: oracle}
}

func (r *Router) Address() common.Address { return r.cfg.Address }

// SetSkewBps 让成交结果相对预言机价格偏移（正数为更有利的成交）。
func (r *Router) SetSkewBps(bps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skewBps = bps
}

// FailNext 让下一次 swap 以 err 失败。
func (r *Router) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// Swaps 已成交的 swap 次数。
func (r *Router) Swaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swaps
}

// Quote 按当前价格估算 amountIn 可换得的数量（已扣手续费与偏移）。
func (r *Router) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	r.mu.Lock()
	skew := r.skewBps
	r.mu.Unlock()
	return r.quote(ctx, tokenIn, tokenOut, amountIn, skew)
}

func (r *Router) ExactInputSingle(ctx context.Context, p vault.SwapParams) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failNext; err != nil {
		r.failNext = nil
		return nil, err
	}
	if !p.Deadline.IsZero() && r.cfg.Clock().After(p.Deadline) {
		return nil, ErrDeadlineExpired
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("swap: invalid amountIn")
	}
	out, err := r.quote(ctx, p.TokenIn, p.TokenOut, p.AmountIn, r.skewBps)
	if err != nil {
		return nil, err
	}
	if p.AmountOutMinimum != nil && out.Cmp(p.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrTooLittleReceived, out, p.AmountOutMinimum)
	}
	if r.ledger.BalanceOf(p.TokenOut, r.cfg.Address).Cmp(out) < 0 {
		return nil, ErrNoLiquidity
	}
	if err := r.ledger.TransferFrom(p.TokenIn, r.cfg.Address, p.Payer, r.cfg.Address, p.AmountIn); err != nil {
		return nil, err
	}
	if err := r.ledger.Transfer(p.TokenOut, r.cfg.Address, p.Recipient, out); err != nil {
		// 退回输入，保持单次调用原子
		_ = r.ledger.Transfer(p.TokenIn, r.cfg.Address, p.Payer, p.AmountIn)
		return nil, err
	}
	r.swaps++
	return out, nil
}

func (r *Router) quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, skew int64) (*big.Int, error) {
	base := r.cfg.BaseAsset
	value := new(big.Int).Set(amountIn)
	if tokenIn != base {
		q, err := r.oracle.Quote(ctx, tokenIn)
		if err != nil {
			return nil, err
		}
		value.Mul(value, q.Price).Quo(value, vault.PriceScale)
	}
	out := value
	if tokenOut != base {
		q, err := r.oracle.Quote(ctx, tokenOut)
		if err != nil {
			return nil, err
		}
		if q.Price.Sign() == 0 {
			return nil, fmt.Errorf("zero price for %s", tokenOut.Hex())
		}
		out = new(big.Int).Mul(value, vault.PriceScale)
		out.Quo(out, q.Price)
	}
	mult := int64(vault.BpsDenominator) - int64(r.cfg.FeeBps) + skew
	if mult < 0 {
		mult = 0
	}
	out.Mul(out, big.NewInt(mult)).Quo(out, big.NewInt(vault.BpsDenominator))
	return out, nil
}
