package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ogvault/internal/metrics"
	"github.com/betbot/ogvault/internal/risk"
)

var log = logrus.WithField("component", "vault")

// Config 金库初始化参数。
type Config struct {
	// Address 金库在代币账本上的账户。
	Address   common.Address
	BaseAsset common.Address
	// Admin 部署者，初始化时持有管理员角色。
	Admin common.Address

	SignalTimeoutSeconds uint64
	TimeoutMode          TimeoutMode
	RedeemPolicy         RedeemPolicy
	// LiquidationSlippageBps liquidate 赎回时相对预言机估值允许的最大滑点。
	LiquidationSlippageBps uint32

	// SwapFee 传给 Router 的费率档（例如 3000 = 0.3%）。
	SwapFee      uint32
	SwapDeadline time.Duration

	// MaxConsecutiveSwapFailures 连续 swap 失败多少次后熔断信号，<=0 表示关闭。
	MaxConsecutiveSwapFailures int64

	Clock func() time.Time
}

func (c *Config) normalize() error {
	if c.Address == (common.Address{}) || c.BaseAsset == (common.Address{}) || c.Admin == (common.Address{}) {
		return fmt.Errorf("vault address, base asset and admin are required: %w", ErrInvalidAddress)
	}
	if c.TimeoutMode == "" {
		c.TimeoutMode = TimeoutFreshness
	}
	if c.RedeemPolicy == "" {
		c.RedeemPolicy = RedeemInKind
	}
	if _, err := ParseTimeoutMode(string(c.TimeoutMode)); err != nil {
		return err
	}
	if _, err := ParseRedeemPolicy(string(c.RedeemPolicy)); err != nil {
		return err
	}
	if c.LiquidationSlippageBps > BpsDenominator {
		return fmt.Errorf("liquidation slippage %d: %w", c.LiquidationSlippageBps, ErrInvalidPercentage)
	}
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// Deps 外部协作方。
type Deps struct {
	Tokens TokenLedger
	Router Router
	Oracle PriceOracle
	Events EventSink
}

// Vault 预言机驱动、仓位受限的组合金库。
//
// 所有操作串行执行（单写锁），每个操作要么完整生效，要么不产生任何变化。
type Vault struct {
	mu sync.Mutex

	cfg     Config
	st      *state
	tokens  TokenLedger
	router  Router
	oracle  PriceOracle
	sink    EventSink
	engine  *StrategyEngine
	breaker *risk.CircuitBreaker
	clock   func() time.Time
	log     *logrus.Entry
}

// New 创建金库。部署者获得管理员角色，策略默认关闭，信号超时默认 900 秒。
func New(cfg Config, deps Deps) (*Vault, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if deps.Tokens == nil || deps.Router == nil || deps.Oracle == nil {
		return nil, errors.New("vault: token ledger, router and oracle are required")
	}
	if cfg.SignalTimeoutSeconds == 0 {
		cfg.SignalTimeoutSeconds = DefaultSignalTimeoutSeconds
	}

	st := newState()
	st.roles.members[RoleAdmin][cfg.Admin] = struct{}{}
	st.settings = StrategySettings{SignalTimeoutSeconds: cfg.SignalTimeoutSeconds}

	v := &Vault{
		cfg:    cfg,
		st:     st,
		tokens: deps.Tokens,
		router: deps.Router,
		oracle: deps.Oracle,
		sink:   deps.Events,
		breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: cfg.MaxConsecutiveSwapFailures,
		}),
		clock: cfg.Clock,
		log:   log.WithField("vault", cfg.Address.Hex()),
	}
	v.engine = &StrategyEngine{v: v}
	return v, nil
}

// run 在写锁内执行一次事务性操作。
func (v *Vault) run(ctx context.Context, op string, fn func(tx *opTx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := v.begin(ctx, op)
	err := fn(tx)
	if err != nil {
		tx.rollback()
		v.log.WithError(err).Warnf("⚠️ [%s] 操作被拒绝: code=%s", op, Code(err))
	} else {
		tx.commit()
	}
	metrics.ObserveOperation(op, Code(err), time.Since(start))
	return err
}

// view 在锁内做只读计算（可能查询预言机），从不提交。
func (v *Vault) view(ctx context.Context, fn func(tx *opTx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	tx := v.begin(ctx, "view")
	defer tx.rollback()
	return fn(tx)
}

// Deposit 存入基础资产并向 receiver 铸造份额，返回铸造数量。
// 调用方需事先授权金库地址拉取 amount。
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount *big.Int, receiver common.Address) (*big.Int, error) {
	var minted *big.Int
	err := v.run(ctx, "deposit", func(tx *opTx) error {
		amount, err := checkAmount("amount", amount)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return ErrInvalidAddress
		}
		total, err := tx.totalAssetsValue()
		if err != nil {
			return err
		}
		shares, err := previewDeposit(amount, tx.st.ledger.totalShares, total)
		if err != nil {
			return err
		}
		if shares.Sign() == 0 {
			return ErrZeroShares
		}
		if err := tx.pull(v.cfg.BaseAsset, caller, amount); err != nil {
			return err
		}
		tx.st.ledger.credit(v.cfg.BaseAsset, amount)
		tx.st.ledger.mint(receiver, shares)
		tx.emit(newEvent(EventDeposited, tx.now,
			"caller", addr(caller), "receiver", addr(receiver),
			"amount", amt(amount), "shares", amt(shares)))
		v.log.Infof("✅ 存入: caller=%s receiver=%s amount=%s shares=%s", caller.Hex(), receiver.Hex(), amount, shares)
		minted = shares
		return nil
	})
	return minted, err
}

// AssetAmount 代币与数量。
type AssetAmount struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Redeem 销毁 owner 的 shares 份额，按赎回策略把资产转给 receiver。
func (v *Vault) Redeem(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address) ([]AssetAmount, error) {
	var out []AssetAmount
	err := v.run(ctx, "redeem", func(tx *opTx) error {
		var err error
		out, err = tx.redeem(caller, shares, receiver, owner)
		return err
	})
	return out, err
}

// Withdraw 按当前汇率把基础资产金额换算为份额（向上取整）后赎回。
// 返回实际销毁的份额与赎回的资产。
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, assets *big.Int, receiver, owner common.Address) (*big.Int, []AssetAmount, error) {
	var (
		burned *big.Int
		out    []AssetAmount
	)
	err := v.run(ctx, "withdraw", func(tx *opTx) error {
		assets, err := checkAmount("assets", assets)
		if err != nil {
			return err
		}
		if assets.Sign() == 0 {
			return ErrZeroAmount
		}
		if caller != owner {
			return ErrUnauthorized
		}
		total, err := tx.totalAssetsValue()
		if err != nil {
			return err
		}
		shares, err := previewWithdraw(assets, tx.st.ledger.totalShares, total)
		if err != nil {
			return err
		}
		out, err = tx.redeem(caller, shares, receiver, owner)
		burned = shares
		return err
	})
	return burned, out, err
}

// PercentageWithdraw 赎回调用方 bps/10000 比例的份额。
func (v *Vault) PercentageWithdraw(ctx context.Context, caller common.Address, bps uint32, receiver common.Address) (*big.Int, []AssetAmount, error) {
	var (
		burned *big.Int
		out    []AssetAmount
	)
	err := v.run(ctx, "percentage_withdraw", func(tx *opTx) error {
		if bps == 0 || bps > BpsDenominator {
			return ErrInvalidPercentage
		}
		shares := mulDiv(tx.st.ledger.SharesOf(caller), big.NewInt(int64(bps)), bpsDenominator)
		var err error
		out, err = tx.redeem(caller, shares, receiver, caller)
		burned = shares
		return err
	})
	return burned, out, err
}

func (tx *opTx) redeem(caller common.Address, shares *big.Int, receiver, owner common.Address) ([]AssetAmount, error) {
	v := tx.v
	shares, err := checkAmount("shares", shares)
	if err != nil {
		return nil, err
	}
	if caller != owner {
		return nil, ErrUnauthorized
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	led := tx.st.ledger
	if led.SharesOf(owner).Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}

	totalShares := led.TotalShares()
	type slice struct {
		token  common.Address
		amount *big.Int
	}
	var slices []slice
	for _, t := range tx.st.heldTokens(v.cfg.BaseAsset) {
		s := redeemSlice(shares, led.holdings[t], totalShares)
		if s.Sign() > 0 {
			slices = append(slices, slice{t, s})
		}
	}

	var paid []AssetAmount
	switch v.cfg.RedeemPolicy {
	case RedeemLiquidate:
		baseOut := new(big.Int)
		for _, s := range slices {
			if s.token == v.cfg.BaseAsset {
				baseOut.Add(baseOut, s.amount)
				continue
			}
			expected, err := tx.valueOf(s.token, s.amount)
			if err != nil {
				return nil, err
			}
			// 滑点下限来自报价，过期报价不能作为下限
			if err := tx.checkFreshness(); err != nil {
				return nil, err
			}
			minOut := mulDiv(expected, big.NewInt(int64(BpsDenominator-v.cfg.LiquidationSlippageBps)), bpsDenominator)
			got, err := tx.swap(s.token, v.cfg.BaseAsset, s.amount, minOut)
			if err != nil {
				return nil, err
			}
			if err := led.debit(s.token, s.amount, ErrInsufficientTokenBalance); err != nil {
				return nil, err
			}
			led.credit(v.cfg.BaseAsset, got)
			baseOut.Add(baseOut, got)
			tx.emit(newEvent(EventTradeExecuted, tx.now,
				"type", "liquidate", "token", addr(s.token),
				"amount_in", amt(s.amount), "amount_out", amt(got)))
		}
		if baseOut.Sign() > 0 {
			paid = append(paid, AssetAmount{Token: v.cfg.BaseAsset, Amount: baseOut})
		}
	default:
		for _, s := range slices {
			paid = append(paid, AssetAmount{Token: s.token, Amount: s.amount})
		}
	}

	for _, p := range paid {
		if err := led.debit(p.Token, p.Amount, ErrInsufficientBaseBalance); err != nil {
			return nil, err
		}
		if err := tx.push(p.Token, receiver, p.Amount); err != nil {
			return nil, err
		}
	}
	if err := led.burn(owner, shares); err != nil {
		return nil, err
	}

	kv := []string{"caller", addr(caller), "receiver", addr(receiver), "owner", addr(owner), "shares", amt(shares)}
	for _, p := range paid {
		kv = append(kv, "asset:"+p.Token.Hex(), amt(p.Amount))
	}
	tx.emit(newEvent(EventWithdrawn, tx.now, kv...))
	v.log.Infof("✅ 赎回: owner=%s receiver=%s shares=%s assets=%d 种 policy=%s", owner.Hex(), receiver.Hex(), shares, len(paid), v.cfg.RedeemPolicy)
	return paid, nil
}

// SetTradingPair 登记或覆盖交易对（需要策略管理员角色）。
func (v *Vault) SetTradingPair(ctx context.Context, caller, token common.Address, maxAllocationBps uint32, minExitAmount *big.Int) (TradingPair, error) {
	var pair TradingPair
	err := v.run(ctx, "set_trading_pair", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleStrategyManager, caller); err != nil {
			return err
		}
		if token == (common.Address{}) || token == v.cfg.BaseAsset {
			return ErrInvalidAddress
		}
		minExit, err := checkAmount("minExitAmount", minExitAmount)
		if err != nil {
			return err
		}
		pair, err = tx.st.pairs.set(token, maxAllocationBps, minExit)
		if err != nil {
			return err
		}
		tx.emit(newEvent(EventTradingPairSet, tx.now,
			"token", addr(token), "max_allocation_bps", fmt.Sprint(maxAllocationBps),
			"min_exit_amount", amt(minExit), "is_active", fmt.Sprint(pair.IsActive)))
		v.log.Infof("交易对已设置: token=%s maxBps=%d minExit=%s active=%v", token.Hex(), maxAllocationBps, minExit, pair.IsActive)
		return nil
	})
	return pair, err
}

// DisableTradingPair 停用交易对；未登记时返回 ErrPairNotFound。
func (v *Vault) DisableTradingPair(ctx context.Context, caller, token common.Address) error {
	return v.run(ctx, "disable_trading_pair", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleStrategyManager, caller); err != nil {
			return err
		}
		if _, err := tx.st.pairs.disable(token); err != nil {
			return err
		}
		tx.emit(newEvent(EventTradingPairDisabled, tx.now, "token", addr(token)))
		v.log.Infof("交易对已停用: token=%s", token.Hex())
		return nil
	})
}

// UpdateStrategySettings 更新策略开关与信号超时（需要策略管理员角色）。
func (v *Vault) UpdateStrategySettings(ctx context.Context, caller common.Address, enabled bool, signalTimeoutSeconds uint64) (StrategySettings, error) {
	var out StrategySettings
	err := v.run(ctx, "update_strategy_settings", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleStrategyManager, caller); err != nil {
			return err
		}
		tx.st.settings.Enabled = enabled
		tx.st.settings.SignalTimeoutSeconds = signalTimeoutSeconds
		out = tx.st.settings
		tx.emit(newEvent(EventStrategySettingsUpdated, tx.now,
			"enabled", fmt.Sprint(enabled), "signal_timeout_seconds", fmt.Sprint(signalTimeoutSeconds)))
		v.log.Infof("策略设置已更新: enabled=%v timeout=%ds", enabled, signalTimeoutSeconds)
		return nil
	})
	return out, err
}

// GrantRole 授予角色（需要管理员角色）。
func (v *Vault) GrantRole(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	return v.run(ctx, "grant_role", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleAdmin, caller); err != nil {
			return err
		}
		changed, err := tx.st.roles.grant(role, account)
		if err != nil {
			return err
		}
		if changed {
			tx.emit(newEvent(EventRoleGranted, tx.now, "role", string(role), "account", addr(account), "sender", addr(caller)))
		}
		return nil
	})
}

// RevokeRole 撤销角色（需要管理员角色）。不能移除最后一个管理员。
func (v *Vault) RevokeRole(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	return v.run(ctx, "revoke_role", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleAdmin, caller); err != nil {
			return err
		}
		return tx.revokeRole(caller, role, account)
	})
}

// RenounceRole 调用方放弃自己的角色。
func (v *Vault) RenounceRole(ctx context.Context, caller common.Address, role Role) error {
	return v.run(ctx, "renounce_role", func(tx *opTx) error {
		return tx.revokeRole(caller, role, caller)
	})
}

func (tx *opTx) revokeRole(caller common.Address, role Role, account common.Address) error {
	changed, err := tx.st.roles.revoke(role, account)
	if err != nil {
		return err
	}
	if changed {
		tx.emit(newEvent(EventRoleRevoked, tx.now, "role", string(role), "account", addr(account), "sender", addr(caller)))
	}
	return nil
}

// ResumeSignals 熔断后由管理员恢复信号执行。
func (v *Vault) ResumeSignals(ctx context.Context, caller common.Address) error {
	return v.run(ctx, "resume_signals", func(tx *opTx) error {
		if err := tx.st.roles.require(RoleAdmin, caller); err != nil {
			return err
		}
		v.breaker.Resume()
		tx.emit(newEvent(EventSignalsResumed, tx.now, "sender", addr(caller)))
		v.log.Info("信号熔断已恢复")
		return nil
	})
}

// ExecuteBuySignal 用基础资产买入 token（需要预言机角色）。
func (v *Vault) ExecuteBuySignal(ctx context.Context, caller common.Address, sig BuySignal) (*SignalReceipt, error) {
	r := newReceipt(SignalBuy, sig.Token)
	err := v.run(ctx, "buy_signal", func(tx *opTx) error {
		return v.engine.execute(tx, r, func() error { return v.engine.buy(tx, caller, sig, r) })
	})
	v.engine.finish(r, err)
	return r, err
}

// ExecuteSellSignal 卖出 token 换回基础资产（需要预言机角色）。Amount 为 0 表示全部卖出。
func (v *Vault) ExecuteSellSignal(ctx context.Context, caller common.Address, sig SellSignal) (*SignalReceipt, error) {
	r := newReceipt(SignalSell, sig.Token)
	err := v.run(ctx, "sell_signal", func(tx *opTx) error {
		return v.engine.execute(tx, r, func() error { return v.engine.sell(tx, caller, sig, r) })
	})
	v.engine.finish(r, err)
	return r, err
}
