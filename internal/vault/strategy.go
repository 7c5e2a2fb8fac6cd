package vault

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/betbot/ogvault/internal/metrics"
)

// SignalType 信号方向。
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
)

// SignalPhase 信号状态机：Idle → Validating → Executing → Settled，
// 任一校验或执行失败进入 Rejected。
type SignalPhase string

const (
	PhaseIdle       SignalPhase = "Idle"
	PhaseValidating SignalPhase = "Validating"
	PhaseExecuting  SignalPhase = "Executing"
	PhaseSettled    SignalPhase = "Settled"
	PhaseRejected   SignalPhase = "Rejected"
)

// BuySignal 买入信号。MaxAllocationBpsOverride 为 0 表示不覆盖交易对上限。
type BuySignal struct {
	Token                    common.Address
	AmountIn                 *big.Int
	MinAmountOut             *big.Int
	MaxAllocationBpsOverride uint32
}

// SellSignal 卖出信号。Amount 为 0 表示卖出全部持仓。
type SellSignal struct {
	Token        common.Address
	Amount       *big.Int
	MinAmountOut *big.Int
}

// SignalReceipt 信号处理结果。
type SignalReceipt struct {
	ID        string         `json:"id"`
	Type      SignalType     `json:"type"`
	Token     common.Address `json:"token"`
	Phase     SignalPhase    `json:"phase"`
	AmountIn  *big.Int       `json:"amount_in,omitempty"`
	AmountOut *big.Int       `json:"amount_out,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func newReceipt(typ SignalType, token common.Address) *SignalReceipt {
	return &SignalReceipt{ID: uuid.NewString(), Type: typ, Token: token, Phase: PhaseIdle}
}

// StrategyEngine 校验并执行预言机信号。
// 它只在 Vault 的事务内被调用，所有状态修改都落在 opTx 的副本上。
type StrategyEngine struct {
	v *Vault
}

// admit 信号通用准入：角色、熔断、策略开关、交易对、冷却。
func (e *StrategyEngine) admit(tx *opTx, caller, token common.Address, r *SignalReceipt) (TradingPair, error) {
	r.Phase = PhaseValidating
	r.Timestamp = tx.now
	if err := tx.st.roles.require(RoleOracle, caller); err != nil {
		return TradingPair{}, err
	}
	if err := e.v.breaker.AllowSignals(); err != nil {
		return TradingPair{}, err
	}
	s := tx.st.settings
	if !s.Enabled {
		return TradingPair{}, ErrStrategyDisabled
	}
	pair, err := tx.st.pairs.active(token)
	if err != nil {
		return TradingPair{}, err
	}
	if e.v.cfg.TimeoutMode == TimeoutCooldown && s.SignalTimeoutSeconds > 0 && s.LastSignalTimestamp != 0 {
		if elapsed := tx.now.Unix() - s.LastSignalTimestamp; elapsed < 0 || uint64(elapsed) < s.SignalTimeoutSeconds {
			return TradingPair{}, fmt.Errorf("%w: last signal at %d, timeout %ds", ErrSignalCooldown, s.LastSignalTimestamp, s.SignalTimeoutSeconds)
		}
	}
	return pair, nil
}

func (e *StrategyEngine) buy(tx *opTx, caller common.Address, sig BuySignal, r *SignalReceipt) error {
	v := e.v
	base := v.cfg.BaseAsset
	pair, err := e.admit(tx, caller, sig.Token, r)
	if err != nil {
		return err
	}
	amountIn, err := checkAmount("amountIn", sig.AmountIn)
	if err != nil {
		return err
	}
	minOut, err := checkAmount("minAmountOut", sig.MinAmountOut)
	if err != nil {
		return err
	}
	if sig.MaxAllocationBpsOverride > BpsDenominator {
		return ErrInvalidAllocation
	}
	if amountIn.Sign() == 0 {
		return ErrZeroAmount
	}
	r.AmountIn = amountIn

	led := tx.st.ledger
	if led.Holding(base).Cmp(amountIn) < 0 {
		return ErrInsufficientBaseBalance
	}

	capBps := pair.MaxAllocationBps
	if o := sig.MaxAllocationBpsOverride; o > 0 && o < capBps {
		capBps = o
	}
	total, err := tx.totalAssetsValue()
	if err != nil {
		return err
	}
	current, err := tx.valueOf(sig.Token, led.Holding(sig.Token))
	if err != nil {
		return err
	}
	// 目标代币即使当前无持仓也要有报价，事后复核需要它。
	if _, err := tx.quote(sig.Token); err != nil {
		return err
	}
	room := headroom(capBps, total, current)
	if amountIn.Cmp(room) > 0 {
		return fmt.Errorf("%w: amountIn %s > headroom %s (cap %d bps)", ErrAllocationExceeded, amountIn, room, capBps)
	}
	if err := tx.checkFreshness(); err != nil {
		return err
	}

	r.Phase = PhaseExecuting
	out, err := tx.swap(base, sig.Token, amountIn, minOut)
	if err != nil {
		return err
	}
	r.AmountOut = out
	if err := led.debit(base, amountIn, ErrInsufficientBaseBalance); err != nil {
		return err
	}
	led.credit(sig.Token, out)

	// 以同一组报价复核成交后的仓位。
	totalAfter, err := tx.totalAssetsValue()
	if err != nil {
		return err
	}
	after, err := tx.valueOf(sig.Token, led.Holding(sig.Token))
	if err != nil {
		return err
	}
	if limit := mulDiv(totalAfter, big.NewInt(int64(capBps)), bpsDenominator); after.Cmp(limit) > 0 {
		return fmt.Errorf("%w: post-trade value %s > limit %s", ErrAllocationExceeded, after, limit)
	}

	e.settle(tx, SignalBuy, sig.Token, amountIn, out)
	return nil
}

func (e *StrategyEngine) sell(tx *opTx, caller common.Address, sig SellSignal, r *SignalReceipt) error {
	v := e.v
	base := v.cfg.BaseAsset
	pair, err := e.admit(tx, caller, sig.Token, r)
	if err != nil {
		return err
	}
	amount, err := checkAmount("amount", sig.Amount)
	if err != nil {
		return err
	}
	minOut, err := checkAmount("minAmountOut", sig.MinAmountOut)
	if err != nil {
		return err
	}

	led := tx.st.ledger
	held := led.Holding(sig.Token)
	if amount.Sign() == 0 {
		amount = held
	}
	if amount.Sign() == 0 || held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: holding %s, requested %s", ErrInsufficientTokenBalance, held, amount)
	}
	if amount.Cmp(held) < 0 && amount.Cmp(pair.MinExitAmount) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinExit, amount, pair.MinExitAmount)
	}
	r.AmountIn = amount
	if err := tx.checkFreshness(); err != nil {
		return err
	}

	r.Phase = PhaseExecuting
	out, err := tx.swap(sig.Token, base, amount, minOut)
	if err != nil {
		return err
	}
	r.AmountOut = out
	if err := led.debit(sig.Token, amount, ErrInsufficientTokenBalance); err != nil {
		return err
	}
	led.credit(base, out)

	e.settle(tx, SignalSell, sig.Token, amount, out)
	return nil
}

func (e *StrategyEngine) settle(tx *opTx, typ SignalType, token common.Address, in, out *big.Int) {
	tx.st.settings.LastSignalTimestamp = tx.now.Unix()
	tx.emit(newEvent(EventSignalReceived, tx.now,
		"type", string(typ), "token", addr(token), "timestamp", fmt.Sprint(tx.now.Unix())))
	tx.emit(newEvent(EventTradeExecuted, tx.now,
		"type", string(typ), "token", addr(token), "amount_in", amt(in), "amount_out", amt(out)))
	e.v.log.Infof("✅ %s 信号成交: token=%s in=%s out=%s", typ, token.Hex(), in, out)
}

// execute 在写锁内运行一次信号并更新熔断器。
// 只有信号自身的 SwapFailed 计入连续失败；本次信号导致熔断时发布 SignalsHalted，
// 该事件在回滚时同样发布。
func (e *StrategyEngine) execute(tx *opTx, r *SignalReceipt, fn func() error) error {
	b := e.v.breaker
	wasHalted := b.Halted()
	err := fn()
	switch {
	case err == nil:
		b.OnSuccess()
	case errors.Is(err, ErrSwapFailed):
		b.OnError()
	}
	if !wasHalted && b.AllowSignals() != nil {
		tx.notify(newEvent(EventSignalsHalted, tx.now,
			"signal_id", r.ID, "type", string(r.Type), "token", addr(r.Token),
			"consecutive_failures", fmt.Sprint(b.ConsecutiveErrors())))
		e.v.log.Warnf("🛑 连续 swap 失败 %d 次，信号已熔断，等待管理员恢复", b.ConsecutiveErrors())
	}
	return err
}

// finish 根据事务结果写入终态。在写锁之外调用，只触碰 receipt。
func (e *StrategyEngine) finish(r *SignalReceipt, err error) {
	if err != nil {
		r.Phase = PhaseRejected
		r.Code = Code(err)
		r.Error = err.Error()
		r.AmountOut = nil
	} else {
		r.Phase = PhaseSettled
	}
	metrics.ObserveSignal(string(r.Type), string(r.Phase), r.Code)
}
