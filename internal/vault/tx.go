package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// state 金库的全部可变状态。每个操作在副本上修改，成功后整体替换。
type state struct {
	ledger   *AssetLedger
	pairs    *PairRegistry
	roles    *AccessControl
	settings StrategySettings
}

func newState() *state {
	return &state{
		ledger: newAssetLedger(),
		pairs:  newPairRegistry(),
		roles:  newAccessControl(),
	}
}

func (s *state) clone() *state {
	return &state{
		ledger:   s.ledger.clone(),
		pairs:    s.pairs.clone(),
		roles:    s.roles.clone(),
		settings: s.settings,
	}
}

// heldTokens 返回非零持仓：基础资产在前，其余按交易对登记顺序。
func (s *state) heldTokens(base common.Address) []common.Address {
	out := make([]common.Address, 0, len(s.ledger.holdings))
	if h, ok := s.ledger.holdings[base]; ok && h.Sign() > 0 {
		out = append(out, base)
	}
	for _, t := range s.pairs.order {
		if t == base {
			continue
		}
		if h, ok := s.ledger.holdings[t]; ok && h.Sign() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// opTx 一次操作的事务上下文。
//
// 内部状态改动落在 st 副本上；对外部账本/路由的调用成功后登记补偿动作，
// 操作失败时逆序执行补偿，提交时才替换状态并发布事件。
type opTx struct {
	ctx    context.Context
	v      *Vault
	op     string
	now    time.Time
	st     *state
	quotes map[common.Address]Quote
	undo   []func() error
	events []Event
	// notices 无论提交还是回滚都会发布（例如熔断）
	notices []Event
	done    bool
}

func (v *Vault) begin(ctx context.Context, op string) *opTx {
	return &opTx{
		ctx:    ctx,
		v:      v,
		op:     op,
		now:    v.clock(),
		st:     v.st.clone(),
		quotes: make(map[common.Address]Quote),
	}
}

func (tx *opTx) onRollback(f func() error) {
	tx.undo = append(tx.undo, f)
}

func (tx *opTx) emit(ev Event) {
	tx.events = append(tx.events, ev)
}

func (tx *opTx) notify(ev Event) {
	tx.notices = append(tx.notices, ev)
}

func (tx *opTx) rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](); err != nil {
			tx.v.log.WithError(err).Errorf("❌ [%s] 回滚补偿失败，外部账本可能与内部记账不一致", tx.op)
		}
	}
	tx.publish(tx.notices)
}

func (tx *opTx) commit() {
	tx.done = true
	tx.v.st = tx.st
	tx.publish(tx.events)
	tx.publish(tx.notices)
}

func (tx *opTx) publish(evs []Event) {
	if tx.v.sink == nil {
		return
	}
	for _, ev := range evs {
		tx.v.sink.Publish(ev)
	}
}

// quote 同一操作内每个代币只查询一次预言机，保证估值确定。
func (tx *opTx) quote(token common.Address) (Quote, error) {
	if q, ok := tx.quotes[token]; ok {
		return q, nil
	}
	q, err := tx.v.oracle.Quote(tx.ctx, token)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, token.Hex(), err)
	}
	if q.Price == nil || q.Price.Sign() < 0 {
		return Quote{}, fmt.Errorf("%w: %s: invalid price", ErrPriceUnavailable, token.Hex())
	}
	q.Price = cloneBig(q.Price)
	tx.quotes[token] = q
	return q, nil
}

// valueOf 把 amount 个 token 折算为基础资产。
func (tx *opTx) valueOf(token common.Address, amount *big.Int) (*big.Int, error) {
	if token == tx.v.cfg.BaseAsset || amount.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	q, err := tx.quote(token)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, q.Price, PriceScale), nil
}

func (tx *opTx) totalAssetsValue() (*big.Int, error) {
	total := new(big.Int)
	for _, t := range tx.st.heldTokens(tx.v.cfg.BaseAsset) {
		val, err := tx.valueOf(t, tx.st.ledger.holdings[t])
		if err != nil {
			return nil, err
		}
		total.Add(total, val)
	}
	return total, nil
}

// checkFreshness 校验本次操作用到的所有报价都在时间窗口内。
func (tx *opTx) checkFreshness() error {
	s := tx.st.settings
	if tx.v.cfg.TimeoutMode != TimeoutFreshness || s.SignalTimeoutSeconds == 0 {
		return nil
	}
	for token, q := range tx.quotes {
		if elapsedExceeds(tx.now, q.UpdatedAt, s.SignalTimeoutSeconds) {
			return fmt.Errorf("%w: %s updated at %s", ErrStalePrice, token.Hex(), q.UpdatedAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// pull 从 from 拉取 amount 个 token 到金库（消耗 from 对金库的授权）。
func (tx *opTx) pull(token, from common.Address, amount *big.Int) error {
	tokens, self := tx.v.tokens, tx.v.cfg.Address
	prev := tokens.Allowance(token, from, self)
	if prev.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := tokens.TransferFrom(token, self, from, self, amount); err != nil {
		return err
	}
	tx.onRollback(func() error {
		if err := tokens.Transfer(token, self, from, amount); err != nil {
			return err
		}
		return tokens.Approve(token, from, self, prev)
	})
	return nil
}

// push 从金库向 to 转出 amount 个 token。
func (tx *opTx) push(token, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	tokens, self := tx.v.tokens, tx.v.cfg.Address
	if err := tokens.Transfer(token, self, to, amount); err != nil {
		return err
	}
	tx.onRollback(func() error {
		return tokens.Transfer(token, to, self, amount)
	})
	return nil
}

// swap 授权 Router 并执行 exactInputSingle，返回实际获得的数量。
func (tx *opTx) swap(tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	v := tx.v
	self, router := v.cfg.Address, v.router.Address()

	prev := v.tokens.Allowance(tokenIn, self, router)
	if err := v.tokens.Approve(tokenIn, self, router, amountIn); err != nil {
		return nil, err
	}
	tx.onRollback(func() error {
		return v.tokens.Approve(tokenIn, self, router, prev)
	})

	out, err := v.router.ExactInputSingle(tx.ctx, SwapParams{
		TokenIn:          tokenIn,
		TokenOut:         tokenOut,
		Fee:              v.cfg.SwapFee,
		Payer:            self,
		Recipient:        self,
		Deadline:         tx.now.Add(v.cfg.SwapDeadline),
		AmountIn:         new(big.Int).Set(amountIn),
		AmountOutMinimum: new(big.Int).Set(minOut),
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientAllowance) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSwapFailed, err)
	}
	if out == nil || out.Sign() < 0 {
		return nil, fmt.Errorf("%w: router reported invalid amountOut", ErrSwapFailed)
	}
	out = new(big.Int).Set(out)
	tx.onRollback(func() error {
		if err := v.tokens.Transfer(tokenOut, self, router, out); err != nil {
			return err
		}
		return v.tokens.Transfer(tokenIn, router, self, amountIn)
	})
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: amountOut %s below minimum %s", ErrSwapFailed, out, minOut)
	}
	return out, nil
}
