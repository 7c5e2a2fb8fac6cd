// Package sim 提供内存版宿主环境：ERC20 风格代币账本、恒定价格路由与静态预言机。
// vaultd 的 sim 模式与各包测试都基于它。
package sim

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/betbot/ogvault/internal/vault"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Ledger 内存代币账本。每次调用要么完整生效要么不生效。
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
	}
}

// Mint 凭空增发，仅用于初始化测试资金或路由流动性。
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(token, to, amount)
}

func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(token, account)
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.allowances[token][allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("approve: invalid amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[token]
	if !ok {
		m = make(map[allowanceKey]*big.Int)
		l.allowances[token] = m
	}
	m[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// TransferFrom 额度为 MaxUint256 时视为无限授权，不扣减。
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{from, spender}
	allowed := l.allowances[token][key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%s allowance for %s: %w", token.Hex(), spender.Hex(), vault.ErrInsufficientAllowance)
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	if allowed.Cmp(math.MaxBig256) != 0 {
		l.allowances[token][key] = new(big.Int).Sub(allowed, amount)
	}
	return nil
}

// Holders 返回某代币所有非零余额（测试/调试用）。
func (l *Ledger) Holders(token common.Address) map[common.Address]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(l.balances[token]))
	for a, b := range l.balances[token] {
		out[a] = new(big.Int).Set(b)
	}
	return out
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer: invalid amount")
	}
	if bal := l.balance(token, from); bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s balance of %s is %s, need %s: %w", token.Hex(), from.Hex(), bal, amount, vault.ErrInsufficientBalance)
	}
	l.sub(token, from, amount)
	l.add(token, to, amount)
	return nil
}

func (l *Ledger) balance(token, account common.Address) *big.Int {
	if v, ok := l.balances[token][account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) add(token, account common.Address, amount *big.Int) {
	m, ok := l.balances[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.balances[token] = m
	}
	m[account] = new(big.Int).Add(l.balance(token, account), amount)
}

func (l *Ledger) sub(token, account common.Address, amount *big.Int) {
	v := new(big.Int).Sub(l.balance(token, account), amount)
	if v.Sign() == 0 {
		delete(l.balances[token], account)
		return
	}
	l.balances[token][account] = v
}
