package sim

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerState 账本快照，金额为十进制字符串。vaultd 与金库状态一起保存，重启后两者保持一致。
type LedgerState struct {
	Balances   map[common.Address]map[common.Address]string `json:"balances"`
	Allowances []AllowanceState                             `json:"allowances"`
}

type AllowanceState struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

func (l *Ledger) Export() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := LedgerState{Balances: make(map[common.Address]map[common.Address]string, len(l.balances))}
	for token, m := range l.balances {
		out := make(map[common.Address]string, len(m))
		for acct, v := range m {
			out[acct] = v.String()
		}
		s.Balances[token] = out
	}
	for token, m := range l.allowances {
		for k, v := range m {
			if v.Sign() == 0 {
				continue
			}
			s.Allowances = append(s.Allowances, AllowanceState{Token: token, Owner: k.owner, Spender: k.spender, Amount: v.String()})
		}
	}
	return s
}

// Restore 用快照整体替换账本内容。解析失败时账本不变。
func (l *Ledger) Restore(s LedgerState) error {
	balances := make(map[common.Address]map[common.Address]*big.Int, len(s.Balances))
	for token, m := range s.Balances {
		out := make(map[common.Address]*big.Int, len(m))
		for acct, raw := range m {
			v, err := parseNonNegative(raw)
			if err != nil {
				return fmt.Errorf("balance %s/%s: %w", token.Hex(), acct.Hex(), err)
			}
			if v.Sign() > 0 {
				out[acct] = v
			}
		}
		balances[token] = out
	}
	allowances := make(map[common.Address]map[allowanceKey]*big.Int)
	for _, a := range s.Allowances {
		v, err := parseNonNegative(a.Amount)
		if err != nil {
			return fmt.Errorf("allowance %s/%s/%s: %w", a.Token.Hex(), a.Owner.Hex(), a.Spender.Hex(), err)
		}
		m, ok := allowances[a.Token]
		if !ok {
			m = make(map[allowanceKey]*big.Int)
			allowances[a.Token] = m
		}
		m[allowanceKey{a.Owner, a.Spender}] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = balances
	l.allowances = allowances
	return nil
}

func parseNonNegative(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
