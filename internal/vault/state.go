package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/ogvault/internal/risk"
)

// StateVersion 快照格式版本。
const StateVersion = 1

// State 可持久化的金库快照，金额均为十进制字符串。
type State struct {
	Version     int                       `json:"version"`
	Address     common.Address            `json:"address"`
	BaseAsset   common.Address            `json:"base_asset"`
	TotalShares string                    `json:"total_shares"`
	Shares      map[common.Address]string `json:"shares"`
	Holdings    map[common.Address]string `json:"holdings"`
	Pairs       []PairState               `json:"pairs"`
	Roles       map[Role][]common.Address `json:"roles"`
	Settings    StrategySettings          `json:"settings"`
	Breaker     risk.Snapshot             `json:"breaker"`
}

type PairState struct {
	Token            common.Address `json:"token"`
	MaxAllocationBps uint32         `json:"max_allocation_bps"`
	MinExitAmount    string         `json:"min_exit_amount"`
	IsActive         bool           `json:"is_active"`
}

// Export 导出当前状态。
func (v *Vault) Export() State {
	return v.ExportWith(nil)
}

// ExportWith 与 Export 相同，hook 在持锁期间调用。
// 宿主借此同时导出外部代币账本，保证两份快照来自同一时刻。
func (v *Vault) ExportWith(hook func()) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if hook != nil {
		hook()
	}
	st := v.st
	out := State{
		Version:     StateVersion,
		Address:     v.cfg.Address,
		BaseAsset:   v.cfg.BaseAsset,
		TotalShares: st.ledger.totalShares.String(),
		Shares:      make(map[common.Address]string, len(st.ledger.shares)),
		Holdings:    make(map[common.Address]string, len(st.ledger.holdings)),
		Roles:       make(map[Role][]common.Address, len(Roles)),
		Settings:    st.settings,
		Breaker:     v.breaker.Snapshot(),
	}
	for a, s := range st.ledger.shares {
		out.Shares[a] = s.String()
	}
	for t, h := range st.ledger.holdings {
		out.Holdings[t] = h.String()
	}
	for _, p := range st.pairs.List() {
		out.Pairs = append(out.Pairs, PairState{
			Token:            p.Token,
			MaxAllocationBps: p.MaxAllocationBps,
			MinExitAmount:    p.MinExitAmount.String(),
			IsActive:         p.IsActive,
		})
	}
	for _, r := range Roles {
		out.Roles[r] = st.roles.Members(r)
	}
	return out
}

// Restore 用快照替换当前状态。快照必须属于同一金库与基础资产，且份额守恒。
func (v *Vault) Restore(s State) error {
	if s.Version != StateVersion {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if s.Address != v.cfg.Address || s.BaseAsset != v.cfg.BaseAsset {
		return fmt.Errorf("state belongs to vault %s (base %s): %w", s.Address.Hex(), s.BaseAsset.Hex(), ErrInvalidAddress)
	}

	st := newState()
	total, err := ParseAmount("total_shares", s.TotalShares)
	if err != nil {
		return err
	}
	sum := new(big.Int)
	for a, raw := range s.Shares {
		n, err := ParseAmount("shares", raw)
		if err != nil {
			return err
		}
		st.ledger.mint(a, n)
		sum.Add(sum, n)
	}
	if sum.Cmp(total) != 0 {
		return fmt.Errorf("share balances sum %s != total shares %s", sum, total)
	}
	for t, raw := range s.Holdings {
		n, err := ParseAmount("holding", raw)
		if err != nil {
			return err
		}
		st.ledger.credit(t, n)
	}
	for _, p := range s.Pairs {
		minExit, err := ParseAmount("min_exit_amount", p.MinExitAmount)
		if err != nil {
			return err
		}
		pair, err := st.pairs.set(p.Token, p.MaxAllocationBps, minExit)
		if err != nil {
			return err
		}
		// 上限为 0 的交易对不可能处于激活状态
		pair.IsActive = pair.IsActive && p.IsActive
		st.pairs.pairs[p.Token] = pair
	}
	for role, members := range s.Roles {
		for _, a := range members {
			if _, err := st.roles.grant(role, a); err != nil {
				return err
			}
		}
	}
	if len(st.roles.members[RoleAdmin]) == 0 {
		return fmt.Errorf("state has no admin: %w", ErrLastAdmin)
	}
	st.settings = s.Settings

	v.mu.Lock()
	defer v.mu.Unlock()
	v.st = st
	v.breaker.Restore(s.Breaker)
	v.log.Infof("状态已恢复: totalShares=%s pairs=%d halted=%v", total, len(s.Pairs), s.Breaker.Halted)
	return nil
}

// ParseAmount 解析十进制 uint256 金额字符串，空串视为 0。
func ParseAmount(name, raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s=%q: not a decimal integer", name, raw)
	}
	return checkAmount(name, n)
}
