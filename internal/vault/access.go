package vault

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Role 权限角色。
type Role string

const (
	RoleAdmin           Role = "ADMIN_ROLE"
	RoleStrategyManager Role = "STRATEGY_MANAGER_ROLE"
	RoleOracle          Role = "ORACLE_ROLE"
)

// Roles 全部已知角色。
var Roles = []Role{RoleAdmin, RoleStrategyManager, RoleOracle}

// ParseRole 解析角色名，同时接受简写（admin / strategy_manager / oracle）。
func ParseRole(s string) (Role, error) {
	switch s {
	case string(RoleAdmin), "admin":
		return RoleAdmin, nil
	case string(RoleStrategyManager), "strategy_manager", "strategy-manager", "manager":
		return RoleStrategyManager, nil
	case string(RoleOracle), "oracle":
		return RoleOracle, nil
	}
	return "", ErrUnknownRole
}

// AccessControl 角色成员表。每个操作在改动状态前检查调用方角色。
type AccessControl struct {
	members map[Role]map[common.Address]struct{}
}

func newAccessControl() *AccessControl {
	ac := &AccessControl{members: make(map[Role]map[common.Address]struct{})}
	for _, r := range Roles {
		ac.members[r] = make(map[common.Address]struct{})
	}
	return ac
}

func (ac *AccessControl) Has(role Role, account common.Address) bool {
	_, ok := ac.members[role][account]
	return ok
}

func (ac *AccessControl) require(role Role, account common.Address) error {
	if !ac.Has(role, account) {
		return ErrUnauthorized
	}
	return nil
}

// grant 返回是否发生了变化。
func (ac *AccessControl) grant(role Role, account common.Address) (bool, error) {
	m, ok := ac.members[role]
	if !ok {
		return false, ErrUnknownRole
	}
	if account == (common.Address{}) {
		return false, ErrInvalidAddress
	}
	if _, exists := m[account]; exists {
		return false, nil
	}
	m[account] = struct{}{}
	return true, nil
}

// revoke 至少保留一个管理员。
func (ac *AccessControl) revoke(role Role, account common.Address) (bool, error) {
	m, ok := ac.members[role]
	if !ok {
		return false, ErrUnknownRole
	}
	if _, exists := m[account]; !exists {
		return false, nil
	}
	if role == RoleAdmin && len(m) == 1 {
		return false, ErrLastAdmin
	}
	delete(m, account)
	return true, nil
}

// Members 按地址排序返回角色成员。
func (ac *AccessControl) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(ac.members[role]))
	for a := range ac.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (ac *AccessControl) clone() *AccessControl {
	c := newAccessControl()
	for r, m := range ac.members {
		cm := make(map[common.Address]struct{}, len(m))
		for a := range m {
			cm[a] = struct{}{}
		}
		c.members[r] = cm
	}
	return c
}
