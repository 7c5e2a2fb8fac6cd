package vault

import (
	"errors"

	"github.com/betbot/ogvault/internal/risk"
)

// 金库操作的错误分类。所有错误都是同步返回的，返回错误时状态保证未发生任何变化。
var (
	ErrUnauthorized             = errors.New("unauthorized")
	ErrZeroAmount               = errors.New("zero amount")
	ErrInsufficientShares       = errors.New("insufficient shares")
	ErrInsufficientBaseBalance  = errors.New("insufficient base balance")
	ErrInsufficientTokenBalance = errors.New("insufficient token balance")
	ErrPairInactive             = errors.New("trading pair inactive")
	ErrAllocationExceeded       = errors.New("allocation exceeded")
	ErrSwapFailed               = errors.New("swap failed")
	ErrInsufficientAllowance    = errors.New("insufficient allowance")
	ErrStrategyDisabled         = errors.New("strategy disabled")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAllocation   = errors.New("invalid allocation bps")
	ErrInvalidPercentage   = errors.New("invalid percentage bps")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrAmountOverflow      = errors.New("amount out of uint256 range")
	ErrPairNotFound        = errors.New("trading pair not found")
	ErrBelowMinExit        = errors.New("sell amount below min exit amount")
	ErrZeroShares          = errors.New("deposit too small to mint shares")
	ErrZeroAssetsValue     = errors.New("vault has shares but zero asset value")
	ErrStalePrice          = errors.New("stale price")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrSignalCooldown      = errors.New("signal cooldown")
	ErrLastAdmin           = errors.New("cannot remove last admin")
	ErrUnknownRole         = errors.New("unknown role")

	// ErrCircuitOpen 连续 swap 失败触发熔断后，信号被拒绝直到管理员恢复。
	ErrCircuitOpen = risk.ErrCircuitBreakerOpen
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrZeroAmount, "ZeroAmount"},
	{ErrInsufficientShares, "InsufficientShares"},
	{ErrInsufficientBaseBalance, "InsufficientBaseBalance"},
	{ErrInsufficientTokenBalance, "InsufficientTokenBalance"},
	{ErrPairInactive, "PairInactive"},
	{ErrAllocationExceeded, "AllocationExceeded"},
	{ErrSwapFailed, "SwapFailed"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrStrategyDisabled, "StrategyDisabled"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInvalidAllocation, "InvalidAllocation"},
	{ErrInvalidPercentage, "InvalidPercentage"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrPairNotFound, "PairNotFound"},
	{ErrBelowMinExit, "BelowMinExit"},
	{ErrZeroShares, "ZeroShares"},
	{ErrZeroAssetsValue, "ZeroAssetsValue"},
	{ErrStalePrice, "StalePrice"},
	{ErrPriceUnavailable, "PriceUnavailable"},
	{ErrSignalCooldown, "SignalCooldown"},
	{ErrLastAdmin, "LastAdmin"},
	{ErrUnknownRole, "UnknownRole"},
	{ErrCircuitOpen, "CircuitOpen"},
}

// Code 返回错误对应的稳定错误码（供 HTTP API 和日志使用）。
// 未知错误返回 "Internal"，nil 返回空串。
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// ErrorFromCode 是 Code 的逆映射，客户端用它把错误码还原为哨兵错误。
func ErrorFromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
