package vault

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSignalTimeoutSeconds 初始化时的信号超时窗口。
const DefaultSignalTimeoutSeconds uint64 = 900

// TimeoutMode 决定 signalTimeoutSeconds 的含义。
type TimeoutMode string

const (
	// TimeoutFreshness 信号校验时使用的报价不得早于 now-timeout。
	TimeoutFreshness TimeoutMode = "freshness"
	// TimeoutCooldown 两次成功信号之间至少间隔 timeout。
	TimeoutCooldown TimeoutMode = "cooldown"
)

// RedeemPolicy 赎回时如何处理非基础资产持仓。
type RedeemPolicy string

const (
	// RedeemInKind 按比例返还一篮子代币。
	RedeemInKind RedeemPolicy = "in_kind"
	// RedeemLiquidate 先通过 Router 把按比例的非基础资产换成基础资产再返还。
	RedeemLiquidate RedeemPolicy = "liquidate"
)

func ParseTimeoutMode(s string) (TimeoutMode, error) {
	switch m := TimeoutMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return TimeoutFreshness, nil
	case TimeoutFreshness, TimeoutCooldown:
		return m, nil
	}
	return "", fmt.Errorf("unknown timeout mode %q", s)
}

func ParseRedeemPolicy(s string) (RedeemPolicy, error) {
	switch p := RedeemPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RedeemInKind, nil
	case RedeemInKind, RedeemLiquidate:
		return p, nil
	}
	return "", fmt.Errorf("unknown redeem policy %q", s)
}

// StrategySettings 策略开关及信号时间窗口。
type StrategySettings struct {
	Enabled              bool   `json:"enabled"`
	SignalTimeoutSeconds uint64 `json:"signal_timeout_seconds"`
	// LastSignalTimestamp 最近一次成功信号的 unix 秒，0 表示从未有过。
	LastSignalTimestamp int64 `json:"last_signal_timestamp"`
}

// elapsedExceeds 判断 from 到 now 经过的秒数是否超过 limit 秒。now 早于 from 视为未超过。
func elapsedExceeds(now, from time.Time, limit uint64) bool {
	d := now.Unix() - from.Unix()
	return d > 0 && uint64(d) > limit
}
