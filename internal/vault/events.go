package vault

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType 事件类型。
type EventType string

const (
	EventDeposited               EventType = "Deposited"
	EventWithdrawn               EventType = "Withdrawn"
	EventSignalReceived          EventType = "SignalReceived"
	EventTradeExecuted           EventType = "TradeExecuted"
	EventTradingPairSet          EventType = "TradingPairSet"
	EventTradingPairDisabled     EventType = "TradingPairDisabled"
	EventStrategySettingsUpdated EventType = "StrategySettingsUpdated"
	EventRoleGranted             EventType = "RoleGranted"
	EventRoleRevoked             EventType = "RoleRevoked"
	EventSignalsResumed          EventType = "SignalsResumed"
	// EventSignalsHalted 熔断触发。唯一一个在操作被拒绝时也会发布的事件。
	EventSignalsHalted EventType = "SignalsHalted"
)

// Event 金库事件，除 SignalsHalted 外只在操作成功提交后发布。
// Data 中金额一律为十进制字符串，地址为 0x 十六进制。
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

func newEvent(typ EventType, ts time.Time, kv ...string) Event {
	data := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: ts,
		Data:      data,
	}
}

func addr(a common.Address) string { return a.Hex() }

func amt(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
