package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续执行信号。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续 swap 失败上限。
	MaxConsecutiveErrors int64
}

// CircuitBreaker 使用原子变量，可在写锁之外读写。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
}

// Halt 手动熔断。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（会同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// AllowSignals 检查是否允许执行信号；达到连续错误上限时自动熔断。
func (cb *CircuitBreaker) AllowSignals() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 在一次信号成交后调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 在一次 swap 失败后调用。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Halted 是否已熔断（不触发阈值检查）。
func (cb *CircuitBreaker) Halted() bool {
	if cb == nil {
		return false
	}
	return cb.halted.Load()
}

// ConsecutiveErrors 当前连续错误数。
func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

// Snapshot 断路器的可持久化状态。
type Snapshot struct {
	Halted            bool  `json:"halted,omitempty"`
	ConsecutiveErrors int64 `json:"consecutive_errors,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	if cb == nil {
		return Snapshot{}
	}
	return Snapshot{Halted: cb.halted.Load(), ConsecutiveErrors: cb.consecutiveErrors.Load()}
}

// Restore 载入快照；重启后熔断状态保持不变，仍需手动恢复。
func (cb *CircuitBreaker) Restore(s Snapshot) {
	if cb == nil {
		return
	}
	cb.halted.Store(s.Halted)
	cb.consecutiveErrors.Store(max(0, s.ConsecutiveErrors))
}
