package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 窗口内允许的请求数
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 窗口内的请求时间戳，按时间递增
	clock      func() time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器，clock 为 nil 时使用 time.Now
func NewSlidingWindow(limit int, windowSize time.Duration, clock func() time.Time) *SlidingWindow {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		clock:      clock,
	}
}

// prune 移除窗口外的请求
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求，允许时记一次
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.clock())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 最早一条请求移出窗口的时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock()
	sw.prune(now)
	if len(sw.requests) == 0 {
		return now
	}
	return sw.requests[0].Add(sw.windowSize)
}

// idle 窗口内没有请求
func (sw *SlidingWindow) idle() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.clock())
	return len(sw.requests) == 0
}

// Keyed 按 key（例如调用方地址）各自维护一个滑动窗口。
// limit<=0 表示不限制。
type Keyed struct {
	limit      int
	windowSize time.Duration
	clock      func() time.Time

	mu       sync.Mutex
	limiters map[string]*SlidingWindow
	calls    int
}

// 每 gcEvery 次调用清理一次空闲的 key
const gcEvery = 1024

func NewKeyed(limit int, windowSize time.Duration, clock func() time.Time) *Keyed {
	if clock == nil {
		clock = time.Now
	}
	return &Keyed{
		limit:      limit,
		windowSize: windowSize,
		clock:      clock,
		limiters:   make(map[string]*SlidingWindow),
	}
}

// GetLimiter 获取 key 对应的限制器，不存在时创建
func (k *Keyed) GetLimiter(key string) *SlidingWindow {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.calls++
	if k.calls%gcEvery == 0 {
		for name, l := range k.limiters {
			if name != key && l.idle() {
				delete(k.limiters, name)
			}
		}
	}
	l, ok := k.limiters[key]
	if !ok {
		l = NewSlidingWindow(k.limit, k.windowSize, k.clock)
		k.limiters[key] = l
	}
	return l
}

// Allow 检查 key 是否允许请求
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.limit <= 0 {
		return true
	}
	return k.GetLimiter(key).Allow()
}

// RetryAfter key 下一次可以请求前需要等待的时间，可以立即请求时为 0
func (k *Keyed) RetryAfter(key string) time.Duration {
	if k == nil || k.limit <= 0 {
		return 0
	}
	l := k.GetLimiter(key)
	if l.GetRemaining() > 0 {
		return 0
	}
	return l.GetResetTime().Sub(k.clock())
}
