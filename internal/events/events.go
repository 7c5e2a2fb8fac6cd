package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ogvault/internal/metrics"
	"github.com/betbot/ogvault/internal/vault"
)

var log = logrus.WithField("component", "event_bus")

// Handler 在总线 worker 中串行调用，用于落盘类消费者（journal、状态快照）。
type Handler func(ctx context.Context, ev vault.Event)

type namedHandler struct {
	name string
	fn   Handler
}

// Bus 金库事件总线。
//
// Publish 非阻塞（金库在写锁内发布）；单 worker 按发布顺序调用 Handler，
// 并把事件扇出给订阅者（websocket 等），订阅者跟不上时丢弃并计数。
type Bus struct {
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	ch   chan vault.Event
	wg   sync.WaitGroup
	once sync.Once

	handlers []namedHandler
	subs     map[int]chan vault.Event
	nextSub  int
}

var _ vault.EventSink = (*Bus)(nil)

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Bus{
		ch:   make(chan vault.Event, buffer),
		subs: make(map[int]chan vault.Event),
	}
}

// Handle 注册串行处理器，需在 Start 之前调用。
func (b *Bus) Handle(name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, fn: fn})
}

// Subscribe 返回事件通道与取消函数。
func (b *Bus) Subscribe(buffer int) (<-chan vault.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan vault.Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish 实现 vault.EventSink。
func (b *Bus) Publish(ev vault.Event) {
	select {
	case b.ch <- ev:
	default:
		metrics.EventsDropped.Inc()
		log.Warnf("⚠️ 事件队列已满，丢弃事件: type=%s id=%s", ev.Type, ev.ID)
	}
}

func (b *Bus) Start(ctx context.Context) {
	b.once.Do(func() {
		b.mu.Lock()
		b.ctx, b.cancel = context.WithCancel(ctx)
		b.mu.Unlock()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-b.ctx.Done():
					b.drain()
					return
				case ev := <-b.ch:
					b.dispatch(ev)
				}
			}
		}()
		log.Infof("✅ EventBus 已启动 (buffer=%d)", cap(b.ch))
	})
}

// drain 停止前把队列中剩余的事件处理完。
func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.ch:
			b.dispatch(ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ev vault.Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("事件处理器 panic: handler=%s type=%s panic=%v", h.name, ev.Type, r)
				}
			}()
			h.fn(context.WithoutCancel(b.ctx), ev)
		}()
	}

	// 持读锁发送，避免与取消订阅时的 close 竞争
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infof("✅ EventBus 已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("停止 EventBus 超时: %w", ctx.Err())
	}
}
