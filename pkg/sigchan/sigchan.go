// Package sigchan 合并通知：多次 Emit 在消费前只保留一次，适合“有变化，去处理一下”这类信号。
package sigchan

type Chan struct {
	c chan struct{}
}

// New 容量 1 时连续的通知会合并为一次
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 非阻塞发送，channel 已满时丢弃
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

func (c *Chan) C() <-chan struct{} {
	return c.c
}
