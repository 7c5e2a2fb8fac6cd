package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 54 * time.Second // 必须小于 wsPongTimeout
	wsSendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 只读的事件流，不校验来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub 每个连接独立订阅事件总线，慢连接的事件由总线丢弃。
type wsHub struct {
	feed Feed

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func newWSHub(feed Feed) *wsHub {
	return &wsHub{feed: feed, conns: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("websocket 升级失败: %v", err)
		return
	}
	if !h.add(conn) {
		_ = conn.Close()
		return
	}
	events, cancel := h.feed.Subscribe(wsSendBuffer)
	log.Debugf("websocket 客户端已连接: %s", conn.RemoteAddr())

	done := make(chan struct{})
	go h.readLoop(conn, done)

	defer func() {
		cancel()
		h.remove(conn)
		_ = conn.Close()
		log.Debugf("websocket 客户端已断开: %s", conn.RemoteAddr())
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(eventDTO(0, ev)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 只处理 pong 和关闭帧，客户端发来的消息忽略。
func (h *wsHub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *wsHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
