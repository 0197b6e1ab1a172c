// Package wsconn 对 gorilla websocket 的轻量包装：带缓冲的非阻塞发送队列，
// 由单个写协程负责写出
package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options 连接参数；零值使用默认值
type Options struct {
	QueueSize  int
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

const (
	defaultQueueSize = 64
	defaultReadLimit = 64 << 10
	defaultWriteWait = 5 * time.Second
	defaultPongWait  = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	// 必须小于 PongWait
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	return o
}

// Conn 持有一个 websocket。Enqueue 可在任意协程调用，只有写泵会写 socket
type Conn struct {
	ws   *websocket.Conn
	opts Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.QueueSize),
		done: make(chan struct{}),
	}
}

// Enqueue 将消息压入发送队列（非阻塞）；队列满或已关闭时丢弃并返回 false
func (c *Conn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 结束写泵并关闭底层连接，可重复调用
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// Done 在 Close 之后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// WritePump 独立协程，从发送队列写出到 WS，并定时发送 ping
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump 读取文本帧交给 onFrame，读失败后关闭连接并返回错误
func (c *Conn) ReadPump(onFrame func([]byte)) error {
	defer c.Close()
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		// 任何入站流量都视为存活
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if kind != websocket.TextMessage {
			continue
		}
		onFrame(payload)
	}
}
