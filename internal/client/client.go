// Package client 在线状态中继的实时客户端。同一时刻只持有一种传输：
// 中继 WebSocket，或中继不可用时的同设备本地总线
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillrelay/internal/protocol"
	"skillrelay/internal/wsconn"
)

// Client 维持房间会话并把对端事件交给 Handlers；所有方法并发安全
type Client struct {
	cfg    Config
	h      Handlers
	log    *zap.SugaredLogger
	events *dispatcher

	mu            sync.Mutex
	state         ConnState
	gen           uint64 // 传输每次切换时递增，旧协程据此失效
	closedByUser  bool
	hadConnection bool // 本次会话曾连上中继；此后断线只重连，不回退本地
	conn          *wsconn.Conn
	remoteID      string
	localID       string
	unsubscribe   func()
	reconnect     *time.Timer
	room          string
	name          string
	color         string
	lastState     *protocol.PlayerState
	pending       *protocol.PlayerState
	lastSentAt    time.Time
	flushTimer    *time.Timer
	closed        bool
}

func New(cfg Config, h Handlers) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		h:      h,
		log:    cfg.Log,
		events: newDispatcher(),
		room:   cfg.Room,
		name:   cfg.Name,
		color:  cfg.Color,
	}
}

// Connect 开始会话；仅在 Disconnected 状态下生效
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closedByUser = false
	c.connectLocked()
}

func (c *Client) connectLocked() {
	if c.state != Disconnected {
		return
	}
	c.stopReconnectLocked()
	switch {
	case c.cfg.URL != "":
		c.state = Connecting
		c.gen++
		go c.dial(c.gen)
	case c.cfg.FallbackLocal:
		c.startLocalLocked()
	default:
		c.log.Warnw("no relay configured and local fallback disabled")
	}
}

// Disconnect 关闭当前传输并取消待执行的重连
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	c.closedByUser = true
	c.hadConnection = false
	c.stopReconnectLocked()
	c.stopFlushLocked()
	c.pending = nil
	c.gen++

	prev := c.state
	switch prev {
	case Connecting, Connected:
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
	case LocalFallback:
		c.publishLocalLocked(localEnvelope{Type: localLeave})
		c.stopLocalLocked()
	}
	c.state = Disconnected
	c.remoteID = ""
	c.localID = ""

	if prev != Disconnected {
		info := DisconnectInfo{HadConnection: prev == Connected || prev == LocalFallback}
		c.emit(func() {
			if c.h.OnDisconnected != nil {
				c.h.OnDisconnected(info)
			}
		})
	}
}

// Close 断开并停止回调派发，之后不可再用
func (c *Client) Close() {
	c.mu.Lock()
	c.disconnectLocked()
	c.closed = true
	c.mu.Unlock()
	c.events.close()
}

// SendState 排队发送状态：每个 SendInterval 最多发一帧，突发只保留最新值
func (c *Client) SendState(st protocol.PlayerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &st
	c.maybeFlushLocked()
}

// UpdateProfile 修改显示名和/或颜色；非法颜色忽略
func (c *Client) UpdateProfile(p protocol.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out protocol.Profile
	if p.Name != nil {
		name := protocol.SanitizeName(*p.Name)
		c.name = name
		out.Name = &name
		if c.cfg.Store != nil {
			if err := c.cfg.Store.Set(KeyName, name); err != nil {
				c.log.Debugw("persist name failed", "err", err)
			}
		}
	}
	if p.Color != nil && protocol.ValidColor(*p.Color) {
		color := *p.Color
		c.color = color
		out.Color = &color
	}
	if out.Name == nil && out.Color == nil {
		return
	}
	switch c.state {
	case Connected:
		c.sendRemoteLocked(out)
	case LocalFallback:
		c.publishLocalLocked(localEnvelope{Type: localProfile, Name: c.name, Color: c.color, State: c.lastState})
	}
}

// SendEmote 发送表情；裁剪后为空则丢弃
func (c *Client) SendEmote(text string) {
	emoji := protocol.SanitizeEmote(text)
	if emoji == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Connected:
		c.sendRemoteLocked(protocol.Emote{Emoji: emoji})
	case LocalFallback:
		c.publishLocalLocked(localEnvelope{Type: localEmote, Name: c.name, Emoji: emoji})
	}
}

// IsConnected 远程或本地传输是否已建立
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected || c.state == LocalFallback
}

// LocalID 对端所见的本端 id，未知时为空
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Connected:
		return c.remoteID
	case LocalFallback:
		return c.localID
	}
	return ""
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room 清洗后的房间名
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) emit(fn func()) {
	c.events.post(fn)
}

// dial 独立协程，生命周期覆盖一次中继连接
func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		c.log.Infow("relay dial failed", "url", c.cfg.URL, "err", err)
		c.transportClosed(gen, false)
		return
	}
	conn := wsconn.New(ws, wsconn.Options{})

	c.mu.Lock()
	if gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.hadConnection = true
	c.sendRemoteLocked(protocol.Hello{Room: c.room, Name: c.name, Color: c.color})
	c.maybeFlushLocked()
	c.mu.Unlock()

	go conn.WritePump()
	err = conn.ReadPump(func(b []byte) { c.handleServerFrame(gen, b) })
	c.log.Debugw("relay connection ended", "err", err)
	conn.Close()
	c.transportClosed(gen, true)
}

// transportClosed 处理第 gen 代中继连接的结束
func (c *Client) transportClosed(gen uint64, wasOpen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.conn = nil
	c.remoteID = ""
	c.state = Disconnected
	if c.closedByUser || c.closed {
		return
	}
	if !wasOpen && !c.hadConnection && c.cfg.FallbackLocal {
		c.log.Infow("relay unreachable, switching to local fallback")
		c.startLocalLocked()
		return
	}
	c.scheduleReconnectLocked()
	info := DisconnectInfo{Reconnecting: true, HadConnection: wasOpen}
	c.emit(func() {
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(info)
		}
	})
}

func (c *Client) scheduleReconnectLocked() {
	c.stopReconnectLocked()
	gen := c.gen
	c.log.Infow("reconnect scheduled", "in", c.cfg.ReconnectDelay)
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// 期间传输已切换（断开或重新连接）则此定时器作废
		if gen != c.gen || c.closedByUser || c.closed {
			return
		}
		c.reconnect = nil
		c.connectLocked()
	})
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) handleServerFrame(gen uint64, b []byte) {
	msg, err := protocol.DecodeServer(b)
	if err != nil {
		c.log.Debugw("dropping relay frame", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Connected {
		return
	}
	self := c.remoteID

	switch m := msg.(type) {
	case protocol.Welcome:
		c.remoteID = m.ID
		peers := make([]protocol.Peer, 0, len(m.Peers))
		for _, p := range m.Peers {
			if p.ID != m.ID {
				peers = append(peers, p)
			}
		}
		m.Peers = peers
		connected := ConnectInfo{ID: m.ID, Room: m.Room}
		c.emit(func() {
			if c.h.OnConnected != nil {
				c.h.OnConnected(connected)
			}
			if c.h.OnWelcome != nil {
				c.h.OnWelcome(m)
			}
		})
	case protocol.PeerJoin:
		if m.Peer.ID == self {
			return
		}
		c.emit(func() {
			if c.h.OnPeerJoin != nil {
				c.h.OnPeerJoin(m.Peer)
			}
		})
	case protocol.PeerLeave:
		if m.ID == self {
			return
		}
		c.emit(func() {
			if c.h.OnPeerLeave != nil {
				c.h.OnPeerLeave(m.ID)
			}
		})
	case protocol.PeerState:
		if m.ID == self {
			return
		}
		c.emit(func() {
			if c.h.OnPeerState != nil {
				c.h.OnPeerState(m)
			}
		})
	case protocol.PeerEmote:
		if m.ID == self {
			return
		}
		c.emit(func() {
			if c.h.OnPeerEmote != nil {
				c.h.OnPeerEmote(m)
			}
		})
	case protocol.ServerNotice:
		c.emit(func() {
			if c.h.OnServerMessage != nil {
				c.h.OnServerMessage(m)
			}
		})
	}
}

func (c *Client) sendRemoteLocked(m protocol.ClientMessage) {
	if c.conn == nil {
		return
	}
	b, err := protocol.EncodeClient(m)
	if err != nil {
		c.log.Errorw("encode failed", "type", m.ClientType(), "err", err)
		return
	}
	if !c.conn.Enqueue(b) {
		c.log.Debugw("send queue full, dropping", "type", m.ClientType())
	}
}

// maybeFlushLocked 间隔已到则立即发送，否则只挂一个尾沿定时器
func (c *Client) maybeFlushLocked() {
	if c.pending == nil || (c.state != Connected && c.state != LocalFallback) {
		return
	}
	wait := c.cfg.SendInterval - time.Since(c.lastSentAt)
	if wait <= 0 {
		c.flushLocked()
		return
	}
	if c.flushTimer == nil {
		c.flushTimer = time.AfterFunc(wait, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.flushTimer = nil
			c.maybeFlushLocked()
		})
	}
}

func (c *Client) flushLocked() {
	st := *c.pending
	c.pending = nil
	c.lastSentAt = time.Now()
	c.lastState = &st
	switch c.state {
	case Connected:
		c.sendRemoteLocked(protocol.StateUpdate{State: st})
	case LocalFallback:
		c.publishLocalLocked(localEnvelope{Type: localState, Name: c.name, Color: c.color, State: &st})
	}
}

func (c *Client) stopFlushLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
}
