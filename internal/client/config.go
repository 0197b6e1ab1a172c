package client

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skillrelay/internal/localbus"
	"skillrelay/internal/logger"
	"skillrelay/internal/protocol"
	"skillrelay/internal/store"
)

const (
	DefaultSendInterval   = 80 * time.Millisecond
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 5 * time.Second
)

// Config 客户端配置；URL 为空表示未配置中继
type Config struct {
	URL   string
	Room  string
	Name  string
	Color string

	// FallbackLocal 未配置或无法连接中继时，改用 Bus 上的同设备传输
	FallbackLocal bool
	Bus           localbus.Bus

	SendInterval   time.Duration
	ReconnectDelay time.Duration
	DialTimeout    time.Duration

	Dialer *websocket.Dialer
	// Store 非空时持久化显示名修改
	Store store.KV
	Log   *zap.SugaredLogger
}

func (c Config) withDefaults() Config {
	c.Room = protocol.SanitizeRoom(c.Room)
	c.Name = protocol.SanitizeName(c.Name)
	c.Color = protocol.SanitizeColor(c.Color)
	if c.SendInterval <= 0 {
		c.SendInterval = DefaultSendInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Bus == nil {
		c.Bus = localbus.Shared
	}
	if c.Log == nil {
		c.Log = logger.Named("realtime")
	}
	return c
}

// ConnectInfo OnConnected 的参数
type ConnectInfo struct {
	ID   string
	Room string
}

// DisconnectInfo OnDisconnected 的参数
type DisconnectInfo struct {
	Reconnecting  bool
	HadConnection bool
}

// Handlers 可选回调；在同一个协程中按事件到达顺序执行
type Handlers struct {
	OnConnected     func(ConnectInfo)
	OnDisconnected  func(DisconnectInfo)
	OnWelcome       func(protocol.Welcome)
	OnPeerJoin      func(protocol.Peer)
	OnPeerLeave     func(id string)
	OnPeerState     func(protocol.PeerState)
	OnPeerEmote     func(protocol.PeerEmote)
	OnServerMessage func(protocol.ServerNotice)
}
