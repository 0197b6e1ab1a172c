package relay

import (
	"crypto/rand"
	"encoding/hex"

	"skillrelay/internal/protocol"
)

// outbound socket 的写端
type outbound interface {
	Enqueue(b []byte) bool
	Close()
}

// Connection 一个在线连接；除 out 外所有字段归 hub 协程所有
type Connection struct {
	ID    string
	Room  string // 首个 hello 之前为空
	Name  string
	Color string
	State *protocol.PlayerState

	joinSeq uint64
	out     outbound
}

func newConnection(out outbound) *Connection {
	return &Connection{
		ID:    newID(),
		Name:  protocol.DefaultName,
		Color: protocol.DefaultColor,
		out:   out,
	}
}

func (c *Connection) peer() protocol.Peer {
	p := protocol.Peer{ID: c.ID, Name: c.Name, Color: c.Color}
	if c.State != nil {
		st := *c.State
		p.State = &st
	}
	return p
}

// newID 8 字节随机数 → 16 位十六进制
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("relay: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
