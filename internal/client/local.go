package client

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"skillrelay/internal/protocol"
)

// 本地回退消息类型：只在房间的总线频道上传递，不经过中继
const (
	localHello    = "local_hello"
	localHelloAck = "local_hello_ack"
	localState    = "local_state"
	localProfile  = "local_profile"
	localEmote    = "local_emote"
	localLeave    = "local_leave"
)

// localEnvelope 一条本地总线消息；To 仅在 ack 中设置
type localEnvelope struct {
	Type  string                `json:"type"`
	From  string                `json:"_from"`
	Room  string                `json:"_room"`
	TS    int64                 `json:"_ts"`
	To    string                `json:"_to,omitempty"`
	Name  string                `json:"name,omitempty"`
	Color string                `json:"color,omitempty"`
	State *protocol.PlayerState `json:"state,omitempty"`
	Emoji string                `json:"emoji,omitempty"`
}

// LocalChannel 房间对应的总线频道名
func LocalChannel(room string) string {
	return "skilling-room:" + room
}

func (c *Client) startLocalLocked() {
	c.gen++
	gen := c.gen
	c.state = LocalFallback
	c.localID = uuid.NewString()
	c.unsubscribe = c.cfg.Bus.Subscribe(LocalChannel(c.room), func(b []byte) {
		c.handleLocal(gen, b)
	})
	c.publishLocalLocked(localEnvelope{Type: localHello, Name: c.name, Color: c.color, State: c.lastState})

	welcome := protocol.Welcome{ID: c.localID, Room: c.room, Peers: []protocol.Peer{}}
	connected := ConnectInfo{ID: c.localID, Room: c.room}
	c.emit(func() {
		if c.h.OnConnected != nil {
			c.h.OnConnected(connected)
		}
		if c.h.OnWelcome != nil {
			c.h.OnWelcome(welcome)
		}
	})
	c.maybeFlushLocked()
}

func (c *Client) stopLocalLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Client) publishLocalLocked(env localEnvelope) {
	env.From = c.localID
	env.Room = c.room
	env.TS = time.Now().UnixMilli()
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Errorw("encode local message failed", "type", env.Type, "err", err)
		return
	}
	c.cfg.Bus.Publish(LocalChannel(c.room), b)
}

func (c *Client) handleLocal(gen uint64, b []byte) {
	var env localEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.log.Debugw("dropping local message", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != LocalFallback {
		return
	}
	if env.From == "" || env.From == c.localID || env.Room != c.room {
		return
	}
	if env.To != "" && env.To != c.localID {
		return
	}

	var st *protocol.PlayerState
	if env.State != nil {
		s := env.State.Sanitize()
		st = &s
	}
	peer := protocol.Peer{
		ID:    env.From,
		Name:  protocol.SanitizeName(env.Name),
		Color: protocol.SanitizeColor(env.Color),
		State: st,
	}

	switch env.Type {
	case localHello:
		c.publishLocalLocked(localEnvelope{
			Type:  localHelloAck,
			To:    env.From,
			Name:  c.name,
			Color: c.color,
			State: c.lastState,
		})
		c.emit(func() {
			if c.h.OnPeerJoin != nil {
				c.h.OnPeerJoin(peer)
			}
		})
	case localHelloAck:
		c.emit(func() {
			if c.h.OnPeerJoin != nil {
				c.h.OnPeerJoin(peer)
			}
		})
	case localState, localProfile:
		ps := protocol.PeerState{ID: peer.ID, Name: peer.Name, Color: peer.Color, State: peer.State}
		c.emit(func() {
			if c.h.OnPeerState != nil {
				c.h.OnPeerState(ps)
			}
		})
	case localEmote:
		emoji := protocol.SanitizeEmote(env.Emoji)
		if emoji == "" {
			return
		}
		pe := protocol.PeerEmote{ID: peer.ID, Name: peer.Name, Emoji: emoji}
		c.emit(func() {
			if c.h.OnPeerEmote != nil {
				c.h.OnPeerEmote(pe)
			}
		})
	case localLeave:
		id := env.From
		c.emit(func() {
			if c.h.OnPeerLeave != nil {
				c.h.OnPeerLeave(id)
			}
		})
	}
}
