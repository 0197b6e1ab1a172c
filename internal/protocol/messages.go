package protocol

import (
	"encoding/json"
	"fmt"
)

// PlayerState 在同房间玩家之间转发的瞬时状态
type PlayerState struct {
	X           float64 `json:"x"`
	Z           float64 `json:"z"`
	Yaw         float64 `json:"yaw"`
	Moving      bool    `json:"moving"`
	Gathering   bool    `json:"gathering"`
	Attacking   bool    `json:"attacking"`
	Tool        string  `json:"tool"`
	CombatStyle string  `json:"combatStyle,omitempty"`
}

// Peer 其他成员视角下的一个房间成员
type Peer struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Color string       `json:"color"`
	State *PlayerState `json:"state"`
}

// ClientMessage 所有 客户端→中继 消息实现此接口
type ClientMessage interface {
	ClientType() string
}

type Hello struct {
	Room  string `json:"room"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Profile 可选的外观修改；nil 字段保持不变
type Profile struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

type StateUpdate struct {
	State PlayerState `json:"state"`
}

type Emote struct {
	Emoji string `json:"emoji"`
}

func (Hello) ClientType() string       { return TypeHello }
func (Profile) ClientType() string     { return TypeProfile }
func (StateUpdate) ClientType() string { return TypeState }
func (Emote) ClientType() string       { return TypeEmote }

// ServerMessage 所有 中继→客户端 消息实现此接口
type ServerMessage interface {
	ServerType() string
}

type Welcome struct {
	ID    string `json:"id"`
	Room  string `json:"room"`
	Peers []Peer `json:"peers"`
}

type PeerJoin struct {
	Peer Peer `json:"peer"`
}

type PeerLeave struct {
	ID string `json:"id"`
}

type PeerState struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Color string       `json:"color"`
	State *PlayerState `json:"state"`
}

type PeerEmote struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

// ServerNotice 运维公告
type ServerNotice struct {
	Text string `json:"text"`
}

func (Welcome) ServerType() string      { return TypeWelcome }
func (PeerJoin) ServerType() string     { return TypePeerJoin }
func (PeerLeave) ServerType() string    { return TypePeerLeave }
func (PeerState) ServerType() string    { return TypePeerState }
func (PeerEmote) ServerType() string    { return TypePeerEmote }
func (ServerNotice) ServerType() string { return TypeServerMessage }

// DecodeClient 解析客户端帧。线上字段类型宽松，hello/state 按清洗规则强制转换；
// 中继入库前仍会再清洗一次
func DecodeClient(b []byte) (ClientMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, err
	}
	switch base.Type {
	case TypeHello:
		var raw struct {
			Room  any `json:"room"`
			Name  any `json:"name"`
			Color any `json:"color"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		return Hello{Room: str(raw.Room), Name: str(raw.Name), Color: str(raw.Color)}, nil
	case TypeProfile:
		var raw struct {
			Name  any `json:"name"`
			Color any `json:"color"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		var p Profile
		if s, ok := raw.Name.(string); ok {
			p.Name = &s
		}
		if s, ok := raw.Color.(string); ok {
			p.Color = &s
		}
		return p, nil
	case TypeState:
		var raw struct {
			State any `json:"state"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		obj, _ := raw.State.(map[string]any)
		return StateUpdate{State: SanitizeState(obj)}, nil
	case TypeEmote:
		var raw struct {
			Emoji any `json:"emoji"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		return Emote{Emoji: str(raw.Emoji)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
}

// EncodeClient 编码为带 type 的 JSON 帧
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch m := m.(type) {
	case Hello:
		return json.Marshal(struct {
			Type string `json:"type"`
			Hello
		}{TypeHello, m})
	case Profile:
		return json.Marshal(struct {
			Type string `json:"type"`
			Profile
		}{TypeProfile, m})
	case StateUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			StateUpdate
		}{TypeState, m})
	case Emote:
		return json.Marshal(struct {
			Type string `json:"type"`
			Emote
		}{TypeEmote, m})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// DecodeServer 解析中继帧
func DecodeServer(b []byte) (ServerMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, err
	}
	var m ServerMessage
	switch base.Type {
	case TypeWelcome:
		var w Welcome
		err = json.Unmarshal(b, &w)
		m = w
	case TypePeerJoin:
		var j PeerJoin
		err = json.Unmarshal(b, &j)
		m = j
	case TypePeerLeave:
		var l PeerLeave
		err = json.Unmarshal(b, &l)
		m = l
	case TypePeerState:
		var s PeerState
		err = json.Unmarshal(b, &s)
		m = s
	case TypePeerEmote:
		var e PeerEmote
		err = json.Unmarshal(b, &e)
		m = e
	case TypeServerMessage:
		var n ServerNotice
		err = json.Unmarshal(b, &n)
		m = n
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeServer 编码为带 type 的 JSON 帧；peers 为 nil 时输出 []
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch m := m.(type) {
	case Welcome:
		if m.Peers == nil {
			m.Peers = []Peer{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			Welcome
		}{TypeWelcome, m})
	case PeerJoin:
		return json.Marshal(struct {
			Type string `json:"type"`
			PeerJoin
		}{TypePeerJoin, m})
	case PeerLeave:
		return json.Marshal(struct {
			Type string `json:"type"`
			PeerLeave
		}{TypePeerLeave, m})
	case PeerState:
		return json.Marshal(struct {
			Type string `json:"type"`
			PeerState
		}{TypePeerState, m})
	case PeerEmote:
		return json.Marshal(struct {
			Type string `json:"type"`
			PeerEmote
		}{TypePeerEmote, m})
	case ServerNotice:
		return json.Marshal(struct {
			Type string `json:"type"`
			ServerNotice
		}{TypeServerMessage, m})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
