// Package protocol 定义中继与实时客户端之间的 JSON 文本帧
// 每个方向是封闭的消息集合：ClientMessage（客户端→中继）、ServerMessage（中继→客户端）
package protocol

import (
	"encoding/json"
	"errors"
)

// 客户端→中继 消息类型
const (
	TypeHello   = "hello"
	TypeProfile = "profile"
	TypeState   = "state"
	TypeEmote   = "emote"
)

// 中继→客户端 消息类型
const (
	TypeWelcome       = "welcome"
	TypePeerJoin      = "peer_join"
	TypePeerLeave     = "peer_leave"
	TypePeerState     = "peer_state"
	TypePeerEmote     = "peer_emote"
	TypeServerMessage = "server_message"
)

var (
	ErrMissingType = errors.New("protocol: missing type")
	ErrUnknownType = errors.New("protocol: unknown type")
)

// BaseMessage 仅解析 type，用于先路由再解码消息体
type BaseMessage struct {
	Type string `json:"type"`
}

// DecodeBase 只读取 type 字段；缺失或非字符串返回 ErrMissingType
func DecodeBase(b []byte) (BaseMessage, error) {
	var raw struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return BaseMessage{}, err
	}
	t, ok := raw.Type.(string)
	if !ok || t == "" {
		return BaseMessage{}, ErrMissingType
	}
	return BaseMessage{Type: t}, nil
}
