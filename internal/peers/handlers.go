package peers

import (
	"skillrelay/internal/client"
	"skillrelay/internal/protocol"
)

// Handlers 返回同步 reg 的客户端回调，处理后再转发给 base
func Handlers(reg *Registry, base client.Handlers) client.Handlers {
	return client.Handlers{
		OnConnected: func(c client.ConnectInfo) {
			reg.SetLocalID(c.ID)
			if base.OnConnected != nil {
				base.OnConnected(c)
			}
		},
		OnDisconnected: func(d client.DisconnectInfo) {
			reg.Clear()
			if base.OnDisconnected != nil {
				base.OnDisconnected(d)
			}
		},
		OnWelcome: func(w protocol.Welcome) {
			reg.SetSnapshot(w.Peers)
			if base.OnWelcome != nil {
				base.OnWelcome(w)
			}
		},
		OnPeerJoin: func(p protocol.Peer) {
			if reg.Upsert(p) && p.State != nil {
				reg.ApplyState(p.ID, *p.State)
			}
			if base.OnPeerJoin != nil {
				base.OnPeerJoin(p)
			}
		},
		OnPeerLeave: func(id string) {
			reg.Remove(id)
			if base.OnPeerLeave != nil {
				base.OnPeerLeave(id)
			}
		},
		OnPeerState: func(s protocol.PeerState) {
			if reg.Upsert(protocol.Peer{ID: s.ID, Name: s.Name, Color: s.Color}) && s.State != nil {
				reg.ApplyState(s.ID, *s.State)
			}
			if base.OnPeerState != nil {
				base.OnPeerState(s)
			}
		},
		OnPeerEmote:     base.OnPeerEmote,
		OnServerMessage: base.OnServerMessage,
	}
}
