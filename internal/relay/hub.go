package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skillrelay/internal/logger"
	"skillrelay/internal/protocol"
	"skillrelay/internal/recorder"
)

// Hub 中继核心：单协程（Run）持有全部房间与连接；读协程与 HTTP 处理器
// 通过 inbox 投递事件，每帧按到达顺序原子处理
type Hub struct {
	rooms   *RoomManager
	conns   map[string]*Connection
	metrics *Metrics
	rec     recorder.Recorder
	log     *zap.SugaredLogger

	inbox chan event
	done  chan struct{}
}

type event interface {
	handle(h *Hub)
}

type openEvent struct{ c *Connection }

type frameEvent struct {
	c       *Connection
	payload []byte
}

type closeEvent struct{ c *Connection }

type announceEvent struct {
	room  string
	text  string
	reply chan int
}

type roomsEvent struct{ reply chan []RoomInfo }

// RoomInfo 管理接口输出的房间信息
type RoomInfo struct {
	ID      string       `json:"id"`
	Members []MemberInfo `json:"members"`
}

type MemberInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	HasState bool   `json:"hasState"`
}

func NewHub(rec recorder.Recorder) *Hub {
	if rec == nil {
		rec = recorder.Nop{}
	}
	return &Hub{
		rooms:   NewRoomManager(),
		conns:   make(map[string]*Connection),
		metrics: &Metrics{},
		rec:     rec,
		log:     logger.Named("hub"),
		inbox:   make(chan event, 1024),
		done:    make(chan struct{}),
	}
}

func (h *Hub) Metrics() *Metrics { return h.metrics }

// Run 处理事件直到 ctx 取消，随后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.conns {
				c.out.Close()
			}
			h.log.Infow("hub stopped", "connections", len(h.conns))
			return
		case ev := <-h.inbox:
			ev.handle(h)
		}
	}
}

// post 将事件交给 hub 协程；hub 已停止时返回 false
func (h *Hub) post(ev event) bool {
	select {
	case h.inbox <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Open 登记新连接
func (h *Hub) Open(out outbound) *Connection {
	c := newConnection(out)
	h.post(openEvent{c})
	return c
}

// Frame 投递 c 的一个入站文本帧
func (h *Hub) Frame(c *Connection, payload []byte) {
	h.post(frameEvent{c: c, payload: payload})
}

// Close 投递 c 的移除
func (h *Hub) Close(c *Connection) {
	h.post(closeEvent{c})
}

// Announce 向房间（room 为空时向所有连接）发送 server_message，返回入队的连接数
func (h *Hub) Announce(ctx context.Context, room, text string) (int, error) {
	reply := make(chan int, 1)
	if !h.post(announceEvent{room: room, text: text, reply: reply}) {
		return 0, context.Canceled
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Rooms 列出当前房间及成员
func (h *Hub) Rooms(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	if !h.post(roomsEvent{reply: reply}) {
		return nil, context.Canceled
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e openEvent) handle(h *Hub) {
	h.conns[e.c.ID] = e.c
	h.metrics.IncOpened()
	h.log.Debugw("connection opened", "id", e.c.ID)
}

func (e frameEvent) handle(h *Hub) {
	if _, ok := h.conns[e.c.ID]; !ok {
		return
	}
	h.metrics.IncFrameIn()
	msg, err := protocol.DecodeClient(e.payload)
	if err != nil {
		h.metrics.IncMalformed()
		h.log.Debugw("frame dropped", "id", e.c.ID, "err", err)
		return
	}
	switch m := msg.(type) {
	case protocol.Hello:
		h.handleHello(e.c, m)
	case protocol.Profile:
		h.handleProfile(e.c, m)
	case protocol.StateUpdate:
		h.handleState(e.c, m)
	case protocol.Emote:
		h.handleEmote(e.c, m)
	default:
		h.metrics.IncMalformed()
	}
}

func (e closeEvent) handle(h *Hub) {
	c := e.c
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	delete(h.conns, c.ID)
	h.leaveRoom(c)
	c.out.Close()
	h.metrics.IncClosed()
	h.log.Debugw("connection closed", "id", c.ID)
}

func (e announceEvent) handle(h *Hub) {
	text := protocol.SanitizeNotice(e.text)
	if text == "" {
		e.reply <- 0
		return
	}
	// 空房间名表示全局广播
	room := e.room
	if room != "" {
		room = protocol.SanitizeRoom(room)
	}
	var targets []*Connection
	if room == "" {
		for _, c := range h.conns {
			targets = append(targets, c)
		}
	} else if r, ok := h.rooms.Get(room); ok {
		targets = r.snapshot()
	}
	n := h.sendAll(targets, nil, protocol.ServerNotice{Text: text})
	h.metrics.IncAnnounce()
	h.record(recorder.Event{Kind: recorder.KindAnnounce, Room: room, Text: text})
	h.log.Infow("announcement sent", "room", room, "recipients", n)
	e.reply <- n
}

func (e roomsEvent) handle(h *Hub) {
	out := make([]RoomInfo, 0, h.rooms.Len())
	for _, id := range h.rooms.IDs() {
		r, _ := h.rooms.Get(id)
		info := RoomInfo{ID: id, Members: make([]MemberInfo, 0, r.Len())}
		for _, c := range r.snapshot() {
			info.Members = append(info.Members, MemberInfo{
				ID: c.ID, Name: c.Name, Color: c.Color, HasState: c.State != nil,
			})
		}
		out = append(out, info)
	}
	e.reply <- out
}

// handleHello 加入（或重新加入）房间；已在房间内的连接先离开
func (h *Hub) handleHello(c *Connection, m protocol.Hello) {
	h.leaveRoom(c)

	c.Room = protocol.SanitizeRoom(m.Room)
	c.Name = protocol.SanitizeName(m.Name)
	c.Color = protocol.SanitizeColor(m.Color)
	c.State = nil

	existing := []*Connection{}
	if r, ok := h.rooms.Get(c.Room); ok {
		existing = r.snapshot()
	}
	_, created := h.rooms.Join(c.Room, c)
	h.metrics.SetRooms(h.rooms.Len())
	h.metrics.IncJoin()
	if created {
		h.log.Infow("room created", "room", c.Room)
	}

	peers := make([]protocol.Peer, 0, len(existing))
	for _, p := range existing {
		peers = append(peers, p.peer())
	}
	h.sendAll([]*Connection{c}, nil, protocol.Welcome{ID: c.ID, Room: c.Room, Peers: peers})
	h.sendAll(existing, nil, protocol.PeerJoin{Peer: c.peer()})

	h.record(recorder.Event{Kind: recorder.KindJoin, Room: c.Room, ID: c.ID, Name: c.Name})
	h.log.Infow("peer joined", "room", c.Room, "id", c.ID, "name", c.Name, "peers", len(existing))
}

func (h *Hub) handleProfile(c *Connection, m protocol.Profile) {
	if c.Room == "" {
		h.metrics.IncIgnored()
		return
	}
	if m.Name != nil {
		c.Name = protocol.SanitizeName(*m.Name)
	}
	if m.Color != nil && protocol.ValidColor(*m.Color) {
		c.Color = *m.Color
	}
	h.broadcastState(c)
}

func (h *Hub) handleState(c *Connection, m protocol.StateUpdate) {
	if c.Room == "" {
		h.metrics.IncIgnored()
		return
	}
	st := m.State.Sanitize()
	c.State = &st
	h.broadcastState(c)
}

func (h *Hub) handleEmote(c *Connection, m protocol.Emote) {
	if c.Room == "" {
		h.metrics.IncIgnored()
		return
	}
	emoji := protocol.SanitizeEmote(m.Emoji)
	if emoji == "" {
		return
	}
	r, ok := h.rooms.Get(c.Room)
	if !ok {
		return
	}
	h.sendAll(r.snapshot(), c, protocol.PeerEmote{ID: c.ID, Name: c.Name, Emoji: emoji})
}

func (h *Hub) broadcastState(c *Connection) {
	r, ok := h.rooms.Get(c.Room)
	if !ok {
		return
	}
	p := c.peer()
	h.sendAll(r.snapshot(), c, protocol.PeerState{ID: p.ID, Name: p.Name, Color: p.Color, State: p.State})
}

// leaveRoom 将 c 移出所在房间并通知剩余成员
func (h *Hub) leaveRoom(c *Connection) {
	if c.Room == "" {
		return
	}
	room := c.Room
	c.Room = ""
	r, destroyed := h.rooms.Leave(room, c)
	h.metrics.SetRooms(h.rooms.Len())
	if r != nil && !destroyed {
		h.sendAll(r.snapshot(), nil, protocol.PeerLeave{ID: c.ID})
	}
	if destroyed {
		h.log.Infow("room destroyed", "room", room)
	}
	h.record(recorder.Event{Kind: recorder.KindLeave, Room: room, ID: c.ID, Name: c.Name})
}

// sendAll 编码一次，发送给除 skip 外的所有目标，返回入队数
func (h *Hub) sendAll(targets []*Connection, skip *Connection, msg protocol.ServerMessage) int {
	if len(targets) == 0 {
		return 0
	}
	b, err := protocol.EncodeServer(msg)
	if err != nil {
		h.log.Errorw("encode failed", "type", msg.ServerType(), "err", err)
		return 0
	}
	n := 0
	for _, t := range targets {
		if t == skip {
			continue
		}
		if !t.out.Enqueue(b) {
			h.metrics.IncDropped()
			h.log.Debugw("send queue full, frame dropped", "id", t.ID, "type", msg.ServerType())
			continue
		}
		h.metrics.IncOut()
		n++
	}
	return n
}

func (h *Hub) record(ev recorder.Event) {
	ev.At = time.Now()
	if err := h.rec.Record(ev); err != nil {
		h.log.Warnw("record failed", "kind", ev.Kind, "err", err)
	}
}
